/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package cdp

import (
	"fmt"

	"github.com/MichaelBrunn3r/cdpy-sub000/internal/pubsub"
	"github.com/MichaelBrunn3r/cdpy-sub000/pkg/resiliency"
)

// dispatchLoop is the only consumer of the event queue.
// Events still queued when the session is cancelled are discarded.
func (c *Connection) dispatchLoop(s *session) {
	defer close(s.dispatcherDone)

	for {
		select {
		case <-s.ctx.Done():
			return

		case env, isOpen := <-s.events.Out:
			if !isOpen || s.ctx.Err() != nil {
				return
			}
			c.dispatch(env)
		}
	}
}

// dispatch invokes the handlers subscribed to the event, in subscription order.
// The handler list is a snapshot, so (un)subscribing from a handler affects only later events.
func (c *Connection) dispatch(env Envelope) {
	subs := c.subscriptions.Subscriptions(env.Method)
	if len(subs) == 0 {
		return
	}

	for _, sub := range subs {
		if handlerErr := c.invokeHandler(sub, env.Payload); handlerErr != nil {
			c.metrics.add(c.metrics.handlerFailures)
			c.log.Error(handlerErr, "Event handler failed", "Event", env.Method, "Token", sub.Handle)
		}
	}

	c.metrics.add(c.metrics.eventsDispatched)
}

func (c *Connection) invokeHandler(sub *pubsub.Subscription[Payload], params Payload) (err error) {
	defer func() {
		if panicErr := resiliency.MakePanicError(recover(), c.log); panicErr != nil {
			err = fmt.Errorf("%w: handler panicked: %w", ErrHandlerFailed, panicErr)
		}
	}()

	if handlerErr := sub.Handler(params); handlerErr != nil {
		return fmt.Errorf("%w: %w", ErrHandlerFailed, handlerErr)
	}
	return nil
}
