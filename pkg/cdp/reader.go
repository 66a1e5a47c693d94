/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package cdp

import (
	"errors"
	"fmt"
)

// Frames longer than this are truncated when logged.
const maxLoggedFrameLen = 256

// readLoop is the only caller of Transport.Receive. It fulfills pending calls with replies
// and hands events over to the dispatcher through the (unbounded) event queue,
// so a slow event handler never stalls reading from the socket.
func (c *Connection) readLoop(s *session) {
	defer close(s.readerDone)

	for {
		if s.ctx.Err() != nil {
			return
		}

		data, receiveErr := s.transport.Receive(c.config.ReceivePollInterval)
		if errors.Is(receiveErr, ErrReceiveTimeout) {
			continue
		}
		if receiveErr != nil {
			c.shutdownFromReader(s, receiveErr, "Connection lost")
			return
		}

		env, decodeErr := c.config.Codec.Decode(data)
		if decodeErr != nil {
			if !errors.Is(decodeErr, ErrProtocol) {
				c.shutdownFromReader(s, decodeErr, "Codec failed, closing connection")
				return
			}
			c.metrics.add(c.metrics.malformedFrames)
			c.log.Error(decodeErr, "Dropping malformed frame", "Frame", truncateFrame(data))
			continue
		}

		switch env.Kind {
		case ReplyEnvelope:
			res := callResult{result: env.Payload}
			if env.Err != nil {
				res = callResult{err: env.Err}
			}
			if !s.pending.Fulfill(env.ID, res) {
				c.metrics.add(c.metrics.staleReplies)
				c.log.Info("Ignoring reply", "ID", env.ID, "Reason", fmt.Errorf("%w: no pending call with this id", ErrStaleReply).Error())
			}

		case EventEnvelope:
			c.metrics.add(c.metrics.eventsReceived)
			select {
			case s.events.In <- env:
			case <-s.ctx.Done():
				return
			}

		default:
			c.log.Info("Ignoring envelope of unknown kind", "Kind", env.Kind)
		}
	}
}

func (c *Connection) shutdownFromReader(s *session, cause error, msg string) {
	if s.ctx.Err() != nil {
		// Disconnect is in progress, the error is an expected side effect.
		return
	}

	c.log.Error(cause, msg)
	if c.beginShutdown(s, cause) {
		_ = c.finishShutdown(s, true)
	}
}

func truncateFrame(data []byte) string {
	if len(data) <= maxLoggedFrameLen {
		return string(data)
	}
	return string(data[:maxLoggedFrameLen]) + "..."
}
