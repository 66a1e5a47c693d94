/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/smallnest/chanx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MichaelBrunn3r/cdpy-sub000/internal/pubsub"
	"github.com/MichaelBrunn3r/cdpy-sub000/internal/telemetry"
)

const (
	eventQueueInitialCapacity = 64
	tracerName                = "github.com/MichaelBrunn3r/cdpy-sub000/pkg/cdp"
)

// Token identifies a subscription and is used to remove it.
type Token uint64

// session holds everything that lives for the duration of one physical connection.
type session struct {
	transport Transport
	pending   *pendingCallTable
	events    *chanx.UnboundedChan[Envelope]

	// ctx is cancelled when shutdown begins; both loops watch it.
	// The cancellation cause is the error that ended the session (context.Canceled for Disconnect).
	ctx    context.Context
	cancel context.CancelCauseFunc

	// abortDial cancels an in-progress Connect; aborted records that Disconnect asked for it.
	// Both are protected by the connection lock.
	abortDial context.CancelFunc
	aborted   bool

	readerDone     chan struct{}
	dispatcherDone chan struct{}

	// done is closed when the session reached the Disconnected state.
	done chan struct{}
}

// Connection is one logical session with a DevTools target over one physical transport.
//
// Calls and subscriptions are safe for concurrent use. Event handlers run sequentially on
// a single dispatcher goroutine; they may call Call, Subscribe and Unsubscribe, but must not
// call Disconnect synchronously (use "go conn.Disconnect()" instead).
type Connection struct {
	config  ConnectionConfig
	log     logr.Logger
	metrics *connectionMetrics
	tracer  trace.Tracer

	// nextID is never reset, so call ids are unique for the lifetime of the Connection.
	nextID *atomic.Uint64

	// Subscriptions outlive sessions; they can be managed in any state.
	subscriptions *pubsub.Registry[Payload]

	// lock protects the fields below
	lock    *sync.Mutex
	state   ConnectionState
	url     string
	session *session
}

// NewConnection creates a Connection in the Disconnected state.
func NewConnection(config ConnectionConfig) *Connection {
	config = config.withDefaults()

	metrics, metricsErr := newConnectionMetrics(config.MeterProvider)
	if metricsErr != nil {
		config.Log.Error(metricsErr, "Failed to create some connection metrics, they will not be reported")
	}

	return &Connection{
		config:        config,
		log:           config.Log,
		metrics:       metrics,
		tracer:        config.TracerProvider.Tracer(tracerName),
		nextID:        &atomic.Uint64{},
		subscriptions: pubsub.NewRegistry[Payload](),
		lock:          &sync.Mutex{},
		state:         StateDisconnected,
	}
}

// State returns the current connection state.
func (c *Connection) State() ConnectionState {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.state
}

// URL returns the endpoint of the most recent Connect.
func (c *Connection) URL() string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.url
}

// PendingCalls returns the number of calls awaiting a reply.
func (c *Connection) PendingCalls() int {
	c.lock.Lock()
	var pending *pendingCallTable
	if c.session != nil {
		// Set by Connect under the lock once the transport is up.
		pending = c.session.pending
	}
	c.lock.Unlock()

	if pending == nil {
		return 0
	}
	return pending.Len()
}

// Connect opens the transport to the given URL and starts the reader and dispatcher loops.
// Returns ErrAlreadyConnected unless the connection is Disconnected.
// On failure the connection returns to Disconnected and the transport error is returned.
func (c *Connection) Connect(ctx context.Context, url string) error {
	c.lock.Lock()
	if c.state != StateDisconnected {
		c.lock.Unlock()
		return ErrAlreadyConnected
	}

	dialCtx, abortDial := context.WithCancel(ctx)
	defer abortDial()

	s := &session{
		abortDial:      abortDial,
		readerDone:     make(chan struct{}),
		dispatcherDone: make(chan struct{}),
		done:           make(chan struct{}),
	}
	c.state = StateConnecting
	c.url = url
	c.session = s
	c.lock.Unlock()

	log := c.log.WithValues("URL", url)
	log.V(1).Info("Connecting...")

	transport := c.config.Transport()
	connectErr := transport.Connect(dialCtx, url)

	c.lock.Lock()
	if connectErr == nil && s.aborted {
		connectErr = ErrConnectionClosed
		if closeErr := transport.Close(); closeErr != nil {
			log.V(1).Info("Failed to close transport of an aborted connection", "Error", closeErr)
		}
	}
	if connectErr != nil {
		c.state = StateDisconnected
		c.session = nil
		c.lock.Unlock()
		close(s.done)
		log.V(1).Info("Connection attempt failed", "Error", connectErr)
		return fmt.Errorf("failed to connect to '%s': %w", url, connectErr)
	}

	sessionCtx, cancelSession := context.WithCancelCause(context.Background())
	s.transport = transport
	s.pending = newPendingCallTable()
	s.events = chanx.NewUnboundedChan[Envelope](sessionCtx, eventQueueInitialCapacity)
	s.ctx = sessionCtx
	s.cancel = cancelSession

	go c.readLoop(s)
	go c.dispatchLoop(s)

	c.state = StateConnected
	c.lock.Unlock()

	log.Info("Connected")
	return nil
}

// Disconnect stops both loops, closes the transport and completes all outstanding calls
// with ErrConnectionClosed. Calling it on a disconnected connection is a no-op;
// concurrent callers all return once the connection is Disconnected.
func (c *Connection) Disconnect() error {
	c.lock.Lock()
	s := c.session

	switch c.state {
	case StateDisconnected:
		c.lock.Unlock()
		return nil

	case StateConnecting:
		s.aborted = true
		s.abortDial()
		c.lock.Unlock()
		<-s.done
		return nil

	case StateDisconnecting:
		c.lock.Unlock()
		<-s.done
		return nil
	}

	c.beginShutdownLocked(s, nil)
	c.lock.Unlock()

	return c.finishShutdown(s, false)
}

// Wait blocks until the connection is Disconnected or the timeout elapses (ErrWaitTimeout).
// A timeout <= 0 waits without limit. Wait never initiates a disconnect.
func (c *Connection) Wait(timeout time.Duration) error {
	c.lock.Lock()
	if c.state == StateDisconnected {
		c.lock.Unlock()
		return nil
	}
	done := c.session.done
	c.lock.Unlock()

	if timeout <= 0 {
		<-done
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrWaitTimeout
	}
}

// Call sends a command and waits for its reply.
//
// The returned error is a *RemoteError if the peer answered with an error, matches ErrCallTimeout
// if the context deadline passed, matches ErrConnectionClosed if the connection shut down,
// or ErrNotConnected if the connection is not Connected. If ctx has no deadline,
// ConnectionConfig.CallTimeout applies.
func (c *Connection) Call(ctx context.Context, method string, params Payload) (Payload, error) {
	result, err := telemetry.CallWithTelemetry(c.tracer, "cdp.Call", ctx, func(spanCtx context.Context) (Payload, error) {
		return c.call(spanCtx, method, params)
	}, attribute.String("cdp.method", method))

	if err != nil {
		c.metrics.add(c.metrics.callFailures)
	}
	return result, err
}

// CallWithTimeout is like Call, with the deadline given as a duration.
// A timeout <= 0 means ConnectionConfig.CallTimeout applies.
func (c *Connection) CallWithTimeout(method string, params Payload, timeout time.Duration) (Payload, error) {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return c.Call(ctx, method, params)
}

func (c *Connection) call(ctx context.Context, method string, params Payload) (Payload, error) {
	c.lock.Lock()
	if c.state != StateConnected {
		c.lock.Unlock()
		return nil, ErrNotConnected
	}
	s := c.session
	c.lock.Unlock()

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.config.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.CallTimeout)
		defer cancel()
	}

	id := c.nextID.Add(1)
	telemetry.SetAttribute(ctx, "cdp.call.id", int64(id))

	data, encodeErr := c.config.Codec.Encode(&id, method, params)
	if encodeErr != nil {
		return nil, encodeErr
	}

	pc, registerErr := s.pending.Register(id)
	if registerErr != nil {
		return nil, registerErr
	}
	c.metrics.add(c.metrics.calls)
	c.metrics.pendingCalls.Add(context.Background(), 1)
	defer c.metrics.pendingCalls.Add(context.Background(), -1)

	if sendErr := s.transport.Send(data); sendErr != nil {
		if s.pending.Remove(id) {
			return nil, fmt.Errorf("failed to send '%s' call: %w", method, sendErr)
		}
		// Completed concurrently (the connection is shutting down).
		return c.callOutcome(method, <-pc.done)
	}

	select {
	case res := <-pc.done:
		return c.callOutcome(method, res)

	case <-ctx.Done():
		if !s.pending.Remove(id) {
			return c.callOutcome(method, <-pc.done)
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			c.log.V(1).Info("Call timed out", "Method", method, "ID", id)
			return nil, fmt.Errorf("%w: no reply to '%s' (id %d): %w", ErrCallTimeout, method, id, ctx.Err())
		}
		return nil, ctx.Err()

	case <-s.ctx.Done():
		if !s.pending.Remove(id) {
			return c.callOutcome(method, <-pc.done)
		}
		return nil, s.closedError()
	}
}

func (c *Connection) callOutcome(method string, res callResult) (Payload, error) {
	var remoteErr *RemoteError
	if errors.As(res.err, &remoteErr) {
		return nil, fmt.Errorf("'%s' call failed: %w", method, res.err)
	}
	if res.err != nil {
		return nil, res.err
	}
	return res.result, nil
}

// Subscribe registers a handler for events with the given method name.
// Handlers for the same event run in subscription order. Valid in any state.
func (c *Connection) Subscribe(event string, handler func(Payload)) Token {
	return c.SubscribeWithError(event, func(p Payload) error {
		handler(p)
		return nil
	})
}

// SubscribeWithError is like Subscribe, but the handler can report a failure.
// Failures are logged and counted; they never stop event dispatch.
func (c *Connection) SubscribeWithError(event string, handler func(Payload) error) Token {
	return Token(c.subscriptions.Subscribe(event, handler))
}

// SubscribeEvent registers a handler that receives the event parameters decoded into T.
// Parameters that cannot be decoded are reported as a handler failure.
func SubscribeEvent[T any](c *Connection, event string, handler func(T)) Token {
	return c.SubscribeWithError(event, func(p Payload) error {
		var params T
		if unmarshalErr := json.Unmarshal(p, &params); unmarshalErr != nil {
			return fmt.Errorf("failed to decode parameters of event '%s': %w", event, unmarshalErr)
		}
		handler(params)
		return nil
	})
}

// Unsubscribe removes the subscription. Removing an unknown subscription is a no-op.
func (c *Connection) Unsubscribe(event string, token Token) {
	if !c.subscriptions.Unsubscribe(event, pubsub.HandleT(token)) {
		c.log.V(1).Info("Ignoring removal of unknown subscription", "Event", event, "Token", token)
	}
}

// Subscribers returns the number of handlers subscribed to the event.
func (c *Connection) Subscribers(event string) int {
	return c.subscriptions.Len(event)
}

// Moves a Connected session to Disconnecting and signals both loops to stop.
// A nil cause means the application asked for the disconnect.
// Must be called with the connection lock held.
func (c *Connection) beginShutdownLocked(s *session, cause error) {
	c.state = StateDisconnecting
	s.pending.Seal()
	s.cancel(cause)
}

// Initiates shutdown on behalf of the reader loop.
// Returns false if the session is already shutting down.
func (c *Connection) beginShutdown(s *session, cause error) bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.session != s || c.state != StateConnected {
		return false
	}
	c.beginShutdownLocked(s, cause)
	return true
}

// closedError is the error reported to calls that were outstanding when the session ended.
func (s *session) closedError() error {
	if cause := s.failureCause(); cause != nil {
		return fmt.Errorf("%w: %w", ErrConnectionClosed, cause)
	}
	return ErrConnectionClosed
}

// failureCause returns the error that ended the session, or nil if it was closed by Disconnect.
func (s *session) failureCause() error {
	cause := context.Cause(s.ctx)
	if errors.Is(cause, context.Canceled) {
		return nil
	}
	return cause
}

// Joins the loops, closes the transport, completes outstanding calls and moves to Disconnected.
func (c *Connection) finishShutdown(s *session, fromReader bool) error {
	if !fromReader {
		<-s.readerDone
	}
	<-s.dispatcherDone

	closeErr := s.transport.Close()
	if closeErr != nil {
		c.log.V(1).Info("Failed to close transport", "Error", closeErr)
	}

	if abandoned := s.pending.FulfillAll(s.closedError()); abandoned > 0 {
		c.log.V(1).Info("Outstanding calls completed with connection closed error", "Count", abandoned)
	}

	c.lock.Lock()
	c.state = StateDisconnected
	c.session = nil
	c.lock.Unlock()
	close(s.done)

	if cause := s.failureCause(); cause != nil {
		c.log.Info("Disconnected", "Cause", cause.Error())
	} else {
		c.log.Info("Disconnected")
	}
	return closeErr
}
