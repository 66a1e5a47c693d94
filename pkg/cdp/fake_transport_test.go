/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const fakeQueueCapacity = 1024

type sentMessage struct {
	ID     uint64  `json:"id"`
	Method string  `json:"method"`
	Params Payload `json:"params"`
}

// fakeResponder produces the reply frame for a sent message, or nil for no reply.
type fakeResponder func(msg sentMessage) []byte

// fakeTransport is an in-memory Transport. Tests feed it frames with deliver()
// and observe what the connection sent with nextSent().
type fakeTransport struct {
	lock      *sync.Mutex
	connected bool
	url       string

	connectErr  error
	connectGate chan struct{}
	responder   fakeResponder

	incoming   chan []byte
	failures   chan error
	sent       chan sentMessage
	closed     chan struct{}
	closeOnce  *sync.Once
	closeCount *atomic.Int32
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		lock:       &sync.Mutex{},
		incoming:   make(chan []byte, fakeQueueCapacity),
		failures:   make(chan error, 1),
		sent:       make(chan sentMessage, fakeQueueCapacity),
		closed:     make(chan struct{}),
		closeOnce:  &sync.Once{},
		closeCount: &atomic.Int32{},
	}
}

func (f *fakeTransport) Connect(ctx context.Context, url string) error {
	if f.connectGate != nil {
		select {
		case <-f.connectGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.connectErr != nil {
		return f.connectErr
	}

	f.lock.Lock()
	defer f.lock.Unlock()
	if f.connected {
		return ErrAlreadyConnected
	}
	f.connected = true
	f.url = url
	return nil
}

func (f *fakeTransport) Send(data []byte) error {
	f.lock.Lock()
	connected := f.connected
	f.lock.Unlock()
	if !connected {
		return ErrNotConnected
	}

	var msg sentMessage
	if unmarshalErr := json.Unmarshal(data, &msg); unmarshalErr != nil {
		return fmt.Errorf("fake transport received invalid message: %w", unmarshalErr)
	}
	f.sent <- msg

	if f.responder != nil {
		if reply := f.responder(msg); reply != nil {
			f.incoming <- reply
		}
	}
	return nil
}

func (f *fakeTransport) Receive(timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-f.closed:
		return nil, &TransportError{Op: "receive", Err: fmt.Errorf("%w: %w", ErrConnectionLost, ErrConnectionClosed)}
	case failure := <-f.failures:
		return nil, failure
	case data := <-f.incoming:
		return data, nil
	case <-timer.C:
		return nil, ErrReceiveTimeout
	}
}

func (f *fakeTransport) Close() error {
	f.closeCount.Add(1)
	f.lock.Lock()
	f.connected = false
	f.lock.Unlock()
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) deliver(frame string) {
	f.incoming <- []byte(frame)
}

func (f *fakeTransport) fail(err error) {
	f.failures <- err
}

func (f *fakeTransport) nextSent(t *testing.T) sentMessage {
	t.Helper()
	select {
	case msg := <-f.sent:
		return msg
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timed out waiting for a message to be sent")
		return sentMessage{}
	}
}

var _ Transport = (*fakeTransport)(nil)

// fakeTransportFactory creates a new fakeTransport for every Connect and remembers them.
type fakeTransportFactory struct {
	lock       *sync.Mutex
	transports []*fakeTransport
	configure  func(*fakeTransport)
}

func newFakeTransportFactory(configure func(*fakeTransport)) *fakeTransportFactory {
	return &fakeTransportFactory{
		lock:      &sync.Mutex{},
		configure: configure,
	}
}

func (ff *fakeTransportFactory) create() Transport {
	f := newFakeTransport()
	if ff.configure != nil {
		ff.configure(f)
	}

	ff.lock.Lock()
	defer ff.lock.Unlock()
	ff.transports = append(ff.transports, f)
	return f
}

func (ff *fakeTransportFactory) last() *fakeTransport {
	ff.lock.Lock()
	defer ff.lock.Unlock()
	if len(ff.transports) == 0 {
		return nil
	}
	return ff.transports[len(ff.transports)-1]
}

func (ff *fakeTransportFactory) count() int {
	ff.lock.Lock()
	defer ff.lock.Unlock()
	return len(ff.transports)
}

func replyFrame(id uint64, result string) string {
	return fmt.Sprintf(`{"id":%d,"result":%s}`, id, result)
}

func errorReplyFrame(id uint64, code int, message string) string {
	return fmt.Sprintf(`{"id":%d,"error":{"code":%d,"message":%q}}`, id, code, message)
}

func eventFrame(method string, params string) string {
	return fmt.Sprintf(`{"method":%q,"params":%s}`, method, params)
}

// echoResponder replies to every call with the call parameters as the result.
func echoResponder(msg sentMessage) []byte {
	result := msg.Params
	if len(result) == 0 {
		result = Payload(`{}`)
	}
	return []byte(replyFrame(msg.ID, string(result)))
}
