/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package cdp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"

	"github.com/MichaelBrunn3r/cdpy-sub000/pkg/resiliency"
)

type wsTransportState uint32

const (
	wsStateDisconnected wsTransportState = 0x1
	wsStateConnecting   wsTransportState = 0x2
	wsStateConnected    wsTransportState = 0x4
)

func (s wsTransportState) String() string {
	switch s {
	case wsStateDisconnected:
		return "Disconnected"
	case wsStateConnecting:
		return "Connecting"
	case wsStateConnected:
		return "Connected"
	default:
		return "Unknown"
	}
}

// WebSocketTransportConfig configures the WebSocket transport.
type WebSocketTransportConfig struct {
	// Timeout for the WebSocket opening handshake.
	HandshakeTimeout time.Duration

	// Timeout for writing a single message.
	WriteTimeout time.Duration

	// If non-zero, ping frames are sent with this period and the connection is considered lost
	// if no data (or pong) arrives within three periods.
	KeepAlivePeriod time.Duration

	// If non-zero, failed dial attempts are retried with exponential back-off for at most this long.
	DialRetryTimeout time.Duration

	// Additional HTTP headers sent with the handshake request.
	Header http.Header

	Log logr.Logger
}

type wsFrame struct {
	data []byte
	err  error
}

// wsTransport implements Transport over a WebSocket connection.
type wsTransport struct {
	config WebSocketTransportConfig
	dialer *websocket.Dialer

	// lock protects the fields below
	lock  *sync.Mutex
	state wsTransportState
	conn  *websocket.Conn
	// frames carries messages from the pump goroutine to Receive()
	frames chan wsFrame
	// closed is closed by Close() to stop the pump and keepalive goroutines
	closed chan struct{}
	// pumpDone is closed when the pump goroutine exits
	pumpDone chan struct{}
	// readErr is the sticky error reported once the pump failed
	readErr error

	// writeMu serializes writes to the connection
	writeMu *sync.Mutex
}

// NewWebSocketTransport creates a Transport backed by a gorilla/websocket client connection.
func NewWebSocketTransport(config WebSocketTransportConfig) Transport {
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = defaultHandshakeTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaultWriteTimeout
	}
	if config.Log.GetSink() == nil {
		config.Log = logr.Discard()
	}

	return &wsTransport{
		config: config,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout,
		},
		lock:    &sync.Mutex{},
		state:   wsStateDisconnected,
		writeMu: &sync.Mutex{},
	}
}

func (t *wsTransport) Connect(ctx context.Context, url string) error {
	t.lock.Lock()
	if t.state != wsStateDisconnected {
		t.lock.Unlock()
		return ErrAlreadyConnected
	}
	t.state = wsStateConnecting
	t.lock.Unlock()

	conn, dialErr := t.dial(ctx, url)
	if dialErr != nil {
		t.lock.Lock()
		t.state = wsStateDisconnected
		t.lock.Unlock()
		return &TransportError{Op: "connect", Err: dialErr}
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	if t.state != wsStateConnecting {
		// Closed while the handshake was in progress.
		_ = conn.Close()
		return &TransportError{Op: "connect", Err: ErrConnectionClosed}
	}

	t.conn = conn
	t.frames = make(chan wsFrame)
	t.closed = make(chan struct{})
	t.pumpDone = make(chan struct{})
	t.readErr = nil
	t.state = wsStateConnected

	if t.config.KeepAlivePeriod > 0 {
		deadlineErr := conn.SetReadDeadline(time.Now().Add(t.keepAliveTimeout()))
		if deadlineErr != nil {
			t.config.Log.V(1).Info("Failed to set read deadline on WebSocket connection", "Error", deadlineErr)
		}
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(t.keepAliveTimeout()))
		})
		go t.doPinging(conn, t.closed)
	}

	go t.pump(conn, t.frames, t.closed, t.pumpDone)

	t.config.Log.V(1).Info("WebSocket connection established", "URL", url)
	return nil
}

func (t *wsTransport) dial(ctx context.Context, url string) (*websocket.Conn, error) {
	dialOnce := func() (*websocket.Conn, error) {
		conn, resp, err := t.dialer.DialContext(ctx, url, t.config.Header)
		if err == nil {
			return conn, nil
		}

		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil {
			// The endpoint exists but refused the upgrade, retrying will not help.
			return nil, resiliency.Permanent(fmt.Errorf("%w (HTTP status %d)", err, resp.StatusCode))
		}
		if ctx.Err() != nil {
			return nil, resiliency.Permanent(err)
		}

		t.config.Log.V(1).Info("Failed to connect to WebSocket endpoint", "URL", url, "Error", err)
		return nil, err
	}

	if t.config.DialRetryTimeout <= 0 {
		return dialOnce()
	}

	return resiliency.RetryGet(ctx, resiliency.ExponentialBackoff(t.config.DialRetryTimeout), dialOnce)
}

func (t *wsTransport) Send(data []byte) error {
	t.lock.Lock()
	if t.state != wsStateConnected {
		t.lock.Unlock()
		return ErrNotConnected
	}
	conn := t.conn
	t.lock.Unlock()

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if deadlineErr := conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout)); deadlineErr != nil {
		return &TransportError{Op: "send", Err: deadlineErr}
	}

	if writeErr := conn.WriteMessage(websocket.TextMessage, data); writeErr != nil {
		return &TransportError{Op: "send", Err: writeErr}
	}

	return nil
}

func (t *wsTransport) Receive(timeout time.Duration) ([]byte, error) {
	t.lock.Lock()
	if t.state != wsStateConnected {
		t.lock.Unlock()
		return nil, &TransportError{Op: "receive", Err: ErrNotConnected}
	}
	if t.readErr != nil {
		readErr := t.readErr
		t.lock.Unlock()
		return nil, readErr
	}
	frames, closed := t.frames, t.closed
	t.lock.Unlock()

	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case frame := <-frames:
		if frame.err != nil {
			readErr := &TransportError{Op: "receive", Err: fmt.Errorf("%w: %w", ErrConnectionLost, frame.err)}
			t.lock.Lock()
			t.readErr = readErr
			t.lock.Unlock()
			return nil, readErr
		}
		return frame.data, nil

	case <-closed:
		return nil, &TransportError{Op: "receive", Err: fmt.Errorf("%w: %w", ErrConnectionLost, ErrConnectionClosed)}

	case <-timeoutC:
		return nil, ErrReceiveTimeout
	}
}

func (t *wsTransport) Close() error {
	t.lock.Lock()
	if t.state == wsStateConnecting {
		// Connect() will notice and discard the connection once the handshake completes.
		t.state = wsStateDisconnected
		t.lock.Unlock()
		return nil
	}
	if t.state != wsStateConnected {
		t.lock.Unlock()
		return nil
	}

	t.state = wsStateDisconnected
	conn, pumpDone := t.conn, t.pumpDone
	t.conn = nil
	close(t.closed)
	t.lock.Unlock()

	// Closing the connection is a best-effort operation, so we log errors as "info" entries.
	closeMsgErr := conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(100*time.Millisecond),
	)
	if closeMsgErr != nil && !errors.Is(closeMsgErr, websocket.ErrCloseSent) {
		t.config.Log.V(1).Info("Failed to send close message to WebSocket endpoint", "Error", closeMsgErr)
	}

	closeErr := conn.Close()
	<-pumpDone

	if closeErr != nil {
		return &TransportError{Op: "close", Err: closeErr}
	}
	return nil
}

func (t *wsTransport) pump(conn *websocket.Conn, frames chan<- wsFrame, closed <-chan struct{}, pumpDone chan<- struct{}) {
	defer close(pumpDone)

	for {
		// Ping and pong frames are handled by the websocket library, close frames surface as CloseError.
		_, data, readErr := conn.ReadMessage()
		if readErr != nil {
			select {
			case frames <- wsFrame{err: readErr}:
			case <-closed:
			}
			return
		}

		if t.config.KeepAlivePeriod > 0 {
			if deadlineErr := conn.SetReadDeadline(time.Now().Add(t.keepAliveTimeout())); deadlineErr != nil {
				t.config.Log.V(1).Info("Failed to reset read deadline on WebSocket connection", "Error", deadlineErr)
			}
		}

		select {
		case frames <- wsFrame{data: data}:
		case <-closed:
			return
		}
	}
}

func (t *wsTransport) doPinging(conn *websocket.Conn, closed <-chan struct{}) {
	ticker := time.NewTicker(t.config.KeepAlivePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
			pingErr := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.config.WriteTimeout))
			if pingErr != nil && !isNetTimeout(pingErr) {
				t.config.Log.V(1).Info("Failed to send ping message to WebSocket endpoint", "Error", pingErr)
			}
		}
	}
}

func (t *wsTransport) keepAliveTimeout() time.Duration {
	return 3 * t.config.KeepAlivePeriod
}

var _ Transport = (*wsTransport)(nil)
