/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package cdp

import (
	"errors"
	"fmt"
	"net"
	"os"
)

var (
	// ErrNotConnected is returned when an operation requires an established connection.
	ErrNotConnected = errors.New("not connected")

	// ErrAlreadyConnected is returned when Connect is called on a connection (or transport)
	// that has not been disconnected since the last successful Connect.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrConnectionClosed is reported to every outstanding call when the connection shuts down.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrConnectionLost is returned by Transport.Receive when the underlying socket failed.
	// It is fatal for the connection.
	ErrConnectionLost = errors.New("connection lost")

	// ErrReceiveTimeout is returned by Transport.Receive when no message arrived in time.
	// It is not fatal; the caller should try again.
	ErrReceiveTimeout = errors.New("receive timeout")

	// ErrCallTimeout is returned when a call does not receive a reply before its deadline.
	ErrCallTimeout = errors.New("call timeout")

	// ErrWaitTimeout is returned by Wait when the connection is still alive after the timeout.
	ErrWaitTimeout = errors.New("wait timeout")

	// ErrDuplicateID is returned when a call id is registered twice.
	ErrDuplicateID = errors.New("duplicate call id")

	// ErrProtocol indicates a frame that could not be decoded.
	ErrProtocol = errors.New("protocol error")

	// ErrStaleReply indicates a reply for an id that is not pending (already fulfilled, timed out, or unknown).
	ErrStaleReply = errors.New("stale reply")

	// ErrHandlerFailed indicates an event handler returned an error or panicked.
	ErrHandlerFailed = errors.New("event handler failed")
)

// TransportError describes a failure of a transport operation (connect, send, receive).
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RemoteError is the error object carried by an error reply.
type RemoteError struct {
	Code    int     `json:"code"`
	Message string  `json:"message"`
	Data    Payload `json:"data,omitempty"`
}

func (e *RemoteError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("remote error %d: %s (%s)", e.Code, e.Message, string(e.Data))
	}
	return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
}

// IsTimeout returns true if the error is a recoverable timeout (call, wait or receive timeout).
func IsTimeout(err error) bool {
	return errors.Is(err, ErrCallTimeout) ||
		errors.Is(err, ErrWaitTimeout) ||
		errors.Is(err, ErrReceiveTimeout)
}

// IsConnectionError returns true if the error indicates the connection is unusable
// and the caller has to reconnect explicitly.
func IsConnectionError(err error) bool {
	var transportErr *TransportError
	return errors.Is(err, ErrConnectionClosed) ||
		errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, ErrNotConnected) ||
		errors.As(err, &transportErr)
}

func isNetTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}
