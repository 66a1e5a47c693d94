// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package cdp

import (
	"context"
	"time"
)

// Transport provides a byte-level duplex message channel to the remote endpoint.
//
// Send may be called concurrently with Receive, and implementations serialize concurrent
// Send calls. Receive has exactly one caller (the connection reader loop).
type Transport interface {
	// Connect opens the channel to the given URL.
	// Returns ErrAlreadyConnected if the transport is already connected.
	Connect(ctx context.Context, url string) error

	// Send writes one complete message.
	// Returns ErrNotConnected before Connect or after Close.
	Send(data []byte) error

	// Receive blocks until one complete message arrives or the timeout elapses.
	// On timeout it returns ErrReceiveTimeout, which is not fatal.
	// If the channel failed it returns an error matching ErrConnectionLost.
	Receive(timeout time.Duration) ([]byte, error)

	// Close releases the channel. Subsequent calls are no-ops.
	Close() error
}

// TransportFactory creates a fresh transport for every Connect.
type TransportFactory func() Transport
