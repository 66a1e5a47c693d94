/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

/*
Package cdp provides a client transport for the Chrome DevTools Protocol (CDP) and
similar JSON-RPC-like remote debugging protocols.

# Architecture Overview

A single WebSocket carries two message streams: replies to commands issued by the client
(correlated by a numeric id) and unsolicited events (identified by a method name).

# Key Components

  - Connection: the public API and connection state machine
  - Transport: byte-level message channel; the default implementation uses gorilla/websocket
  - Codec: translates calls and envelopes to and from wire bytes (JSONCodec for CDP)
  - pending-call table: correlates replies with waiting callers, fulfilling each call exactly once
  - reader loop: the only goroutine receiving from the transport
  - dispatcher loop: the only goroutine running event handlers

# Data Flow

 1. Call allocates the next id, registers a pending call, encodes and sends the command
 2. The reader loop receives a frame and decodes it
 3. A reply fulfills the pending call with the same id and the caller returns
 4. An event is queued; the dispatcher invokes the event's handlers in subscription order

The event queue is unbounded, so slow handlers create backlog but never block the reader
loop. A handler that fails or panics is logged and does not affect other handlers or events.

# Usage

	conn := cdp.NewConnection(cdp.ConnectionConfig{Log: log})
	if err := conn.Connect(ctx, target.WebSocketDebuggerURL); err != nil {
		return err
	}
	defer conn.Disconnect()

	token := cdp.SubscribeEvent(conn, "Page.loadEventFired", func(e struct{ Timestamp float64 }) {
		log.Info("Page loaded", "Timestamp", e.Timestamp)
	})
	defer conn.Unsubscribe("Page.loadEventFired", token)

	_, err := conn.Call(ctx, "Page.enable", nil)

# Shutdown

Disconnect signals both loops through a shared context, waits for them to exit, closes the
transport and completes every outstanding call with ErrConnectionClosed. If the transport
fails, the reader loop performs the same shutdown. Disconnect latency is bounded by
ConnectionConfig.ReceivePollInterval.
*/
package cdp
