/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package cdp

import (
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MichaelBrunn3r/cdpy-sub000/pkg/osutil"
)

const (
	CDP_RECEIVE_POLL_INTERVAL = "CDP_RECEIVE_POLL_INTERVAL" // How often the reader loop checks for shutdown while no message arrives
	CDP_CALL_TIMEOUT          = "CDP_CALL_TIMEOUT"          // Timeout for calls made with a context that has no deadline (0 disables)
	CDP_KEEPALIVE_PERIOD      = "CDP_KEEPALIVE_PERIOD"      // WebSocket ping period (0 disables)
	CDP_HANDSHAKE_TIMEOUT     = "CDP_HANDSHAKE_TIMEOUT"     // WebSocket handshake timeout
	CDP_DIAL_RETRY_TIMEOUT    = "CDP_DIAL_RETRY_TIMEOUT"    // How long to retry failed dial attempts (0 disables retries)
)

var (
	defaultReceivePollInterval = 1 * time.Second
	defaultCallTimeout         = 30 * time.Second
	defaultHandshakeTimeout    = 10 * time.Second
	defaultWriteTimeout        = 10 * time.Second
)

// ConnectionConfig configures a Connection. The zero value is usable:
// missing fields are filled from the environment and built-in defaults.
type ConnectionConfig struct {
	// Translates calls and envelopes to and from wire bytes. Defaults to NewJSONCodec().
	Codec Codec

	// Creates the transport for every Connect. Defaults to a WebSocket transport.
	Transport TransportFactory

	// How long a single Transport.Receive waits before the reader loop re-checks for shutdown.
	// This bounds Disconnect latency.
	ReceivePollInterval time.Duration

	// Deadline applied to calls whose context has no deadline. Negative disables it.
	CallTimeout time.Duration

	// Meter and tracer providers. Default to the global OpenTelemetry providers.
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider

	Log logr.Logger
}

// DefaultWebSocketTransportConfig returns the WebSocket transport configuration
// derived from environment variables.
func DefaultWebSocketTransportConfig(log logr.Logger) WebSocketTransportConfig {
	return WebSocketTransportConfig{
		HandshakeTimeout: osutil.EnvVarDurationValWithDefault(CDP_HANDSHAKE_TIMEOUT, defaultHandshakeTimeout),
		WriteTimeout:     defaultWriteTimeout,
		KeepAlivePeriod:  osutil.EnvVarDurationValWithDefault(CDP_KEEPALIVE_PERIOD, 0),
		DialRetryTimeout: osutil.EnvVarDurationValWithDefault(CDP_DIAL_RETRY_TIMEOUT, 0),
		Log:              log,
	}
}

func (cfg ConnectionConfig) withDefaults() ConnectionConfig {
	if cfg.Log.GetSink() == nil {
		cfg.Log = logr.Discard()
	}
	if cfg.Codec == nil {
		cfg.Codec = NewJSONCodec()
	}
	if cfg.Transport == nil {
		wsConfig := DefaultWebSocketTransportConfig(cfg.Log.WithName("transport"))
		cfg.Transport = func() Transport {
			return NewWebSocketTransport(wsConfig)
		}
	}
	if cfg.ReceivePollInterval <= 0 {
		cfg.ReceivePollInterval = osutil.EnvVarDurationValWithDefault(CDP_RECEIVE_POLL_INTERVAL, defaultReceivePollInterval)
		if cfg.ReceivePollInterval <= 0 {
			cfg.ReceivePollInterval = defaultReceivePollInterval
		}
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = osutil.EnvVarDurationValWithDefault(CDP_CALL_TIMEOUT, defaultCallTimeout)
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	return cfg
}
