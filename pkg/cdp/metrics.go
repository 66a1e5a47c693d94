// Copyright (c) Microsoft Corporation. All rights reserved.

package cdp

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/MichaelBrunn3r/cdpy-sub000/pkg/cdp"

type connectionMetrics struct {
	calls            metric.Int64Counter
	callFailures     metric.Int64Counter
	pendingCalls     metric.Int64UpDownCounter
	eventsReceived   metric.Int64Counter
	eventsDispatched metric.Int64Counter
	handlerFailures  metric.Int64Counter
	staleReplies     metric.Int64Counter
	malformedFrames  metric.Int64Counter
}

func newConnectionMetrics(mp metric.MeterProvider) (*connectionMetrics, error) {
	meter := mp.Meter(meterName)
	var errs []error

	counter := func(name, description string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(description), metric.WithUnit("1"))
		if err != nil {
			errs = append(errs, err)
			c, _ = noop.NewMeterProvider().Meter(meterName).Int64Counter(name)
		}
		return c
	}

	pendingCalls, pendingErr := meter.Int64UpDownCounter("cdp.calls.pending", metric.WithDescription("Number of calls awaiting a reply"), metric.WithUnit("1"))
	if pendingErr != nil {
		errs = append(errs, pendingErr)
		pendingCalls, _ = noop.NewMeterProvider().Meter(meterName).Int64UpDownCounter("cdp.calls.pending")
	}

	m := &connectionMetrics{
		calls:            counter("cdp.calls", "Number of calls sent"),
		callFailures:     counter("cdp.call.failures", "Number of calls that ended with an error, including error replies and timeouts"),
		pendingCalls:     pendingCalls,
		eventsReceived:   counter("cdp.events.received", "Number of events received from the wire"),
		eventsDispatched: counter("cdp.events.dispatched", "Number of events delivered to at least one handler"),
		handlerFailures:  counter("cdp.handler.failures", "Number of event handler invocations that failed or panicked"),
		staleReplies:     counter("cdp.replies.stale", "Number of replies that did not match a pending call"),
		malformedFrames:  counter("cdp.frames.malformed", "Number of frames dropped because they could not be decoded"),
	}

	return m, errors.Join(errs...)
}

func (m *connectionMetrics) add(counter metric.Int64Counter, options ...metric.AddOption) {
	counter.Add(context.Background(), 1, options...)
}
