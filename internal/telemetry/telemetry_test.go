package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newRecordingTracer() (trace.Tracer, *tracetest.SpanRecorder) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	return tp.Tracer("telemetry-test"), recorder
}

func TestCallWithTelemetry(t *testing.T) {
	t.Parallel()
	tracer, recorder := newRecordingTracer()

	result, err := CallWithTelemetry(tracer, "op", context.Background(), func(ctx context.Context) (int, error) {
		SetAttribute(ctx, "count", 3)
		SetAttribute(ctx, "name", "x")
		SetAttribute(ctx, "enabled", true)
		return 42, nil
	}, attribute.String("initial", "yes"))
	require.NoError(t, err)
	assert.Equal(t, 42, result)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "op", spans[0].Name())
	assert.Equal(t, trace.SpanKindClient, spans[0].SpanKind())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.ElementsMatch(t, []attribute.KeyValue{
		attribute.String("initial", "yes"),
		attribute.Int("count", 3),
		attribute.String("name", "x"),
		attribute.Bool("enabled", true),
	}, spans[0].Attributes())
}

func TestCallWithTelemetryRecordsErrors(t *testing.T) {
	t.Parallel()
	tracer, recorder := newRecordingTracer()

	failure := errors.New("remote failure")
	_, err := CallWithTelemetry(tracer, "op", context.Background(), func(context.Context) (string, error) {
		return "", failure
	})
	require.ErrorIs(t, err, failure)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "remote failure", spans[0].Status().Description)
	require.Len(t, spans[0].Events(), 1, "the error is recorded as a span event")
}

func TestSetAttributeWithoutSpan(t *testing.T) {
	t.Parallel()

	// No span in the context; must not panic.
	SetAttribute(context.Background(), "key", 1.5)
}
