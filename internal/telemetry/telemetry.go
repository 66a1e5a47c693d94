package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Runs fn inside a new span. The error returned by fn (if any) is recorded on the span.
func CallWithTelemetry[TResult any](
	tracer trace.Tracer,
	spanName string,
	parentCtx context.Context,
	fn func(ctx context.Context) (TResult, error),
	attrs ...attribute.KeyValue,
) (TResult, error) {
	spanCtx, span := tracer.Start(parentCtx, spanName, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
	defer span.End()

	result, err := fn(spanCtx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

type TelemetryAttribute interface {
	int | int64 | bool | float64 | string
}

// Sets an attribute on the span stored in the context (no-op if there is none).
func SetAttribute[T TelemetryAttribute](ctx context.Context, key string, value T) {
	span := trace.SpanFromContext(ctx)

	switch v := (any)(value).(type) {
	case int:
		span.SetAttributes(attribute.Int(key, v))
	case int64:
		span.SetAttributes(attribute.Int64(key, v))
	case bool:
		span.SetAttributes(attribute.Bool(key, v))
	case float64:
		span.SetAttributes(attribute.Float64(key, v))
	case string:
		span.SetAttributes(attribute.String(key, v))
	}
}
