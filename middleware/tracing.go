package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/pulse/job"
)

// tracerName is the instrumentation scope name for pulse tracing.
const tracerName = "github.com/xraph/pulse"

// Tracing returns middleware that wraps job execution in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware becomes a
// pass-through with zero overhead.
//
// Span attributes include: pulse.job.id, pulse.job.type, pulse.queue,
// pulse.attempt. On error the span status is set to codes.Error with
// the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided
// tracer. This variant allows injecting a specific TracerProvider for
// testing or when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (*job.Result, error) {
		ctx, span := tracer.Start(ctx, "pulse.job.execute",
			trace.WithAttributes(
				attribute.String("pulse.job.id", j.ID.String()),
				attribute.String("pulse.job.type", j.Type),
				attribute.String("pulse.queue", j.Queue),
				attribute.Int("pulse.attempt", j.AttemptsMade+1),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		res, err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return res, err
	}
}
