package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/conductor/job"
)

// tracerName is the instrumentation scope name for conductor tracing.
const tracerName = "github.com/xraph/conductor"

// Tracing returns middleware that wraps job execution in an OpenTelemetry span.
// If no TracerProvider is configured globally, the default noop tracer is used
// and this middleware becomes a pass-through.
//
// Span attributes: conductor.job.id, conductor.job.type, conductor.queue,
// conductor.attempt and, for children, conductor.parent_job.id.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		attrs := []attribute.KeyValue{
			attribute.String("conductor.job.id", j.ID),
			attribute.String("conductor.job.type", string(j.Type)),
			attribute.String("conductor.queue", j.Queue),
			attribute.Int("conductor.attempt", j.Attempts+1),
		}
		if j.ParentJobID != "" {
			attrs = append(attrs, attribute.String("conductor.parent_job.id", j.ParentJobID))
		}

		ctx, span := tracer.Start(ctx, "conductor.job.execute",
			trace.WithAttributes(attrs...),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
