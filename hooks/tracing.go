package hooks

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracingHook implements OpenTelemetry tracing
type TracingHook struct {
	tracer trace.Tracer
}

// NewTracingHook creates a new tracing hook
func NewTracingHook(tracer trace.Tracer) *TracingHook {
	return &TracingHook{tracer: tracer}
}

// ConnectionAction records a client span covering the completed action.
// The span is reconstructed from the event's start time and duration since
// hooks run after the action finishes.
func (h *TracingHook) ConnectionAction(ctx context.Context, event Event) {
	if h.tracer == nil {
		return
	}

	_, span := h.tracer.Start(ctx, "db."+event.Op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithTimestamp(event.StartedAt),
	)

	attrs := []attribute.KeyValue{
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", event.Op),
		attribute.Int64("db.connection_id", event.ConnectionID),
	}
	if event.Query != "" {
		attrs = append(attrs, attribute.String("db.statement", truncateQuery(event.Query)))
	}
	span.SetAttributes(attrs...)

	if event.Err != nil {
		span.RecordError(event.Err)
		span.SetStatus(codes.Error, event.Err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End(trace.WithTimestamp(event.StartedAt.Add(event.Duration)))
}
