package observability

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// GetTraceID returns the current span's trace ID, or "" if none, for
// logging.OpWithTrace to attach to operational log lines.
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().HasTraceID() {
		return ""
	}
	return span.SpanContext().TraceID().String()
}

// GetSpanID returns the current span's span ID, or "" if none.
func GetSpanID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().HasSpanID() {
		return ""
	}
	return span.SpanContext().SpanID().String()
}
