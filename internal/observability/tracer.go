// Package observability provides OpenTelemetry span helpers used by the
// orchestrator to open one span per Boot call and one per Generate call,
// tagged with the model id or request id.
//
// Grounded on the teacher's internal/observability/tracer.go: the same
// StartSpan/SetSpanError/SetSpanOK shape, with the VM-fleet attribute
// keys replaced by this module's FSM/provider/retry vocabulary.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan creates a new internal span with the given name and attributes.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// SetSpanError marks the span as errored.
func SetSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanOK marks the span as successful.
func SetSpanOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// Attribute keys the orchestrator attaches to per-state spans.
var (
	AttrState           = attribute.Key("llmcore.fsm.state")
	AttrRequestID       = attribute.Key("llmcore.request_id")
	AttrProviderID      = attribute.Key("llmcore.provider.id")
	AttrProviderChosen  = attribute.Key("llmcore.provider.chosen")
	AttrModelID         = attribute.Key("llmcore.model.id")
	AttrRetryAttempt    = attribute.Key("llmcore.retry.attempt")
	AttrCacheEvicted    = attribute.Key("llmcore.cache.evicted_bytes")
	AttrDurationMs      = attribute.Key("llmcore.duration_ms")
)
