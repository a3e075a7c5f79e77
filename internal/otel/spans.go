package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Standard attribute keys for deskhand spans.
var (
	AttrWatcher    = attribute.Key("deskhand.watcher")
	AttrTaskID     = attribute.Key("deskhand.task.id")
	AttrActionID   = attribute.Key("deskhand.action.id")
	AttrActionType = attribute.Key("deskhand.action.type")
	AttrPriority   = attribute.Key("deskhand.task.priority")
	AttrStatus     = attribute.Key("deskhand.task.status")
	AttrConfidence = attribute.Key("deskhand.action.confidence")
)

// StartSpan is a convenience wrapper that starts an internal span with common
// attributes. A nil tracer yields a no-op span.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("deskhand")
	}
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartClientSpan starts a span for an outbound call (reasoning CLI, channel API).
func StartClientSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("deskhand")
	}
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}
