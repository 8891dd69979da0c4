package logger

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "twittwebot"

// SpanContext wraps an OTel span for managed lifecycle.
// Use StartSpan() to begin a span and End() to complete it.
type SpanContext struct {
	ctx  context.Context
	span trace.Span
}

// StartSpan creates a new span as a child of the current trace context.
// Returns a SpanContext that must be ended with End().
//
// Example:
//
//	sc := logger.StartSpan(ctx, "bot.tick.popular", trace.WithSpanKind(trace.SpanKindInternal))
//	defer sc.End()
//	ctx = sc.Context()
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) *SpanContext {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, name, opts...)
	return &SpanContext{ctx: ctx, span: span}
}

// Context returns the context with the span attached.
// Use this context for all operations within the span's scope.
func (sc *SpanContext) Context() context.Context {
	return sc.ctx
}

// End completes the span. Must be called to ensure proper trace reporting.
// Safe to call multiple times (subsequent calls are no-ops).
func (sc *SpanContext) End() {
	if sc.span != nil {
		sc.span.End()
	}
}

// RecordError records an error on the span for observability.
func (sc *SpanContext) RecordError(err error) {
	if sc.span != nil && err != nil {
		sc.span.RecordError(err)
	}
}

// Span returns the underlying OTel span for advanced operations.
func (sc *SpanContext) Span() trace.Span {
	return sc.span
}
