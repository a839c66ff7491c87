package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TraceManager starts the processor's own spans. Logs emitted inside these
// spans carry the span's trace_id via the TracingHandler.
type TraceManager struct {
	tracer trace.Tracer
}

func NewTraceManager(scopeName string) *TraceManager {
	return &TraceManager{
		tracer: otel.Tracer(scopeName),
	}
}

func (tm *TraceManager) StartSpan(ctx context.Context, operationName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tm.tracer.Start(ctx, operationName, trace.WithAttributes(attrs...))
}

// StartWindowCloseSpan traces the fan-out of one closed trace aggregate.
func (tm *TraceManager) StartWindowCloseSpan(ctx context.Context, traceID string, spanCount int, anomalous bool) (context.Context, trace.Span) {
	return tm.tracer.Start(ctx, "close_window", trace.WithAttributes(
		attribute.String("window.trace_id", traceID),
		attribute.Int("window.span_count", spanCount),
		attribute.Bool("window.anomalous", anomalous),
	))
}

func (tm *TraceManager) RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func (tm *TraceManager) SetSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
