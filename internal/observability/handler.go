package observability

import (
	"context"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// TracingHandler is a slog.Handler that stamps every record emitted inside
// an active span with the span's trace_id and span_id, so pipeline logs can
// be joined with the pipeline's own traces.
type TracingHandler struct {
	inner       slog.Handler
	serviceName string
}

// NewTracingHandler builds a JSON handler writing to w at the given level.
func NewTracingHandler(w io.Writer, level slog.Level, serviceName string) *TracingHandler {
	return &TracingHandler{
		inner: slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: level,
		}).WithAttrs([]slog.Attr{slog.String("service", serviceName)}),
		serviceName: serviceName,
	}
}

func (h *TracingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *TracingHandler) Handle(ctx context.Context, r slog.Record) error {
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		spanCtx := span.SpanContext()
		r.AddAttrs(
			slog.String("trace_id", spanCtx.TraceID().String()),
			slog.String("span_id", spanCtx.SpanID().String()),
		)
	}
	return h.inner.Handle(ctx, r)
}

func (h *TracingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TracingHandler{inner: h.inner.WithAttrs(attrs), serviceName: h.serviceName}
}

func (h *TracingHandler) WithGroup(name string) slog.Handler {
	return &TracingHandler{inner: h.inner.WithGroup(name), serviceName: h.serviceName}
}
