package pipeline

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/pranavkale07/ObserveX/internal/observability"
	"github.com/pranavkale07/ObserveX/internal/telemetry"
)

// alertSpanLimit truncates the span list carried inside an alert payload.
const alertSpanLimit = 10

// EventSink receives the events derived at window close. The HTTP emitter is
// the production implementation.
type EventSink interface {
	EmitTrace(ctx context.Context, trace telemetry.TraceInventory) error
	EmitAlert(ctx context.Context, alert telemetry.Alert) error
	EmitMetric(ctx context.Context, metric telemetry.Metric) error
	EmitLog(ctx context.Context, record telemetry.LogRecord) error
}

// CloseHandler turns a closed (trace, window) aggregate into downstream
// events: the forensic trace record and correlated logs for anomalous
// traces, per-service throughput and latency samples, and per-service
// alerts. Emit failures are logged and dropped; the dataflow never blocks on
// the backend.
type CloseHandler struct {
	Sink    EventSink
	Logs    *LogBuffer
	Logger  *slog.Logger
	Metrics *observability.MetricsManager
	Traces  *observability.TraceManager
}

func NewCloseHandler(sink EventSink, logs *LogBuffer, logger *slog.Logger) *CloseHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloseHandler{
		Sink:   sink,
		Logs:   logs,
		Logger: logger,
	}
}

// HandleClose processes one closed trace aggregate.
func (h *CloseHandler) HandleClose(ctx context.Context, closed ClosedTrace) {
	agg := closed.Aggregate
	if len(agg.Spans) == 0 {
		return
	}

	if h.Traces != nil {
		var span trace.Span
		ctx, span = h.Traces.StartWindowCloseSpan(ctx, closed.TraceID, len(agg.Spans), agg.HasAnomaly)
		defer span.End()
	}

	if h.Metrics != nil {
		h.Metrics.IncrementWindowsClosed(ctx, agg.HasAnomaly)
	}

	if agg.HasAnomaly {
		h.emitTrace(ctx, closed)
		h.flushLogs(ctx, closed.TraceID)
	} else if h.Logs != nil {
		h.Logs.Discard(closed.TraceID)
	}

	for _, service := range servicesSeen(agg.Spans) {
		h.emitServiceEvents(ctx, closed.TraceID, service, agg.Spans)
	}
}

func (h *CloseHandler) emitTrace(ctx context.Context, closed ClosedTrace) {
	err := h.Sink.EmitTrace(ctx, telemetry.TraceInventory{
		TraceID:    closed.TraceID,
		DurationMs: closed.Aggregate.DurationMs,
		Spans:      closed.Aggregate.Spans,
	})
	h.countEmit(ctx, "trace", err)
	if err != nil {
		h.Logger.ErrorContext(ctx, "Failed to emit trace inventory",
			"trace_id", closed.TraceID,
			"error", err,
		)
	}
}

func (h *CloseHandler) flushLogs(ctx context.Context, traceID string) {
	if h.Logs == nil {
		return
	}
	correlated := h.Logs.Flush(traceID)
	for _, record := range correlated {
		err := h.Sink.EmitLog(ctx, record)
		h.countEmit(ctx, "log", err)
		if err != nil {
			h.Logger.ErrorContext(ctx, "Failed to emit correlated log",
				"trace_id", traceID,
				"error", err,
			)
		}
	}
	h.Logger.InfoContext(ctx, "Flushed correlated logs for anomalous trace",
		"count", len(correlated),
		"trace_id", shortTraceID(traceID),
	)
}

func (h *CloseHandler) emitServiceEvents(ctx context.Context, traceID, service string, spans []telemetry.SpanInfo) {
	var serviceSpans []telemetry.SpanInfo
	total := 0.0
	anomalous := false
	for _, span := range spans {
		if span.Service != service {
			continue
		}
		serviceSpans = append(serviceSpans, span)
		total += span.DurationMs
		if span.IsAnomaly {
			anomalous = true
		}
	}
	if len(serviceSpans) == 0 {
		return
	}
	avgLatency := total / float64(len(serviceSpans))
	now := telemetry.NowUTC()

	h.emitMetric(ctx, telemetry.Metric{
		Service:    service,
		MetricType: telemetry.MetricThroughput,
		Value:      float64(len(serviceSpans)),
		Timestamp:  now,
	})
	h.emitMetric(ctx, telemetry.Metric{
		Service:    service,
		MetricType: telemetry.MetricP99Latency,
		Value:      avgLatency,
		Timestamp:  now,
	})

	if !anomalous {
		return
	}

	alertSpans := serviceSpans
	if len(alertSpans) > alertSpanLimit {
		alertSpans = alertSpans[:alertSpanLimit]
	}

	err := h.Sink.EmitAlert(ctx, telemetry.Alert{
		Service: service,
		Route:   serviceSpans[0].Name,
		// Kept at 1.0 for wire compatibility with existing dashboards, even
		// though the max constituent score carries more information.
		AnomalyScore: 1.0,
		IsAnomaly:    true,
		DurationMs:   avgLatency,
		TraceID:      traceID,
		Timestamp:    now,
		Spans:        alertSpans,
	})
	h.countEmit(ctx, "alert", err)
	if err != nil {
		h.Logger.ErrorContext(ctx, "Failed to emit alert",
			"service", service,
			"trace_id", traceID,
			"error", err,
		)
	}
}

func (h *CloseHandler) emitMetric(ctx context.Context, metric telemetry.Metric) {
	err := h.Sink.EmitMetric(ctx, metric)
	h.countEmit(ctx, "metric", err)
	if err != nil {
		h.Logger.ErrorContext(ctx, "Failed to emit metric",
			"service", metric.Service,
			"metric_type", metric.MetricType,
			"error", err,
		)
	}
}

func (h *CloseHandler) countEmit(ctx context.Context, eventType string, err error) {
	if h.Metrics == nil {
		return
	}
	if err != nil {
		h.Metrics.IncrementEmitFailures(ctx, eventType)
	} else {
		h.Metrics.IncrementEventsEmitted(ctx, eventType)
	}
}

// servicesSeen returns the distinct services in first-seen order.
func servicesSeen(spans []telemetry.SpanInfo) []string {
	seen := make(map[string]bool, len(spans))
	var services []string
	for _, span := range spans {
		if !seen[span.Service] {
			seen[span.Service] = true
			services = append(services, span.Service)
		}
	}
	return services
}

func shortTraceID(traceID string) string {
	if len(traceID) > 12 {
		return traceID[:12]
	}
	return traceID
}
