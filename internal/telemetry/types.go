// Package telemetry defines the wire-level data model shared by the stream
// processor and the dashboard backend. Field names and JSON tags follow the
// dashboard's HTTP contract, so changing a tag here is a breaking change for
// every connected operator dashboard.
package telemetry

import "time"

// Metric type names as they appear on the wire.
//
// MetricP99Latency is emitted as a window mean, not a p99. The name is
// historical and preserved for dashboard compatibility.
const (
	MetricThroughput     = "throughput"
	MetricP99Latency     = "p99_latency"
	MetricRedactionCount = "redaction_count"
)

// AllServices is the sentinel service filter meaning "do not filter".
const AllServices = "All Services"

// Span is a single scored unit of work extracted from an OTLP trace payload.
type Span struct {
	TraceID      string  `json:"trace_id"`
	SpanID       string  `json:"span_id"`
	ParentSpanID string  `json:"parent_span_id,omitempty"`
	ServiceName  string  `json:"service_name"`
	SpanName     string  `json:"span_name"`
	Route        string  `json:"route"`
	DurationMs   float64 `json:"duration_ms"`
	StartTime    string  `json:"start_time"`
	StatusCode   int     `json:"status_code"`
	AnomalyScore float64 `json:"anomaly_score"`
	IsAnomaly    bool    `json:"is_anomaly"`
}

// LogRecord is a single log line extracted from an OTLP logs payload.
// TraceID may be empty when the emitting service logged outside a request.
type LogRecord struct {
	TraceID     string `json:"trace_id"`
	SpanID      string `json:"span_id"`
	ServiceName string `json:"service_name"`
	Body        string `json:"body"`
	Severity    string `json:"severity"`
	Timestamp   string `json:"timestamp"`
}

// SpanInfo is the projection of a span carried inside trace aggregates,
// alerts and trace-inventory records.
type SpanInfo struct {
	Name       string  `json:"name"`
	Service    string  `json:"service"`
	DurationMs float64 `json:"duration_ms"`
	StartTime  string  `json:"start_time"`
	TraceID    string  `json:"trace_id"`
	IsAnomaly  bool    `json:"is_anomaly"`
}

// TraceAggregate is the fold state for one (trace_id, window) key.
// DurationMs is the max of the constituent span durations, an intentional
// approximation of the trace's span.
type TraceAggregate struct {
	DurationMs float64    `json:"duration_ms"`
	Spans      []SpanInfo `json:"spans"`
	HasAnomaly bool       `json:"has_anomaly"`
	StartTime  string     `json:"start_time"`
}

// Alert is the per-service anomaly event posted to /api/alerts.
type Alert struct {
	Service      string     `json:"service"`
	Route        string     `json:"route"`
	AnomalyScore float64    `json:"anomaly_score"`
	IsAnomaly    bool       `json:"is_anomaly"`
	DurationMs   float64    `json:"duration_ms"`
	TraceID      string     `json:"trace_id"`
	Timestamp    string     `json:"timestamp"`
	Spans        []SpanInfo `json:"spans,omitempty"`
}

// Metric is a single sample posted to /api/metrics.
type Metric struct {
	Service    string  `json:"service"`
	MetricType string  `json:"metric_type"`
	Value      float64 `json:"value"`
	Timestamp  string  `json:"timestamp"`
}

// TraceInventory is the forensic record of an anomalous trace posted to
// /api/traces. Upserted by trace_id.
type TraceInventory struct {
	TraceID    string     `json:"trace_id"`
	DurationMs float64    `json:"duration_ms"`
	Spans      []SpanInfo `json:"spans"`
	Timestamp  string     `json:"timestamp,omitempty"`
}

// NowUTC returns the current time formatted the way every timestamp on the
// wire is formatted.
func NowUTC() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
