// Package storage persists alerts, metrics, trace inventories and
// correlated logs for the dashboard backend.
package storage

import (
	"context"
	"errors"

	"github.com/pranavkale07/ObserveX/internal/telemetry"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Default query limits, matching the dashboard contract.
const (
	DefaultAlertLimit  = 50
	DefaultMetricLimit = 60
	HistoryLimit       = 20
)

// StoredAlert is an alert with its storage identity.
type StoredAlert struct {
	ID int64 `json:"id"`
	telemetry.Alert
}

// StoredMetric is a metric sample with its storage identity.
type StoredMetric struct {
	ID int64 `json:"id"`
	telemetry.Metric
}

// StoredTrace is a trace-inventory record with its ingest timestamp.
type StoredTrace struct {
	TraceID    string               `json:"trace_id"`
	DurationMs float64              `json:"duration_ms"`
	Spans      []telemetry.SpanInfo `json:"spans"`
	Timestamp  string               `json:"timestamp"`
}

// Store is the capability set the backend needs from its persistence layer.
// The SQLite implementation is the default; a remote database can replace it
// without touching the API or the hub.
type Store interface {
	SaveAlert(ctx context.Context, alert telemetry.Alert) error
	// ListAlerts returns up to limit alerts, newest first. An empty service
	// or the AllServices sentinel disables the service filter.
	ListAlerts(ctx context.Context, service string, limit int) ([]StoredAlert, error)

	SaveMetric(ctx context.Context, metric telemetry.Metric) error
	// ListMetrics returns up to limit samples of one metric type in
	// ascending id order, so the newest sample is last.
	ListMetrics(ctx context.Context, service, metricType string, limit int) ([]StoredMetric, error)

	// SaveTrace upserts a trace-inventory record by trace id.
	SaveTrace(ctx context.Context, trace telemetry.TraceInventory) error
	// GetTrace returns ErrNotFound when the trace is unknown.
	GetTrace(ctx context.Context, traceID string) (*StoredTrace, error)

	SaveLog(ctx context.Context, record telemetry.LogRecord) error
	ListLogs(ctx context.Context, traceID string, limit int) ([]telemetry.LogRecord, error)

	Close() error
}
