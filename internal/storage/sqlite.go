package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pranavkale07/ObserveX/internal/telemetry"
)

const schema = `
CREATE TABLE IF NOT EXISTS alerts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	service TEXT,
	route TEXT,
	anomaly_score REAL,
	is_anomaly BOOLEAN,
	duration_ms REAL,
	trace_id TEXT,
	timestamp TEXT,
	spans_json TEXT
);
CREATE TABLE IF NOT EXISTS metrics (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	service TEXT,
	metric_type TEXT,
	value REAL,
	timestamp TEXT
);
CREATE TABLE IF NOT EXISTS trace_inventory (
	trace_id TEXT PRIMARY KEY,
	duration_ms REAL,
	spans_json TEXT,
	timestamp TEXT
);
CREATE TABLE IF NOT EXISTS correlated_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	trace_id TEXT,
	span_id TEXT,
	service TEXT,
	body TEXT,
	severity TEXT,
	timestamp TEXT
);
`

// SQLiteStore is the embedded default Store backed by a single database
// file. database/sql pools connections underneath, so one handle serves the
// API's concurrent requests.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and creates, if needed) the database at path and
// applies the schema. Use ":memory:" for tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db %s: %w", path, err)
	}

	// A single writer avoids SQLITE_BUSY under concurrent ingest.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveAlert(ctx context.Context, alert telemetry.Alert) error {
	spansJSON, err := json.Marshal(alert.Spans)
	if err != nil {
		return fmt.Errorf("marshal alert spans: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO alerts (service, route, anomaly_score, is_anomaly, duration_ms, trace_id, timestamp, spans_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.Service, alert.Route, alert.AnomalyScore, alert.IsAnomaly,
		alert.DurationMs, alert.TraceID, alert.Timestamp, string(spansJSON),
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListAlerts(ctx context.Context, service string, limit int) ([]StoredAlert, error) {
	if limit <= 0 {
		limit = DefaultAlertLimit
	}

	var rows *sql.Rows
	var err error
	if service != "" && service != telemetry.AllServices {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, service, route, anomaly_score, is_anomaly, duration_ms, trace_id, timestamp, spans_json
			 FROM alerts WHERE service = ? ORDER BY id DESC LIMIT ?`, service, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, service, route, anomaly_score, is_anomaly, duration_ms, trace_id, timestamp, spans_json
			 FROM alerts ORDER BY id DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []StoredAlert
	for rows.Next() {
		var alert StoredAlert
		var spansJSON string
		err := rows.Scan(&alert.ID, &alert.Service, &alert.Route, &alert.AnomalyScore,
			&alert.IsAnomaly, &alert.DurationMs, &alert.TraceID, &alert.Timestamp, &spansJSON)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		if spansJSON != "" {
			if err := json.Unmarshal([]byte(spansJSON), &alert.Spans); err != nil {
				return nil, fmt.Errorf("rehydrate alert spans: %w", err)
			}
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

func (s *SQLiteStore) SaveMetric(ctx context.Context, metric telemetry.Metric) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO metrics (service, metric_type, value, timestamp) VALUES (?, ?, ?, ?)`,
		metric.Service, metric.MetricType, metric.Value, metric.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert metric: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListMetrics(ctx context.Context, service, metricType string, limit int) ([]StoredMetric, error) {
	if limit <= 0 {
		limit = DefaultMetricLimit
	}

	var rows *sql.Rows
	var err error
	if service == telemetry.AllServices || service == "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, service, metric_type, value, timestamp
			 FROM metrics WHERE metric_type = ? ORDER BY id DESC LIMIT ?`, metricType, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, service, metric_type, value, timestamp
			 FROM metrics WHERE service = ? AND metric_type = ? ORDER BY id DESC LIMIT ?`,
			service, metricType, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	var metrics []StoredMetric
	for rows.Next() {
		var metric StoredMetric
		err := rows.Scan(&metric.ID, &metric.Service, &metric.MetricType, &metric.Value, &metric.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		metrics = append(metrics, metric)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Charts want ascending time; reverse the DESC page so the newest
	// sample is last.
	for i, j := 0, len(metrics)-1; i < j; i, j = i+1, j-1 {
		metrics[i], metrics[j] = metrics[j], metrics[i]
	}
	return metrics, nil
}

func (s *SQLiteStore) SaveTrace(ctx context.Context, trace telemetry.TraceInventory) error {
	spansJSON, err := json.Marshal(trace.Spans)
	if err != nil {
		return fmt.Errorf("marshal trace spans: %w", err)
	}

	// Ingest time is assigned here, not taken from the processor.
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO trace_inventory (trace_id, duration_ms, spans_json, timestamp)
		 VALUES (?, ?, ?, ?)`,
		trace.TraceID, trace.DurationMs, string(spansJSON), telemetry.NowUTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert trace %s: %w", trace.TraceID, err)
	}
	return nil
}

func (s *SQLiteStore) GetTrace(ctx context.Context, traceID string) (*StoredTrace, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT trace_id, duration_ms, spans_json, timestamp FROM trace_inventory WHERE trace_id = ?`,
		traceID)

	var trace StoredTrace
	var spansJSON string
	err := row.Scan(&trace.TraceID, &trace.DurationMs, &spansJSON, &trace.Timestamp)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query trace %s: %w", traceID, err)
	}

	if err := json.Unmarshal([]byte(spansJSON), &trace.Spans); err != nil {
		return nil, fmt.Errorf("rehydrate trace spans: %w", err)
	}
	return &trace, nil
}

func (s *SQLiteStore) SaveLog(ctx context.Context, record telemetry.LogRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO correlated_logs (trace_id, span_id, service, body, severity, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		record.TraceID, record.SpanID, record.ServiceName, record.Body, record.Severity, record.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert log: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListLogs(ctx context.Context, traceID string, limit int) ([]telemetry.LogRecord, error) {
	if limit <= 0 {
		limit = DefaultAlertLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT trace_id, span_id, service, body, severity, timestamp
		 FROM correlated_logs WHERE trace_id = ? ORDER BY id ASC LIMIT ?`, traceID, limit)
	if err != nil {
		return nil, fmt.Errorf("query logs for %s: %w", traceID, err)
	}
	defer rows.Close()

	var logs []telemetry.LogRecord
	for rows.Next() {
		var record telemetry.LogRecord
		err := rows.Scan(&record.TraceID, &record.SpanID, &record.ServiceName,
			&record.Body, &record.Severity, &record.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		logs = append(logs, record)
	}
	return logs, rows.Err()
}
