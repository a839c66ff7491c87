// Package emitter posts derived events to the dashboard backend.
package emitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pranavkale07/ObserveX/internal/observability"
	"github.com/pranavkale07/ObserveX/internal/telemetry"
)

// DefaultTimeout bounds one post end to end. The dataflow is the source of
// truth; a slow backend must never stall a window close.
const DefaultTimeout = time.Second

// Emitter posts events to the dashboard's ingest endpoints. It implements
// pipeline.EventSink.
type Emitter struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger

	// Metrics, if set, records the duration of each post.
	Metrics *observability.MetricsManager
}

// New builds an emitter for the dashboard at baseURL.
func New(baseURL string, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		baseURL: baseURL,
		client:  &http.Client{Timeout: DefaultTimeout},
		logger:  logger,
	}
}

func (e *Emitter) post(ctx context.Context, path, eventType string, payload any) error {
	if e.Metrics != nil {
		start := time.Now()
		defer func() {
			e.Metrics.RecordEmitDuration(ctx, eventType, time.Since(start))
		}()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload for %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	// The response body is irrelevant to the dataflow; drain it so the
	// connection can be reused.
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("post %s: status %d", path, resp.StatusCode)
	}
	return nil
}

func (e *Emitter) EmitTrace(ctx context.Context, trace telemetry.TraceInventory) error {
	return e.post(ctx, "/api/traces", "trace", trace)
}

func (e *Emitter) EmitAlert(ctx context.Context, alert telemetry.Alert) error {
	return e.post(ctx, "/api/alerts", "alert", alert)
}

func (e *Emitter) EmitMetric(ctx context.Context, metric telemetry.Metric) error {
	return e.post(ctx, "/api/metrics", "metric", metric)
}

func (e *Emitter) EmitLog(ctx context.Context, record telemetry.LogRecord) error {
	return e.post(ctx, "/api/logs", "log", record)
}
