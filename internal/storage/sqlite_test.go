package storage

import (
	"context"
	"fmt"
	"testing"

	"github.com/pranavkale07/ObserveX/internal/telemetry"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAlertsOrderedNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := store.SaveAlert(ctx, telemetry.Alert{
			Service: "quote",
			Route:   fmt.Sprintf("/r%d", i),
			TraceID: fmt.Sprintf("t%d", i),
			Spans:   []telemetry.SpanInfo{{Name: "/quote", Service: "quote"}},
		})
		if err != nil {
			t.Fatalf("SaveAlert: %v", err)
		}
	}

	alerts, err := store.ListAlerts(ctx, "", 0)
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}
	if len(alerts) != 5 {
		t.Fatalf("Expected 5 alerts, got %d", len(alerts))
	}
	for i := 1; i < len(alerts); i++ {
		if alerts[i].ID >= alerts[i-1].ID {
			t.Errorf("Expected strictly decreasing ids, got %d then %d", alerts[i-1].ID, alerts[i].ID)
		}
	}
	if len(alerts[0].Spans) != 1 {
		t.Errorf("Expected spans rehydrated from JSON, got %+v", alerts[0].Spans)
	}
}

func TestAlertsServiceFilterAndSentinel(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.SaveAlert(ctx, telemetry.Alert{Service: "quote", TraceID: "t1"})
	store.SaveAlert(ctx, telemetry.Alert{Service: "checkout", TraceID: "t2"})

	quote, err := store.ListAlerts(ctx, "quote", 0)
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}
	if len(quote) != 1 || quote[0].Service != "quote" {
		t.Errorf("Expected only quote alerts, got %+v", quote)
	}

	all, err := store.ListAlerts(ctx, telemetry.AllServices, 0)
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("Expected sentinel to return all alerts, got %d", len(all))
	}
}

func TestAlertsLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		store.SaveAlert(ctx, telemetry.Alert{Service: "quote", TraceID: fmt.Sprintf("t%d", i)})
	}

	alerts, err := store.ListAlerts(ctx, "", HistoryLimit)
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}
	if len(alerts) != HistoryLimit {
		t.Errorf("Expected %d alerts, got %d", HistoryLimit, len(alerts))
	}
}

func TestMetricsAscendingWithNewestLast(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 70; i++ {
		store.SaveMetric(ctx, telemetry.Metric{
			Service:    "quote",
			MetricType: telemetry.MetricThroughput,
			Value:      float64(i),
		})
	}
	// Other metric types must not leak into the listing.
	store.SaveMetric(ctx, telemetry.Metric{Service: "quote", MetricType: telemetry.MetricP99Latency, Value: 999})

	metrics, err := store.ListMetrics(ctx, "quote", telemetry.MetricThroughput, 0)
	if err != nil {
		t.Fatalf("ListMetrics: %v", err)
	}
	if len(metrics) != DefaultMetricLimit {
		t.Fatalf("Expected %d samples, got %d", DefaultMetricLimit, len(metrics))
	}
	for i := 1; i < len(metrics); i++ {
		if metrics[i].ID <= metrics[i-1].ID {
			t.Errorf("Expected strictly increasing ids, got %d then %d", metrics[i-1].ID, metrics[i].ID)
		}
	}
	if metrics[len(metrics)-1].Value != 69 {
		t.Errorf("Expected the newest sample last, got value %f", metrics[len(metrics)-1].Value)
	}
}

func TestMetricsAllServicesSentinel(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.SaveMetric(ctx, telemetry.Metric{Service: "a", MetricType: telemetry.MetricThroughput, Value: 1})
	store.SaveMetric(ctx, telemetry.Metric{Service: "b", MetricType: telemetry.MetricThroughput, Value: 2})

	metrics, err := store.ListMetrics(ctx, telemetry.AllServices, telemetry.MetricThroughput, 0)
	if err != nil {
		t.Fatalf("ListMetrics: %v", err)
	}
	if len(metrics) != 2 {
		t.Errorf("Expected both services with the sentinel, got %d", len(metrics))
	}
}

func TestTraceUpsertAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := telemetry.TraceInventory{
		TraceID:    "abc",
		DurationMs: 100,
		Spans:      []telemetry.SpanInfo{{Name: "/quote", Service: "quote", DurationMs: 100}},
	}
	if err := store.SaveTrace(ctx, first); err != nil {
		t.Fatalf("SaveTrace: %v", err)
	}

	// Upsert: a second save for the same trace id replaces the record.
	second := first
	second.DurationMs = 1500
	second.Spans = append(second.Spans, telemetry.SpanInfo{Name: "/quote", Service: "quote", DurationMs: 1500})
	if err := store.SaveTrace(ctx, second); err != nil {
		t.Fatalf("SaveTrace upsert: %v", err)
	}

	trace, err := store.GetTrace(ctx, "abc")
	if err != nil {
		t.Fatalf("GetTrace: %v", err)
	}
	if trace.DurationMs != 1500 {
		t.Errorf("Expected upserted duration 1500, got %f", trace.DurationMs)
	}
	if len(trace.Spans) != 2 {
		t.Errorf("Expected 2 spans after upsert, got %d", len(trace.Spans))
	}
	if trace.Timestamp == "" {
		t.Error("Expected a server-side ingest timestamp")
	}
}

func TestGetTraceNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetTrace(context.Background(), "missing")
	if err != ErrNotFound {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestLogsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := store.SaveLog(ctx, telemetry.LogRecord{
			TraceID:     "abc",
			ServiceName: "quote",
			Body:        fmt.Sprintf("line %d", i),
			Severity:    "ERROR",
		})
		if err != nil {
			t.Fatalf("SaveLog: %v", err)
		}
	}
	store.SaveLog(ctx, telemetry.LogRecord{TraceID: "other", Body: "noise"})

	logs, err := store.ListLogs(ctx, "abc", 0)
	if err != nil {
		t.Fatalf("ListLogs: %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("Expected 3 logs, got %d", len(logs))
	}
	if logs[0].Body != "line 0" {
		t.Errorf("Expected insertion order, got %s first", logs[0].Body)
	}
}
