package observability

import (
	"context"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsManager owns the pipeline's own operational instruments. These are
// the processor's health signals, distinct from the derived service metrics
// the pipeline computes for operators.
type MetricsManager struct {
	meter metric.Meter

	spansParsedTotal    metric.Int64Counter
	logsParsedTotal     metric.Int64Counter
	decodeErrorsTotal   metric.Int64Counter
	windowsClosedTotal  metric.Int64Counter
	eventsEmittedTotal  metric.Int64Counter
	emitFailuresTotal   metric.Int64Counter
	brokerReconnects    metric.Int64Counter
	broadcastClients    metric.Int64UpDownCounter
	emitDuration        metric.Float64Histogram
	goGoroutines        metric.Int64UpDownCounter
	goMemstatsAlloc     metric.Int64UpDownCounter
	processResidentMem  metric.Int64UpDownCounter
}

func NewMetricsManager(meter metric.Meter) (*MetricsManager, error) {
	mm := &MetricsManager{meter: meter}

	var err error

	mm.spansParsedTotal, err = meter.Int64Counter(
		"spans_parsed_total",
		metric.WithDescription("Total number of spans extracted from OTLP payloads"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.logsParsedTotal, err = meter.Int64Counter(
		"logs_parsed_total",
		metric.WithDescription("Total number of log records extracted from OTLP payloads"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.decodeErrorsTotal, err = meter.Int64Counter(
		"decode_errors_total",
		metric.WithDescription("Total number of broker messages dropped as undecodable"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.windowsClosedTotal, err = meter.Int64Counter(
		"windows_closed_total",
		metric.WithDescription("Total number of (trace, window) aggregates closed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.eventsEmittedTotal, err = meter.Int64Counter(
		"events_emitted_total",
		metric.WithDescription("Total number of events posted to the dashboard backend"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.emitFailuresTotal, err = meter.Int64Counter(
		"emit_failures_total",
		metric.WithDescription("Total number of dashboard posts that failed and were dropped"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.brokerReconnects, err = meter.Int64Counter(
		"broker_reconnects_total",
		metric.WithDescription("Total number of broker connection attempts after a failure"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.broadcastClients, err = meter.Int64UpDownCounter(
		"broadcast_clients",
		metric.WithDescription("Number of connected websocket operator clients"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.emitDuration, err = meter.Float64Histogram(
		"emit_duration_seconds",
		metric.WithDescription("Dashboard post duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	mm.goGoroutines, err = meter.Int64UpDownCounter(
		"go_goroutines",
		metric.WithDescription("Number of goroutines that currently exist"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.goMemstatsAlloc, err = meter.Int64UpDownCounter(
		"go_memstats_alloc_bytes",
		metric.WithDescription("Number of bytes allocated and still in use"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	mm.processResidentMem, err = meter.Int64UpDownCounter(
		"process_resident_memory_bytes",
		metric.WithDescription("Resident memory size in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	return mm, nil
}

func (mm *MetricsManager) AddSpansParsed(ctx context.Context, n int) {
	mm.spansParsedTotal.Add(ctx, int64(n))
}

func (mm *MetricsManager) AddLogsParsed(ctx context.Context, n int) {
	mm.logsParsedTotal.Add(ctx, int64(n))
}

func (mm *MetricsManager) IncrementDecodeErrors(ctx context.Context) {
	mm.decodeErrorsTotal.Add(ctx, 1)
}

func (mm *MetricsManager) IncrementWindowsClosed(ctx context.Context, anomalous bool) {
	mm.windowsClosedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("anomalous", anomalous),
	))
}

func (mm *MetricsManager) IncrementEventsEmitted(ctx context.Context, eventType string) {
	mm.eventsEmittedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
	))
}

func (mm *MetricsManager) IncrementEmitFailures(ctx context.Context, eventType string) {
	mm.emitFailuresTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
	))
}

func (mm *MetricsManager) IncrementBrokerReconnects(ctx context.Context) {
	mm.brokerReconnects.Add(ctx, 1)
}

func (mm *MetricsManager) AddBroadcastClients(ctx context.Context, delta int64) {
	mm.broadcastClients.Add(ctx, delta)
}

func (mm *MetricsManager) RecordEmitDuration(ctx context.Context, eventType string, duration time.Duration) {
	mm.emitDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("event_type", eventType),
	))
}

// UpdateSystemMetrics records a snapshot of runtime stats.
func (mm *MetricsManager) UpdateSystemMetrics(ctx context.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	mm.goGoroutines.Add(ctx, int64(runtime.NumGoroutine()))
	mm.goMemstatsAlloc.Add(ctx, int64(m.Alloc))
	mm.processResidentMem.Add(ctx, int64(m.Sys))
}

// MetricsTicker records runtime stats on a fixed cadence.
type MetricsTicker struct {
	ctx            context.Context
	metricsManager *MetricsManager
	ticker         *time.Ticker
	done           chan struct{}
}

func NewMetricsTicker(ctx context.Context, metricsManager *MetricsManager) *MetricsTicker {
	return &MetricsTicker{
		ctx:            ctx,
		metricsManager: metricsManager,
		ticker:         time.NewTicker(30 * time.Second),
		done:           make(chan struct{}),
	}
}

func (m *MetricsTicker) Start() {
	go func() {
		defer m.ticker.Stop()
		for {
			select {
			case <-m.ticker.C:
				m.metricsManager.UpdateSystemMetrics(m.ctx)
			case <-m.ctx.Done():
				return
			case <-m.done:
				return
			}
		}
	}()
}

func (m *MetricsTicker) Stop() {
	close(m.done)
}
