// Package pipeline implements the windowed stream processor: payloads from
// the broker are parsed into spans and logs, spans are scored and folded
// into per-trace aggregates inside tumbling windows, logs are buffered for
// anomaly correlation, and window closes fan derived events out to the
// dashboard backend.
//
// Each stage runs in its own goroutine connected by channels; per-key state
// (the scorer registry, the log buffer) lives inside its stage or behind a
// mutex. Ordering is preserved within a key, not across keys.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/pranavkale07/ObserveX/internal/anomaly"
	"github.com/pranavkale07/ObserveX/internal/observability"
	"github.com/pranavkale07/ObserveX/internal/otlp"
	"github.com/pranavkale07/ObserveX/internal/telemetry"
)

// PayloadSource feeds raw JSON payloads into the pipeline. The RabbitMQ
// stream source is the production implementation.
type PayloadSource interface {
	Run(ctx context.Context, out chan<- []byte) error
}

// tickInterval drives window closes and the log-buffer TTL sweep.
const tickInterval = time.Second

// Pipeline wires the processing stages together.
type Pipeline struct {
	source  PayloadSource
	scorers *anomaly.Registry
	sink    EventSink
	logs    *LogBuffer
	audit   *RedactionAuditor
	handler *CloseHandler
	logger  *slog.Logger
	metrics *observability.MetricsManager

	logTTL time.Duration
}

// New builds a pipeline. metrics may be nil.
func New(source PayloadSource, sink EventSink, logger *slog.Logger, metrics *observability.MetricsManager) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	logs := NewLogBuffer()
	handler := NewCloseHandler(sink, logs, logger)
	handler.Metrics = metrics
	handler.Traces = observability.NewTraceManager("pipeline")

	return &Pipeline{
		source:  source,
		scorers: anomaly.NewRegistry(nil),
		sink:    sink,
		logs:    logs,
		audit:   NewRedactionAuditor(),
		handler: handler,
		logger:  logger,
		metrics: metrics,
		logTTL:  DefaultLogTTL,
	}
}

// Run executes the pipeline until ctx is cancelled. It always returns the
// reason the pipeline stopped.
func (p *Pipeline) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	payloads := make(chan []byte, 64)
	spans := make(chan telemetry.Span, 256)
	logs := make(chan telemetry.LogRecord, 256)
	closed := make(chan ClosedTrace, 64)

	errs := make(chan error, 4)

	go func() {
		defer close(payloads)
		errs <- p.source.Run(ctx, payloads)
	}()

	go p.parseStage(ctx, payloads, spans, logs)
	go p.windowStage(ctx, spans, closed)
	go p.logStage(ctx, logs)
	go p.closeStage(ctx, closed)

	p.logger.InfoContext(ctx, "Pipeline running",
		"window_length", WindowLength.String(),
		"log_ttl", p.logTTL.String(),
	)

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// parseStage turns raw payloads into scored spans and log records. A
// payload may carry traces, logs, or neither; wrong shapes parse to nothing.
func (p *Pipeline) parseStage(ctx context.Context, payloads <-chan []byte, spans chan<- telemetry.Span, logs chan<- telemetry.LogRecord) {
	defer close(spans)
	defer close(logs)

	for {
		select {
		case payload, ok := <-payloads:
			if !ok {
				return
			}
			parsedSpans := otlp.ParseTrace(payload)
			parsedLogs := otlp.ParseLog(payload)
			if p.metrics != nil {
				p.metrics.AddSpansParsed(ctx, len(parsedSpans))
				p.metrics.AddLogsParsed(ctx, len(parsedLogs))
			}
			for _, span := range parsedSpans {
				select {
				case spans <- p.scorers.ScoreSpan(span):
				case <-ctx.Done():
					return
				}
			}
			for _, record := range parsedLogs {
				select {
				case logs <- record:
				case <-ctx.Done():
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// windowStage owns the reconstructor. Spans fold into the current window;
// a ticker closes due windows and sweeps expired log-buffer entries.
func (p *Pipeline) windowStage(ctx context.Context, spans <-chan telemetry.Span, closed chan<- ClosedTrace) {
	defer close(closed)

	reconstructor := NewReconstructor()
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case span, ok := <-spans:
			if !ok {
				return
			}
			reconstructor.Add(span, time.Now())

		case now := <-ticker.C:
			for _, trace := range reconstructor.CloseDue(now) {
				select {
				case closed <- trace:
				case <-ctx.Done():
					return
				}
			}
			if evicted := p.logs.SweepExpired(now, p.logTTL); evicted > 0 {
				p.logger.InfoContext(ctx, "Evicted stale log buffer entries", "count", evicted)
			}

		case <-ctx.Done():
			return
		}
	}
}

// logStage buffers logs for trace correlation and audits redaction markers.
func (p *Pipeline) logStage(ctx context.Context, logs <-chan telemetry.LogRecord) {
	for {
		select {
		case record, ok := <-logs:
			if !ok {
				return
			}

			if count, due := p.audit.Observe(record); due {
				service := record.ServiceName
				if service == "" {
					service = "unknown"
				}
				err := p.sink.EmitMetric(ctx, telemetry.Metric{
					Service:    service,
					MetricType: telemetry.MetricRedactionCount,
					Value:      float64(count),
					Timestamp:  telemetry.NowUTC(),
				})
				if err != nil {
					p.logger.ErrorContext(ctx, "Failed to emit redaction metric",
						"service", service,
						"error", err,
					)
				}
			}

			p.logs.Append(record, time.Now())

		case <-ctx.Done():
			return
		}
	}
}

// closeStage drains closed windows into the close handler.
func (p *Pipeline) closeStage(ctx context.Context, closed <-chan ClosedTrace) {
	for {
		select {
		case trace, ok := <-closed:
			if !ok {
				return
			}
			p.handler.HandleClose(ctx, trace)
		case <-ctx.Done():
			return
		}
	}
}
