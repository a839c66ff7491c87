// The processor consumes raw OTLP payloads from the broker stream queue,
// reconstructs traces in tumbling windows, scores anomalies, correlates
// logs and pushes the derived events to the dashboard backend.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pranavkale07/ObserveX/internal/broker"
	"github.com/pranavkale07/ObserveX/internal/config"
	"github.com/pranavkale07/ObserveX/internal/emitter"
	"github.com/pranavkale07/ObserveX/internal/observability"
	"github.com/pranavkale07/ObserveX/internal/pipeline"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		cancel()
	}()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "processor failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg := config.LoadProcessor()

	obs, err := observability.New(observability.DefaultConfig("observex-processor"))
	if err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := obs.Shutdown(shutdownCtx); err != nil {
			obs.Logger.Error("Observability shutdown failed", "error", err)
		}
	}()
	logger := obs.Logger

	metrics, err := observability.NewMetricsManager(obs.Meter)
	if err != nil {
		return fmt.Errorf("failed to create metrics manager: %w", err)
	}
	ticker := observability.NewMetricsTicker(ctx, metrics)
	ticker.Start()
	defer ticker.Stop()

	healthServer := observability.NewHealthServer(cfg.HealthPort, "observex-processor", obs.Config.ServiceVersion)
	healthServer.AddChecker("dashboard", observability.NewHTTPHealthChecker("dashboard", cfg.DashboardURL+"/api/alerts"))
	go func() {
		if err := healthServer.Start(ctx); err != nil {
			logger.Error("Health server failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		healthServer.Shutdown(shutdownCtx)
	}()

	source := broker.NewSource(cfg.AMQPURL(), cfg.Queue, logger)
	source.OnReconnectAttempt = func() { metrics.IncrementBrokerReconnects(ctx) }
	source.OnDecodeError = func() { metrics.IncrementDecodeErrors(ctx) }
	defer source.Close()

	sink := emitter.New(cfg.DashboardURL, logger)
	sink.Metrics = metrics

	logger.InfoContext(ctx, "Starting stream processor",
		"queue", cfg.Queue,
		"broker", cfg.AMQPHost,
		"dashboard", cfg.DashboardURL,
	)

	p := pipeline.New(source, sink, logger, metrics)
	if err := p.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("pipeline stopped: %w", err)
	}

	logger.Info("Stream processor stopped")
	return nil
}
