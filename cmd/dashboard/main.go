// The dashboard backend receives derived events from the stream processor,
// persists them, fans them out to connected operators over websocket and
// serves the query and root-cause-analysis API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pranavkale07/ObserveX/internal/api"
	"github.com/pranavkale07/ObserveX/internal/config"
	"github.com/pranavkale07/ObserveX/internal/hub"
	"github.com/pranavkale07/ObserveX/internal/observability"
	"github.com/pranavkale07/ObserveX/internal/rca"
	"github.com/pranavkale07/ObserveX/internal/storage"
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
		fmt.Fprintf(os.Stderr, "dashboard failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg := config.LoadDashboard()

	obs, err := observability.New(observability.DefaultConfig("observex-dashboard"))
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

	store, err := storage.OpenSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	healthServer := observability.NewHealthServer(cfg.HealthPort, "observex-dashboard", obs.Config.ServiceVersion)
	healthServer.AddChecker("database", observability.NewBasicHealthChecker("database", func(ctx context.Context) error {
		_, err := store.ListAlerts(ctx, "", 1)
		return err
	}))
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

	var analyzer api.Analyzer
	rcaClient, err := rca.NewAnalyzer(ctx, rca.Config{
		APIKey: cfg.GeminiAPIKey,
		Model:  cfg.GeminiModel,
	}, logger)
	switch {
	case err == nil:
		analyzer = rcaClient
	case errors.Is(err, rca.ErrNoAPIKey):
		logger.Warn("GEMINI_API_KEY not set. AI RCA will be unavailable.")
	default:
		return fmt.Errorf("failed to create RCA analyzer: %w", err)
	}

	server := api.New(cfg.ListenAddr, store, hub.New(store, logger, metrics), analyzer, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	logger.InfoContext(ctx, "Dashboard backend started",
		"addr", cfg.ListenAddr,
		"db", cfg.DBPath,
		"rca_enabled", analyzer != nil,
	)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logger.Info("Dashboard backend stopped")
	return nil
}
