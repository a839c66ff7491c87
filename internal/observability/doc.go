// Package observability provides the self-instrumentation for the ObserveX
// binaries: distributed tracing (OpenTelemetry/OTLP), operational metrics
// (Prometheus), structured logging (log/slog) and health check endpoints.
//
// This is the pipeline watching itself. The service metrics the pipeline
// derives for operators (throughput, latency, redaction counts) live in the
// dataflow packages and flow through the dashboard backend instead.
//
// # Quick Start
//
//	obs, err := observability.New(observability.DefaultConfig("observex-processor"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer obs.Shutdown(context.Background())
//
//	logger := obs.Logger
//	metrics, _ := observability.NewMetricsManager(obs.Meter)
package observability
