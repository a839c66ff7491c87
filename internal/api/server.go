// Package api exposes the dashboard's HTTP surface: ingestion endpoints fed
// by the stream processor, query endpoints for the operator UI, the
// websocket channel and on-demand root cause analysis.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/pranavkale07/ObserveX/internal/hub"
	"github.com/pranavkale07/ObserveX/internal/rca"
	"github.com/pranavkale07/ObserveX/internal/storage"
	"github.com/pranavkale07/ObserveX/internal/telemetry"
)

// maxBodyBytes bounds ingestion payloads. Alert and trace records carry at
// most a handful of spans, so anything near this limit is garbage.
const maxBodyBytes = 1 << 20

// Analyzer is the root-cause capability the server needs. A nil Analyzer
// means the feature is not configured and the endpoint reports unavailable.
type Analyzer interface {
	Analyze(ctx context.Context, traceID string, traceData json.RawMessage) rca.Result
}

// Server routes dashboard traffic to storage, the hub and the analyzer.
type Server struct {
	store    storage.Store
	hub      *hub.Hub
	analyzer Analyzer
	logger   *slog.Logger
	srv      *http.Server
}

// New builds the server. analyzer may be nil when no API key is configured.
func New(addr string, store storage.Store, h *hub.Hub, analyzer Analyzer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:    store,
		hub:      h,
		analyzer: analyzer,
		logger:   logger,
	}
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // websocket connections stay open
	}
	return s
}

// Routes assembles the router. Exposed so tests can drive the handlers
// through httptest without binding a port.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/alerts", s.handlePostAlert).Methods(http.MethodPost)
	r.HandleFunc("/api/alerts", s.handleGetAlerts).Methods(http.MethodGet)
	r.HandleFunc("/api/metrics", s.handlePostMetric).Methods(http.MethodPost)
	r.HandleFunc("/api/metrics/{service}/{metric_type}", s.handleGetMetrics).Methods(http.MethodGet)
	r.HandleFunc("/api/traces", s.handlePostTrace).Methods(http.MethodPost)
	r.HandleFunc("/api/traces/{trace_id}", s.handleGetTrace).Methods(http.MethodGet)
	r.HandleFunc("/api/logs", s.handlePostLog).Methods(http.MethodPost)
	r.HandleFunc("/api/logs/{trace_id}", s.handleGetLogs).Methods(http.MethodGet)
	r.HandleFunc("/api/rca/{trace_id}", s.handleRCA).Methods(http.MethodPost)
	r.HandleFunc("/ws", s.hub.HandleWS)

	return corsMiddleware(r)
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("Dashboard API listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("dashboard server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handlePostAlert(w http.ResponseWriter, r *http.Request) {
	var alert telemetry.Alert
	if !s.decode(w, r, &alert) {
		return
	}
	if alert.Service == "" || alert.TraceID == "" {
		writeError(w, http.StatusBadRequest, "service and trace_id are required")
		return
	}
	if err := s.store.SaveAlert(r.Context(), alert); err != nil {
		s.storageError(w, r, "save alert", err)
		return
	}
	s.hub.Broadcast(r.Context(), hub.FrameNewAnomaly, alert)
	writeOK(w)
}

func (s *Server) handleGetAlerts(w http.ResponseWriter, r *http.Request) {
	service := r.URL.Query().Get("service")
	alerts, err := s.store.ListAlerts(r.Context(), service, storage.DefaultAlertLimit)
	if err != nil {
		s.storageError(w, r, "list alerts", err)
		return
	}
	if alerts == nil {
		alerts = []storage.StoredAlert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handlePostMetric(w http.ResponseWriter, r *http.Request) {
	var metric telemetry.Metric
	if !s.decode(w, r, &metric) {
		return
	}
	if metric.Service == "" || metric.MetricType == "" {
		writeError(w, http.StatusBadRequest, "service and metric_type are required")
		return
	}
	if err := s.store.SaveMetric(r.Context(), metric); err != nil {
		s.storageError(w, r, "save metric", err)
		return
	}
	s.hub.Broadcast(r.Context(), hub.FrameMetricUpdate, metric)
	writeOK(w)
}

func (s *Server) handleGetMetrics(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	metrics, err := s.store.ListMetrics(r.Context(), vars["service"], vars["metric_type"], storage.DefaultMetricLimit)
	if err != nil {
		s.storageError(w, r, "list metrics", err)
		return
	}
	if metrics == nil {
		metrics = []storage.StoredMetric{}
	}
	writeJSON(w, http.StatusOK, metrics)
}

func (s *Server) handlePostTrace(w http.ResponseWriter, r *http.Request) {
	var trace telemetry.TraceInventory
	if !s.decode(w, r, &trace) {
		return
	}
	if trace.TraceID == "" {
		writeError(w, http.StatusBadRequest, "trace_id is required")
		return
	}
	if err := s.store.SaveTrace(r.Context(), trace); err != nil {
		s.storageError(w, r, "save trace", err)
		return
	}
	writeOK(w)
}

func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	traceID := mux.Vars(r)["trace_id"]
	trace, err := s.store.GetTrace(r.Context(), traceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Trace not found")
			return
		}
		s.storageError(w, r, "get trace", err)
		return
	}
	writeJSON(w, http.StatusOK, trace)
}

func (s *Server) handlePostLog(w http.ResponseWriter, r *http.Request) {
	var record telemetry.LogRecord
	if !s.decode(w, r, &record) {
		return
	}
	if record.TraceID == "" {
		writeError(w, http.StatusBadRequest, "trace_id is required")
		return
	}
	if err := s.store.SaveLog(r.Context(), record); err != nil {
		s.storageError(w, r, "save log", err)
		return
	}
	writeOK(w)
}

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	traceID := mux.Vars(r)["trace_id"]
	logs, err := s.store.ListLogs(r.Context(), traceID, 0)
	if err != nil {
		s.storageError(w, r, "list logs", err)
		return
	}
	if logs == nil {
		logs = []telemetry.LogRecord{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleRCA(w http.ResponseWriter, r *http.Request) {
	if s.analyzer == nil {
		writeError(w, http.StatusServiceUnavailable, "Gemini API not configured")
		return
	}
	traceID := mux.Vars(r)["trace_id"]

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(body) == 0 || !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "request body must be a JSON object")
		return
	}

	result := s.analyzer.Analyze(r.Context(), traceID, json.RawMessage(body))
	writeJSON(w, http.StatusOK, result)
}

// decode unmarshals the request body, answering 400 on malformed input.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := io.LimitReader(r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid payload: %v", err))
		return false
	}
	return true
}

func (s *Server) storageError(w http.ResponseWriter, r *http.Request, op string, err error) {
	s.logger.ErrorContext(r.Context(), "Storage operation failed", "op", op, "error", err)
	writeError(w, http.StatusInternalServerError, "storage failure")
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeError(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("Failed to encode response", "error", err)
	}
}

// corsMiddleware mirrors the permissive policy the operator dashboard
// expects: it is served from a different origin in development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
