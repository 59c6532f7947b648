package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/circuit-voice-assistant/internal/config"
	"github.com/skypro1111/circuit-voice-assistant/internal/dialog"
	"github.com/skypro1111/circuit-voice-assistant/internal/metrics"
	"github.com/skypro1111/circuit-voice-assistant/internal/session"
)

const (
	serviceName    = "circuit-voice-assistant"
	serviceVersion = "1.0.0"
)

// Dispatcher answers dialogue turns
type Dispatcher interface {
	Dispatch(ctx context.Context, conv *dialog.Conversation) *dialog.Response
}

// SessionLister exposes live sessions for monitoring
type SessionLister interface {
	ActiveCount() int
	Sessions() []session.Info
}

// HTTPServer serves the fulfillment webhook and the monitoring endpoints
type HTTPServer struct {
	server     *http.Server
	router     *mux.Router
	logger     *slog.Logger
	dispatcher Dispatcher
	sessions   SessionLister
	metrics    *metrics.Metrics
	gatherer   prometheus.Gatherer

	startTime time.Time
}

// NewHTTPServer creates the HTTP server. A nil gatherer serves the default
// Prometheus registry.
func NewHTTPServer(cfg config.ServerConfig, logger *slog.Logger,
	dispatcher Dispatcher, sessions SessionLister, m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	h := &HTTPServer{
		router:     mux.NewRouter(),
		logger:     logger,
		dispatcher: dispatcher,
		sessions:   sessions,
		metrics:    m,
		gatherer:   gatherer,
		startTime:  time.Now(),
	}
	h.setupRoutes()

	h.server = &http.Server{
		Addr:         cfg.ListenAddress(),
		Handler:      h.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures the routes and middleware
func (h *HTTPServer) setupRoutes() {
	h.router.Use(RequestID, Recover(h.logger), AccessLog(h.logger))

	// Fulfillment webhook
	h.router.HandleFunc("/", h.withMetrics("/", h.handleWebhook)).Methods(http.MethodPost)
	h.router.HandleFunc("/webhook", h.withMetrics("/webhook", h.handleWebhook)).Methods(http.MethodPost)

	// Startup probe of the hosting platform
	h.router.HandleFunc("/_ah/start", h.withMetrics("/_ah/start", h.handleStart)).Methods(http.MethodGet)

	h.router.HandleFunc("/health", h.withMetrics("/health", h.handleHealth)).Methods(http.MethodGet)
	h.router.HandleFunc("/sessions", h.withMetrics("/sessions", h.handleSessions)).Methods(http.MethodGet)

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	h.router.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	h.router.HandleFunc("/", h.withMetrics("/", h.handleRoot)).Methods(http.MethodGet)
}

// Handler returns the routed handler, middleware included
func (h *HTTPServer) Handler() http.Handler {
	return h.router
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		h.metrics.RecordHTTPRequest(r.Method, endpoint, fmt.Sprintf("%d", ww.statusCode), duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server in the background
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server, letting in-flight turns finish
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP server...")

	return h.server.Shutdown(ctx)
}

// handleWebhook answers one dialogue turn
func (h *HTTPServer) handleWebhook(w http.ResponseWriter, r *http.Request) {
	req, err := dialog.Decode(http.MaxBytesReader(w, r.Body, dialog.MaxRequestSize))
	if err != nil {
		h.logger.Warn("Rejected webhook request",
			slog.String("request_id", RequestIDFrom(r.Context())),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	conv := dialog.NewConversation(req)
	resp := h.dispatcher.Dispatch(r.Context(), conv)

	writeJSON(w, http.StatusOK, resp)
}

// handleStart implements the /_ah/start probe
func (h *HTTPServer) handleStart(w http.ResponseWriter, r *http.Request) {
	h.logger.Debug("Handled start probe")
	w.WriteHeader(http.StatusOK)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": map[string]interface{}{
			"session_manager": map[string]interface{}{
				"status":          "running",
				"active_sessions": h.sessions.ActiveCount(),
			},
		},
	}

	writeJSON(w, http.StatusOK, health)
}

// handleSessions implements the /sessions endpoint
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.sessions.Sessions()

	response := map[string]interface{}{
		"total_sessions": len(sessions),
		"timestamp":      time.Now().UTC(),
		"sessions":       sessions,
	}

	writeJSON(w, http.StatusOK, response)
}

// handleRoot implements GET / with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	apiDoc := map[string]interface{}{
		"service": "Circuit Voice Assistant",
		"version": serviceVersion,
		"endpoints": map[string]interface{}{
			"POST /":         "Dialogflow fulfillment webhook",
			"POST /webhook":  "Dialogflow fulfillment webhook",
			"GET /_ah/start": "Startup probe",
			"GET /health":    "Service health check",
			"GET /sessions":  "List active Circuit sessions",
			"GET /metrics":   "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
