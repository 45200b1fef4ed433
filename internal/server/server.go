// Package server implements the HTTP server that exposes docrag sessions
// via a REST/SSE API. The server is started by the `docrag serve` CLI command.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/docrag-go/internal/logging"
)

// New constructs a Server over the given session store and config.
func New(sessions sessionStore, cfg *Config) (*Server, error) {
	if sessions == nil {
		return nil, fmt.Errorf("server: session store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must be long enough for streaming responses.
		cfg.WriteTimeout = 10 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.ChatTimeout == 0 {
		cfg.ChatTimeout = 5 * time.Minute
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}
	log := cfg.Logger
	if log == nil {
		log = logging.New()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics(cfg.MetricsRegistry)
	}

	rl, stopLimiter := newLimiter(cfg.RateLimit, cfg.RateBurst, metrics.rejectRate)
	s := &Server{
		sessions:    sessions,
		cfg:         cfg,
		log:         log,
		pingers:     cfg.Pingers,
		stopLimiter: stopLimiter,
		metrics:     metrics,
	}

	auth := newBearerAuth(cfg.APIKey, metrics.rejectAuth)
	if !auth.enabled() {
		log.Warn("server: DOCRAG_API_KEY is not set; API authentication is disabled")
	}
	protect := auth.wrap

	mux := http.NewServeMux()
	s.route(mux, "GET /api/health", "health", http.HandlerFunc(s.handleHealth))
	s.route(mux, "GET /api/ready", "ready", http.HandlerFunc(s.handleReady))
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	s.route(mux, "GET /api/collections", "collections", protect(http.HandlerFunc(s.handleCollections)))
	s.route(mux, "POST /api/sessions", "session_create", protect(http.HandlerFunc(s.handleCreateSession)))
	s.route(mux, "GET /api/sessions/{id}", "session_get", protect(http.HandlerFunc(s.handleGetSession)))
	s.route(mux, "DELETE /api/sessions/{id}", "session_delete", protect(http.HandlerFunc(s.handleDeleteSession)))
	s.route(mux, "POST /api/sessions/{id}/collection", "collection_load", protect(http.HandlerFunc(s.handleLoadCollection)))
	s.route(mux, "POST /api/sessions/{id}/chat", "chat", protect(rl.middleware(http.HandlerFunc(s.handleChat))))
	s.route(mux, "GET /api/sessions/{id}/memory", "memory_get", protect(http.HandlerFunc(s.handleMemory)))
	s.route(mux, "POST /api/sessions/{id}/memory/clear", "memory_clear", protect(http.HandlerFunc(s.handleClearMemory)))
	s.route(mux, "GET /api/sessions/{id}/sources", "sources", protect(rl.middleware(http.HandlerFunc(s.handleSources))))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(log, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// route registers h under pattern with request metrics labelled name.
func (s *Server) route(mux *http.ServeMux, pattern, name string, h http.Handler) {
	mux.Handle(pattern, s.metrics.instrument(name, h))
}

// Handler returns the root handler, including middleware. Used by tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopLimiter()
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server: listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		s.log.Info("server: stopped")
		return nil
	}
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("encode response", slog.Any("error", err))
	}
}

// sseWriter emits Server-Sent Event frames and flushes after each one.
type sseWriter struct {
	// w is the underlying response writer.
	w http.ResponseWriter

	// flusher flushes buffered data to the client after each write.
	flusher http.Flusher
}

// newSSEWriter sets the SSE headers and returns a writer, or false when the
// response cannot be streamed.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return &sseWriter{w: w, flusher: flusher}, true
}

// Write formats p as one or more SSE data lines and flushes to the client.
// Each newline in p is prefixed with "data: " so multi-line chunks never
// break the SSE frame boundary.
func (s *sseWriter) Write(p []byte) (n int, err error) {
	if err := s.event("", string(bytes.Clone(p))); err != nil {
		return 0, err
	}
	return len(p), nil
}

// event writes a frame with an optional event name.
func (s *sseWriter) event(name, data string) error {
	var buf strings.Builder
	if name != "" {
		buf.WriteString("event: ")
		buf.WriteString(name)
		buf.WriteString("\n")
	}
	for _, line := range strings.Split(data, "\n") {
		buf.WriteString("data: ")
		buf.WriteString(line)
		buf.WriteString("\n")
	}
	buf.WriteString("\n")
	if _, err := fmt.Fprint(s.w, buf.String()); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// eventJSON writes a named frame whose data is v encoded as JSON.
func (s *sseWriter) eventJSON(name string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.event(name, string(b))
}
