// metrics.go registers all Prometheus metrics for the HTTP
// server and exposes helpers used by handlers and middleware.

package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric label values shared across registrations.
const (
	// labelHandler is the "handler" label value used to partition metrics by
	// the logical endpoint name rather than the raw URL path.
	labelHandler = "handler"
)

// metricsNamespace prefixes every metric name.
const metricsNamespace = "docrag"

// Metrics holds all Prometheus metrics owned by the HTTP server. It is
// created before the collection cache so the cache can report loads through
// ObserveLoad.
type Metrics struct {
	// chatRequestsTotal counts completed chat requests, partitioned by
	// outcome: "ok", "not_loaded", "timeout", "canceled" or "error".
	chatRequestsTotal *prometheus.CounterVec

	// chatDurationSeconds records the wall-clock duration of each chat
	// request from first byte received to stream completion.
	chatDurationSeconds *prometheus.HistogramVec

	// chatActiveStreams is the number of chat SSE streams currently open.
	chatActiveStreams prometheus.Gauge

	// collectionLoadsTotal counts collection loads by result: "restored",
	// "built" or "failed".
	collectionLoadsTotal *prometheus.CounterVec

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, handler name, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec

	// httpRejectedTotal counts requests refused before reaching a handler:
	// reason is "missing_token", "invalid_token", "rate_limited_client" or
	// "rate_limited_session".
	httpRejectedTotal *prometheus.CounterVec
}

// NewMetrics registers all server metrics against reg and returns them.
// promauto.With(reg) is used so that each call registers into the provided
// registry rather than the global default, which keeps tests hermetic.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		chatRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Total number of chat requests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		chatDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "chat",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of chat requests from receipt to stream completion.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),

		chatActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "chat",
			Name:      "active_streams",
			Help:      "Number of chat SSE streams currently open.",
		}),

		collectionLoadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "collection",
			Name:      "loads_total",
			Help:      "Total number of collection loads, partitioned by result.",
		}, []string{"result"}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),

		httpRejectedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "rejected_total",
			Help:      "Requests refused by authentication or rate limiting, partitioned by reason.",
		}, []string{"reason"}),
	}
}

// ObserveLoad records one collection load. It matches the Observe hook of
// ingestion.CacheConfig.
func (m *Metrics) ObserveLoad(result string) {
	m.collectionLoadsTotal.WithLabelValues(result).Inc()
}

// rejectAuth counts a request refused by authentication.
func (m *Metrics) rejectAuth(reason string) {
	m.httpRejectedTotal.WithLabelValues(reason).Inc()
}

// rejectRate counts a request refused by the limiter in scope.
func (m *Metrics) rejectRate(scope string) {
	m.httpRejectedTotal.WithLabelValues("rate_limited_" + scope).Inc()
}

// instrument records request count and latency for next under handler.
func (m *Metrics) instrument(handler string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rw, r)

		m.httpRequestsTotal.WithLabelValues(r.Method, handler, strconv.Itoa(rw.status)).Inc()
		m.httpDurationSeconds.WithLabelValues(r.Method, handler).Observe(time.Since(start).Seconds())
	})
}
