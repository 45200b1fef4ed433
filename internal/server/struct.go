package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/docrag-go/internal/collection"
	"github.com/54b3r/docrag-go/internal/memory"
	"github.com/54b3r/docrag-go/internal/pipeline"
	"github.com/54b3r/docrag-go/internal/session"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// ChatTimeout bounds a single answer, including index builds triggered
	// by a collection load. Defaults to 5 minutes.
	ChatTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers are the dependency checks run by GET /api/ready, next to the
	// built-in collections root check.
	Pingers []Pinger
	// RateLimit is the sustained rate (requests/second) allowed on the chat
	// and sources routes, applied per client address and per session.
	// Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the bucket size for RateLimit. Defaults to 20 if zero.
	RateBurst int
	// APIKey lists the Bearer tokens accepted on /api/* session routes,
	// comma-separated. If empty, authentication is disabled.
	APIKey string
	// Layout lists the collections served by GET /api/collections.
	Layout collection.Layout
	// Metrics receives server metrics. If nil, metrics are registered against
	// MetricsRegistry.
	Metrics *Metrics
	// MetricsRegistry is where metrics are registered when Metrics is nil.
	// Defaults to prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer serves GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// sessionStore is the session lifecycle used by the handlers.
// *session.Manager satisfies it.
type sessionStore interface {
	// Create starts a new session.
	Create(ctx context.Context) (*session.Session, error)
	// Get returns a live session.
	Get(id string) (*session.Session, bool)
	// Delete ends a session and reports whether it existed.
	Delete(ctx context.Context, id string) (bool, error)
}

// Server is the HTTP server exposing docrag sessions.
type Server struct {
	// sessions owns every conversation served by this process.
	sessions sessionStore
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency checks for GET /api/ready.
	pingers []Pinger
	// stopLimiter stops the rate limiter's eviction loop.
	stopLimiter func()
	// metrics holds the Prometheus collectors.
	metrics *Metrics
}

// collectionInfo describes one collection in GET /api/collections.
type collectionInfo struct {
	// Name is the collection directory name.
	Name string `json:"name"`
	// Indexed is true when a local persisted index exists.
	Indexed bool `json:"indexed"`
}

// collectionsResponse is the JSON response for GET /api/collections.
type collectionsResponse struct {
	// Collections are sorted by name.
	Collections []collectionInfo `json:"collections"`
}

// sessionResponse describes a session.
type sessionResponse struct {
	// ID identifies the session in later requests.
	ID string `json:"id"`
	// Variant is "simple" or "advanced".
	Variant pipeline.Variant `json:"variant"`
	// Collection is the loaded collection, empty when none.
	Collection string `json:"collection"`
	// Transcript is the display log, oldest first. Omitted on create.
	Transcript []session.Entry `json:"transcript,omitempty"`
}

// loadRequest is the JSON body for POST /api/sessions/{id}/collection.
type loadRequest struct {
	// Name is the collection to load.
	Name string `json:"name"`
}

// loadResponse is the JSON response for POST /api/sessions/{id}/collection.
type loadResponse struct {
	// Loaded reports whether the collection is ready for questions.
	Loaded bool `json:"loaded"`
	// Collection echoes the requested name.
	Collection string `json:"collection"`
	// Restored is true when a persisted index was reused.
	Restored bool `json:"restored,omitempty"`
	// Error explains a failed load.
	Error string `json:"error,omitempty"`
}

// chatRequest is the JSON body for POST /api/sessions/{id}/chat.
type chatRequest struct {
	// Message is the user's question.
	Message string `json:"message"`
}

// chatError is the payload of an SSE "error" event.
type chatError struct {
	// Kind classifies the failure (not_loaded, upstream, invalid_input, canceled).
	Kind pipeline.Kind `json:"kind"`
	// Message is the user-facing text.
	Message string `json:"message"`
}

// memoryResponse is the JSON response for GET /api/sessions/{id}/memory.
type memoryResponse struct {
	// Summary is the short digest shown in the UI.
	Summary string `json:"summary"`
	// Turns are the remembered exchanges, oldest first.
	Turns []memory.Turn `json:"turns"`
}

// sourcesResponse is the JSON response for GET /api/sessions/{id}/sources.
type sourcesResponse struct {
	// Documents are the most relevant chunks, best first.
	Documents []pipeline.Document `json:"documents"`
}
