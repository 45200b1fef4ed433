package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/54b3r/docrag-go/internal/logging"
)

// checkTimeout bounds each readiness check.
const checkTimeout = 5 * time.Second

// Pinger reports whether one dependency (chat backend, embedder, Qdrant) is
// reachable. Implementations must be safe for concurrent use.
type Pinger interface {
	// Ping returns nil when the dependency is reachable.
	Ping(ctx context.Context) error
	// Name labels the dependency in readiness responses.
	Name() string
}

// readyCheck is the result of one readiness check.
type readyCheck struct {
	Name       string `json:"name"`
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
	Detail     string `json:"detail,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// readyResponse is the JSON body of GET /api/ready.
type readyResponse struct {
	// Ready is true only when every check passed.
	Ready  bool         `json:"ready"`
	Checks []readyCheck `json:"checks"`
}

// handleReady handles GET /api/ready. The collections root is checked first,
// then every configured Pinger runs concurrently with checkTimeout. The
// response is 200 when all checks pass and 503 otherwise.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := make([]readyCheck, 0, len(s.pingers)+1)
	if s.cfg.Layout.Root != "" {
		checks = append(checks, s.checkCollections())
	}

	pinged := make([]readyCheck, len(s.pingers))
	var wg sync.WaitGroup
	for i, p := range s.pingers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pinged[i] = ping(r.Context(), p)
		}()
	}
	wg.Wait()
	checks = append(checks, pinged...)

	resp := readyResponse{Ready: true, Checks: checks}
	log := logging.FromContext(r.Context())
	for _, c := range checks {
		if !c.OK {
			resp.Ready = false
			log.Warn("readiness check failed",
				slog.String("dependency", c.Name),
				slog.String("error", c.Error),
			)
		}
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r, status, resp)
}

// ping runs one Pinger with checkTimeout.
func ping(ctx context.Context, p Pinger) readyCheck {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := time.Now()
	err := p.Ping(ctx)
	c := readyCheck{Name: p.Name(), OK: err == nil, DurationMS: time.Since(start).Milliseconds()}
	if err != nil {
		c.Error = err.Error()
	}
	return c
}

// checkCollections verifies that the collections root is a readable
// directory and reports how many collections it holds.
func (s *Server) checkCollections() readyCheck {
	start := time.Now()
	c := readyCheck{Name: "collections"}

	info, err := os.Stat(s.cfg.Layout.Root)
	switch {
	case err != nil:
		c.Error = err.Error()
	case !info.IsDir():
		c.Error = fmt.Sprintf("%s is not a directory", s.cfg.Layout.Root)
	default:
		names, err := s.cfg.Layout.List()
		if err != nil {
			c.Error = err.Error()
		} else {
			c.OK = true
			c.Detail = fmt.Sprintf("%d collections in %s", len(names), s.cfg.Layout.Root)
		}
	}
	c.DurationMS = time.Since(start).Milliseconds()
	return c
}
