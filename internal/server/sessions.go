package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/54b3r/docrag-go/internal/collection"
	"github.com/54b3r/docrag-go/internal/index"
	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/pipeline"
	"github.com/54b3r/docrag-go/internal/session"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 64 << 10

// handleCollections handles GET /api/collections.
func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request) {
	names, err := s.cfg.Layout.List()
	if err != nil {
		logging.FromContext(r.Context()).Error("list collections", slog.Any("error", err))
		http.Error(w, "failed to list collections", http.StatusInternalServerError)
		return
	}
	resp := collectionsResponse{Collections: make([]collectionInfo, 0, len(names))}
	for _, n := range names {
		resp.Collections = append(resp.Collections, collectionInfo{
			Name:    n,
			Indexed: index.Exists(s.cfg.Layout.IndexDir(n)),
		})
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// handleCreateSession handles POST /api/sessions.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Create(r.Context())
	if err != nil {
		logging.FromContext(r.Context()).Error("create session", slog.Any("error", err))
		http.Error(w, "failed to create session", http.StatusInternalServerError)
		return
	}
	writeJSON(w, r, http.StatusCreated, sessionResponse{ID: sess.ID(), Variant: sess.Variant()})
}

// handleGetSession handles GET /api/sessions/{id}.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, r, http.StatusOK, sessionResponse{
		ID:         sess.ID(),
		Variant:    sess.Variant(),
		Collection: sess.Collection(),
		Transcript: sess.Transcript(),
	})
}

// handleDeleteSession handles DELETE /api/sessions/{id}.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	ok, err := s.sessions.Delete(r.Context(), r.PathValue("id"))
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	if err != nil {
		logging.FromContext(r.Context()).Warn("delete session log", slog.Any("error", err))
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleLoadCollection handles POST /api/sessions/{id}/collection. Clients
// that accept text/event-stream receive build progress as "status" events
// followed by a "done" event carrying the result; others receive the result
// as JSON once loading finishes.
func (s *Server) handleLoadCollection(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req loadRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := collection.ValidateName(req.Name); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ChatTimeout)
	defer cancel()
	log := logging.FromContext(ctx)

	var sw *sseWriter
	var progress func(string)
	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		if sw, ok = newSSEWriter(w); ok {
			progress = func(msg string) { _ = sw.event("status", msg) }
		}
	}

	resp := loadResponse{Collection: req.Name}
	res, err := sess.LoadCollectionErr(ctx, req.Name, progress)
	if err != nil {
		log.Warn("load collection failed",
			slog.String("session", sess.ID()),
			slog.String("collection", req.Name),
			slog.Any("error", err),
		)
		resp.Error = err.Error()
	} else {
		resp.Loaded = true
		resp.Restored = res.Restored
	}

	if sw != nil {
		_ = sw.eventJSON("done", resp)
		return
	}
	status := http.StatusOK
	if errors.Is(err, collection.ErrCollectionNotFound) {
		status = http.StatusNotFound
	}
	writeJSON(w, r, status, resp)
}

// handleChat handles POST /api/sessions/{id}/chat. It streams the answer
// using Server-Sent Events: fragments as data frames, then a "sources" event
// and a "done" event. Failures are delivered in-band as an "error" event
// with the failure kind; the HTTP status stays 200 once streaming starts.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req chatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}

	sw, ok := newSSEWriter(w)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	start := time.Now()
	s.metrics.chatActiveStreams.Inc()
	defer s.metrics.chatActiveStreams.Dec()

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ChatTimeout)
	defer cancel()
	log := logging.FromContext(ctx).With(slog.String("session", sess.ID()))

	outcome := s.streamAnswer(ctx, sess, req.Message, sw)

	elapsed := time.Since(start)
	s.metrics.chatRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.chatDurationSeconds.WithLabelValues(outcome).Observe(elapsed.Seconds())
	log.Info("chat completed",
		slog.String("outcome", outcome),
		slog.String("collection", sess.Collection()),
		slog.Duration("duration", elapsed),
	)
}

// streamAnswer writes the answer to sw and returns the metrics outcome.
func (s *Server) streamAnswer(ctx context.Context, sess *session.Session, question string, sw *sseWriter) string {
	st, err := sess.AskStream(ctx, question)
	if err != nil {
		return s.chatFailed(ctx, sw, err)
	}
	defer st.Close()

	for {
		frag, err := st.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return s.chatFailed(ctx, sw, err)
		}
		if _, err := sw.Write([]byte(frag)); err != nil {
			// Client went away; Close releases the upstream request.
			return "canceled"
		}
	}

	_ = sw.eventJSON("sources", st.Sources())
	_ = sw.event("done", "[DONE]")
	return "ok"
}

// chatFailed emits an error event and returns the metrics outcome.
func (s *Server) chatFailed(ctx context.Context, sw *sseWriter, err error) string {
	kind := pipeline.KindOf(err)
	if kind == "" && errors.Is(err, session.ErrBusy) {
		kind = pipeline.KindCanceled
	}
	_ = sw.eventJSON("error", chatError{Kind: kind, Message: session.Render(err)})

	switch {
	case kind == pipeline.KindNotLoaded:
		return "not_loaded"
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		logging.FromContext(ctx).Warn("chat timed out", slog.Duration("timeout", s.cfg.ChatTimeout))
		return "timeout"
	case kind == pipeline.KindCanceled:
		return "canceled"
	default:
		logging.FromContext(ctx).Error("chat failed", slog.Any("error", err))
		return "error"
	}
}

// handleMemory handles GET /api/sessions/{id}/memory.
func (s *Server) handleMemory(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, r, http.StatusOK, memoryResponse{Summary: sess.MemorySummary(), Turns: sess.History()})
}

// handleClearMemory handles POST /api/sessions/{id}/memory/clear.
func (s *Server) handleClearMemory(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.ClearMemory()
	w.WriteHeader(http.StatusNoContent)
}

// handleSources handles GET /api/sessions/{id}/sources?q=...&k=....
func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	q := r.URL.Query().Get("q")
	if strings.TrimSpace(q) == "" {
		http.Error(w, "q is required", http.StatusBadRequest)
		return
	}
	k := 0
	if raw := r.URL.Query().Get("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 50 {
			http.Error(w, "k must be between 1 and 50", http.StatusBadRequest)
			return
		}
		k = n
	}

	docs, err := sess.RelevantDocuments(r.Context(), q, k)
	switch pipeline.KindOf(err) {
	case "":
		if err != nil {
			http.Error(w, "retrieval failed", http.StatusInternalServerError)
			return
		}
	case pipeline.KindNotLoaded:
		http.Error(w, session.NotLoadedText, http.StatusConflict)
		return
	default:
		logging.FromContext(r.Context()).Error("sources failed", slog.Any("error", err))
		http.Error(w, session.Render(err), http.StatusBadGateway)
		return
	}
	writeJSON(w, r, http.StatusOK, sourcesResponse{Documents: docs})
}

// session resolves the {id} path value, writing 404 when it is unknown.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, ok := s.sessions.Get(r.PathValue("id"))
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return nil, false
	}
	return sess, true
}

// decodeJSON reads a bounded JSON body into v, writing 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}
