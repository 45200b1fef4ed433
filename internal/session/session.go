// Package session holds per-conversation state: the selected collection, its
// loaded index, the conversation memory, and the display log of turns. The
// CLI chat, the terminal UI and the HTTP API each drive the answer pipeline
// through a Session; nothing is kept in package-level state.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/google/uuid"

	"github.com/54b3r/docrag-go/internal/ingestion"
	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/memory"
	"github.com/54b3r/docrag-go/internal/pipeline"
	"github.com/54b3r/docrag-go/internal/rag"
	"github.com/54b3r/docrag-go/internal/store"
)

// ErrBusy is returned when a question is asked while another is in flight
// and the caller's context ends before it completes.
var ErrBusy = errors.New("session: another question is in progress")

// Deps are the process-wide dependencies shared by every session.
type Deps struct {
	// Cache loads collection indexes.
	Cache *ingestion.Cache

	// Embedder embeds questions. Must be the embedder the Cache builds with.
	Embedder rag.Embedder

	// ChatModel generates answers.
	ChatModel model.BaseChatModel

	// Variant selects the simple or advanced pipeline.
	Variant pipeline.Variant

	// Query overrides the variant's retrieval parameters when Query.K > 0.
	Query rag.Query

	// MemoryTokens is the conversation memory budget. Zero uses
	// memory.DefaultMaxTokens.
	MemoryTokens int

	// MaxContextTokens is the prompt budget. Zero uses the pipeline default.
	MaxContextTokens int

	// Log persists the display log. Nil disables persistence.
	Log store.Log
}

// Entry is one line of the display log.
type Entry struct {
	// Role is who wrote the entry.
	Role store.Role `json:"role"`
	// Content is the question or rendered answer.
	Content string `json:"content"`
	// At is when the entry was recorded.
	At time.Time `json:"at"`
}

// Session is one conversation. Questions are answered one at a time; a
// second Ask waits for the first to finish or for its context to end.
type Session struct {
	id   string
	deps Deps

	// busy is a one-slot semaphore held for the whole of a question,
	// including the lifetime of a stream.
	busy chan struct{}

	mu         sync.Mutex
	collection string
	result     *ingestion.Result
	mem        *memory.Memory
	pipe       *pipeline.Pipeline
	display    []Entry
}

// New creates a session with no collection loaded.
func New(ctx context.Context, deps Deps) (*Session, error) {
	if deps.Cache == nil {
		return nil, fmt.Errorf("session: cache must not be nil")
	}
	if deps.Log == nil {
		deps.Log = store.Nop{}
	}
	if deps.Variant == "" {
		deps.Variant = pipeline.VariantAdvanced
	}

	s := &Session{
		id:   uuid.NewString(),
		deps: deps,
		busy: make(chan struct{}, 1),
		mem:  memory.New(deps.MemoryTokens),
	}
	pipe, err := s.newPipeline(ctx, nil)
	if err != nil {
		return nil, err
	}
	s.pipe = pipe
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Variant returns the pipeline variant the session answers with.
func (s *Session) Variant() pipeline.Variant { return s.deps.Variant }

// Collection returns the loaded collection name, or "" when none is loaded.
func (s *Session) Collection() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collection
}

// Loaded returns the load result of the current collection, or nil.
func (s *Session) Loaded() *ingestion.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

func (s *Session) newPipeline(ctx context.Context, searcher rag.Searcher) (*pipeline.Pipeline, error) {
	p, err := pipeline.New(ctx, pipeline.Config{
		Searcher:         searcher,
		Embedder:         s.deps.Embedder,
		ChatModel:        s.deps.ChatModel,
		Memory:           s.mem,
		Variant:          s.deps.Variant,
		Query:            s.deps.Query,
		MaxContextTokens: s.deps.MaxContextTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	return p, nil
}

func (s *Session) acquire(ctx context.Context) error {
	select {
	case s.busy <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrBusy, ctx.Err())
	}
}

func (s *Session) release() { <-s.busy }

// LoadCollection loads name and reports whether it succeeded. Failures are
// logged; the session is left with no collection loaded.
func (s *Session) LoadCollection(ctx context.Context, name string) bool {
	if _, err := s.LoadCollectionErr(ctx, name, nil); err != nil {
		logging.FromContext(ctx).Error("session: load collection failed",
			slog.String("session", s.id),
			slog.String("collection", name),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

// LoadCollectionErr loads name, restoring its persisted index or building
// it. progress, when non-nil, receives build status lines. Switching to a
// different collection clears the conversation memory.
func (s *Session) LoadCollectionErr(ctx context.Context, name string, progress func(string)) (*ingestion.Result, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	res, err := s.deps.Cache.Load(ctx, name, progress)
	if err != nil {
		s.unload()
		return nil, err
	}

	pipe, err := s.newPipeline(ctx, res.Searcher)
	if err != nil {
		s.unload()
		return nil, err
	}

	s.mu.Lock()
	changed := s.collection != res.Collection
	s.collection = res.Collection
	s.result = res
	s.pipe = pipe
	s.mu.Unlock()
	if changed {
		s.mem.Clear()
	}

	logging.FromContext(ctx).Info("session: collection loaded",
		slog.String("session", s.id),
		slog.String("collection", res.Collection),
		slog.Bool("restored", res.Restored),
		slog.String("variant", string(s.deps.Variant)),
	)
	return res, nil
}

// unload drops the current collection so later questions report not loaded.
func (s *Session) unload() {
	pipe, err := s.newPipeline(context.Background(), nil)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collection = ""
	s.result = nil
	if err == nil {
		s.pipe = pipe
	}
}

func (s *Session) current() (*pipeline.Pipeline, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipe, s.collection
}

// Ask answers question atomically. Both the question and the answer, or the
// rendered error, are added to the display log.
func (s *Session) Ask(ctx context.Context, question string) (pipeline.Answer, error) {
	if err := s.acquire(ctx); err != nil {
		return pipeline.Answer{}, err
	}
	defer s.release()

	pipe, coll := s.current()
	s.record(ctx, coll, store.RoleUser, question)
	ans, err := pipe.Ask(ctx, question)
	if err != nil {
		s.record(ctx, coll, store.RoleAssistant, Render(err))
		return pipeline.Answer{}, err
	}
	s.record(ctx, coll, store.RoleAssistant, ans.Text)
	return ans, nil
}

// AskText answers question and renders any failure as the answer text.
func (s *Session) AskText(ctx context.Context, question string) string {
	ans, err := s.Ask(ctx, question)
	if err != nil {
		return Render(err)
	}
	return ans.Text
}

// AskStream starts answering question. The session stays busy until the
// returned stream is closed or read to the end; the answer is added to the
// display log at that point.
func (s *Session) AskStream(ctx context.Context, question string) (*pipeline.Stream, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}

	pipe, coll := s.current()
	s.record(ctx, coll, store.RoleUser, question)
	st, err := pipe.AskStream(ctx, question)
	if err != nil {
		s.record(ctx, coll, store.RoleAssistant, Render(err))
		s.release()
		return nil, err
	}

	st.AfterClose(func() {
		text := st.Text()
		if !st.Completed() && text == "" {
			text = Render(&pipeline.Error{Kind: pipeline.KindCanceled})
		}
		s.record(context.WithoutCancel(ctx), coll, store.RoleAssistant, text)
		s.release()
	})
	return st, nil
}

// RelevantDocuments returns the k chunks closest to question.
func (s *Session) RelevantDocuments(ctx context.Context, question string, k int) ([]pipeline.Document, error) {
	pipe, _ := s.current()
	return pipe.RelevantDocuments(ctx, question, k)
}

// ClearMemory empties the conversation memory. The display log is kept.
func (s *Session) ClearMemory() { s.mem.Clear() }

// MemorySummary describes the conversation memory for display.
func (s *Session) MemorySummary() string { return s.mem.Summarize(memory.DefaultSummaryTurns) }

// History returns the turns held in conversation memory.
func (s *Session) History() []memory.Turn { return s.mem.History() }

// Transcript returns a copy of the display log.
func (s *Session) Transcript() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.display))
	copy(out, s.display)
	return out
}

// Reset clears memory and the display log and unloads the collection.
// Persisted log entries are deleted.
func (s *Session) Reset(ctx context.Context) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	s.unload()
	s.mem.Clear()
	s.mu.Lock()
	s.display = nil
	s.mu.Unlock()

	if err := s.deps.Log.Delete(ctx, s.id); err != nil {
		return fmt.Errorf("session: reset: %w", err)
	}
	return nil
}

// Restore reloads the display log of an earlier session from the persistent
// log. Conversation memory is not rebuilt from it.
func (s *Session) Restore(ctx context.Context, id string, n int) error {
	msgs, err := s.deps.Log.Recent(ctx, id, n)
	if err != nil {
		return fmt.Errorf("session: restore %s: %w", id, err)
	}
	entries := make([]Entry, len(msgs))
	for i, m := range msgs {
		entries[i] = Entry{Role: m.Role, Content: m.Content, At: m.CreatedAt}
	}
	s.mu.Lock()
	s.display = entries
	s.mu.Unlock()
	return nil
}

// record appends to the display log and persists it. Persistence failures
// are logged and otherwise ignored.
func (s *Session) record(ctx context.Context, coll string, role store.Role, content string) {
	s.mu.Lock()
	s.display = append(s.display, Entry{Role: role, Content: content, At: time.Now()})
	s.mu.Unlock()

	if err := s.deps.Log.Append(ctx, s.id, coll, role, content); err != nil {
		logging.FromContext(ctx).Warn("session: failed to persist message",
			slog.String("session", s.id),
			slog.String("error", err.Error()),
		)
	}
}
