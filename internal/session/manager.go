package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/54b3r/docrag-go/internal/logging"
)

// DefaultIdleTimeout is how long an unused session survives in a Manager.
const DefaultIdleTimeout = 30 * time.Minute

// managed is a session with its last access time.
type managed struct {
	// session is the conversation state.
	session *Session
	// lastSeen is updated on every Get.
	lastSeen time.Time
}

// Manager owns the sessions of a long-running process such as the HTTP
// server. Sessions idle for longer than the timeout are evicted.
type Manager struct {
	// deps are passed to every new session.
	deps Deps
	// idle is the eviction threshold.
	idle time.Duration
	// log records evictions.
	log *slog.Logger
	// now is the clock; replaced in tests.
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]*managed
}

// NewManager constructs a Manager and starts the background eviction
// goroutine. The goroutine exits when the returned stop function is called.
func NewManager(deps Deps, idle time.Duration, log *slog.Logger) (*Manager, func()) {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	if log == nil {
		log = logging.New()
	}
	m := &Manager{
		deps:     deps,
		idle:     idle,
		log:      log,
		now:      time.Now,
		sessions: make(map[string]*managed),
	}

	stopCh := make(chan struct{})
	go m.evictLoop(stopCh)
	return m, func() { close(stopCh) }
}

// Create starts a new session.
func (m *Manager) Create(ctx context.Context) (*Session, error) {
	s, err := New(ctx, m.deps)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.sessions[s.ID()] = &managed{session: s, lastSeen: m.now()}
	m.mu.Unlock()

	logging.FromContext(ctx).Info("session: created", slog.String("session", s.ID()))
	return s, nil
}

// Get returns the session with the given id and marks it used.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	entry.lastSeen = m.now()
	return entry.session, true
}

// Delete removes the session and its persisted log. It reports whether the
// session existed.
func (m *Manager) Delete(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	entry, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, entry.session.Reset(ctx)
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// evictLoop sweeps idle sessions once a minute until stopCh is closed.
func (m *Manager) evictLoop(stopCh <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			m.evict()
		}
	}
}

// evict removes sessions idle for longer than the timeout and returns how
// many were removed. Their persisted logs are kept.
func (m *Manager) evict() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.idle)
	n := 0
	for id, entry := range m.sessions {
		if entry.lastSeen.Before(cutoff) {
			delete(m.sessions, id)
			n++
		}
	}
	if n > 0 {
		m.log.Info("session: evicted idle sessions", slog.Int("count", n), slog.Int("remaining", len(m.sessions)))
	}
	return n
}
