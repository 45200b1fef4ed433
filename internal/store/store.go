// Package store persists the display log of chat sessions: every question and
// answer shown to the user, keyed by session ID and tagged with the collection
// it was asked against. The log survives restarts of `docrag serve` and
// `docrag chat`; it is separate from conversation memory, which is bounded
// and feeds the prompt.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Role identifies the author of a logged message.
type Role string

const (
	// RoleUser is a question typed by the user.
	RoleUser Role = "user"
	// RoleAssistant is an answer produced by the pipeline.
	RoleAssistant Role = "assistant"
)

// Message is a single logged message.
type Message struct {
	// Role is the author of the message.
	Role Role
	// Collection is the collection the session had loaded.
	Collection string
	// Content is the text of the message.
	Content string
	// CreatedAt is when the message was persisted.
	CreatedAt time.Time
}

// Log persists and retrieves session display logs. Implementations must be
// safe for concurrent use.
type Log interface {
	// Append persists a single message for the given session.
	Append(ctx context.Context, sessionID, collection string, role Role, content string) error
	// Recent returns the most recent n messages of the session, oldest first.
	// If fewer than n messages exist, all are returned.
	Recent(ctx context.Context, sessionID string, n int) ([]Message, error)
	// Delete removes every message of the session.
	Delete(ctx context.Context, sessionID string) error
	// Close releases any resources held by the log.
	Close() error
}

// SQLiteStore is a Log backed by a local SQLite database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns ~/.docrag/history.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".docrag")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "history.db"), nil
}

// Open opens (or creates) a SQLiteStore at path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Single writer connection; also keeps ":memory:" to one database.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS session_messages (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id   TEXT    NOT NULL,
    collection   TEXT    NOT NULL,
    role         TEXT    NOT NULL CHECK(role IN ('user','assistant')),
    content      TEXT    NOT NULL,
    created_at   INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE INDEX IF NOT EXISTS idx_session_messages_session
    ON session_messages (session_id, id);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Append persists a single message.
func (s *SQLiteStore) Append(ctx context.Context, sessionID, collection string, role Role, content string) error {
	const q = `INSERT INTO session_messages (session_id, collection, role, content, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, sessionID, collection, string(role), content, time.Now().Unix()); err != nil {
		return fmt.Errorf("store: append: %w", err)
	}
	return nil
}

// Recent returns the most recent n messages of the session, oldest first.
func (s *SQLiteStore) Recent(ctx context.Context, sessionID string, n int) ([]Message, error) {
	const q = `
SELECT role, collection, content, created_at FROM (
    SELECT id, role, collection, content, created_at
    FROM   session_messages
    WHERE  session_id = ?
    ORDER  BY id DESC
    LIMIT  ?
) ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, q, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var ts int64
		var role string
		if err := rows.Scan(&role, &m.Collection, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("store: recent scan: %w", err)
		}
		m.Role = Role(role)
		m.CreatedAt = time.Unix(ts, 0)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent rows: %w", err)
	}
	return msgs, nil
}

// Delete removes the session's messages.
func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("store: delete: %w", err)
	}
	return nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

// Nop is a Log that stores nothing. Used when history is disabled.
type Nop struct{}

func (Nop) Append(context.Context, string, string, Role, string) error { return nil }
func (Nop) Recent(context.Context, string, int) ([]Message, error)    { return nil, nil }
func (Nop) Delete(context.Context, string) error                       { return nil }
func (Nop) Close() error                                               { return nil }

// OpenFromEnv opens the log at DOCRAG_HISTORY_DB, or DefaultDBPath when
// unset. The value "disabled" returns Nop.
func OpenFromEnv() (Log, string, error) {
	path := os.Getenv("DOCRAG_HISTORY_DB")
	if path == "disabled" {
		return Nop{}, "disabled", nil
	}
	if path == "" {
		var err error
		if path, err = DefaultDBPath(); err != nil {
			return nil, "", err
		}
	}
	s, err := Open(path)
	if err != nil {
		return nil, "", err
	}
	return s, path, nil
}
