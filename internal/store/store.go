// Package store provides a SQLite-backed session registry. Sessions are
// persisted across server restarts so a built index can be queried later
// by its session ID alone.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/riku-miura/wiki-rag/internal/rag"
	"github.com/riku-miura/wiki-rag/internal/session"
)

// SessionStore is a session registry backed by a local SQLite database.
type SessionStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the session database. It
// resolves to ~/.wikirag/sessions.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".wikirag")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "sessions.db"), nil
}

// Open opens (or creates) a SessionStore at the given path and runs the
// schema migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SessionStore, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SessionStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SessionStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS sessions (
    id              TEXT    PRIMARY KEY,
    source_url      TEXT    NOT NULL,
    status          TEXT    NOT NULL CHECK(status IN ('processing','ready','failed','expired')),
    chunk_count     INTEGER NOT NULL DEFAULT 0,
    embedding_dim   INTEGER NOT NULL DEFAULT 0,
    index_location  TEXT    NOT NULL DEFAULT '',
    metadata        TEXT    NOT NULL DEFAULT '{}',  -- JSON blob
    created_at      INTEGER NOT NULL,  -- Unix timestamp (seconds)
    updated_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_status_updated
    ON sessions (status, updated_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Save inserts or replaces the session row.
func (s *SessionStore) Save(ctx context.Context, sess *session.Session) error {
	metadata, err := json.Marshal(sess.Metadata)
	if err != nil {
		return fmt.Errorf("store: encode metadata: %w", err)
	}
	const q = `
INSERT INTO sessions (id, source_url, status, chunk_count, embedding_dim, index_location, metadata, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    status         = excluded.status,
    chunk_count    = excluded.chunk_count,
    embedding_dim  = excluded.embedding_dim,
    index_location = excluded.index_location,
    metadata       = excluded.metadata,
    updated_at     = excluded.updated_at`
	_, err = s.db.ExecContext(ctx, q,
		sess.ID.String(), sess.SourceURL, string(sess.Status),
		sess.ChunkCount, sess.EmbeddingDimension, sess.IndexLocation,
		string(metadata), sess.CreatedAt.Unix(), sess.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("store: save session %s: %w", sess.ID, err)
	}
	return nil
}

// Get returns the session with the given ID. Unknown IDs return
// rag.ErrNotFound.
func (s *SessionStore) Get(ctx context.Context, id uuid.UUID) (*session.Session, error) {
	const q = `
SELECT id, source_url, status, chunk_count, embedding_dim, index_location, metadata, created_at, updated_at
FROM   sessions
WHERE  id = ?`
	return scanSession(s.db.QueryRowContext(ctx, q, id.String()))
}

// List returns the most recently updated sessions, newest first.
func (s *SessionStore) List(ctx context.Context, limit int) ([]*session.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT id, source_url, status, chunk_count, embedding_dim, index_location, metadata, created_at, updated_at
FROM   sessions
ORDER  BY updated_at DESC
LIMIT  ?`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list rows: %w", err)
	}
	return sessions, nil
}

// ExpireBefore marks every ready session last updated before the cutoff as
// expired and returns how many rows changed.
func (s *SessionStore) ExpireBefore(ctx context.Context, cutoff time.Time) (int, error) {
	const q = `
UPDATE sessions
SET    status = 'expired', updated_at = ?
WHERE  status = 'ready' AND updated_at < ?`
	res, err := s.db.ExecContext(ctx, q, time.Now().Unix(), cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("store: expire sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: expire rows affected: %w", err)
	}
	return int(n), nil
}

// Close releases the database connection pool.
func (s *SessionStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

// Ping verifies the database connection.
func (s *SessionStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*session.Session, error) {
	var (
		sess               session.Session
		id, status, meta   string
		createdAt, updated int64
	)
	err := row.Scan(&id, &sess.SourceURL, &status, &sess.ChunkCount,
		&sess.EmbeddingDimension, &sess.IndexLocation, &meta, &createdAt, &updated)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: session", rag.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan session: %w", err)
	}

	sess.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("store: session row has invalid ID %q: %w", id, err)
	}
	sess.Status = session.Status(status)
	sess.CreatedAt = time.Unix(createdAt, 0).UTC()
	sess.UpdatedAt = time.Unix(updated, 0).UTC()
	if err := json.Unmarshal([]byte(meta), &sess.Metadata); err != nil {
		return nil, fmt.Errorf("store: session row has invalid metadata: %w", err)
	}
	return &sess, nil
}
