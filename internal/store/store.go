// Package store provides the durable local cache for the offline data layer.
//
// The store is an embedded SQLite database (WAL mode) holding:
//   - records: named collections of verbatim server records, with secondary
//     indexes by project, assignee and status for filtered reads
//   - sync_metadata: last successful network refresh per collection
//   - pending_actions: the write-ahead queue of mutations made while offline
//
// Every operation is scoped to a single collection and runs in one
// transaction. Lookups never fail for a missing key: Get returns nil.
//
// The store is an explicit handle. Open it once at startup and pass it to
// the query and sync layers.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the SQLite connection backing the local cache.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates a new store at the specified path.
//
// The database is opened in WAL mode so readers never wait on the sync
// manager's writes. The schema is created if missing.
//
// The caller MUST call Close() when done.
func Open(path string) (*Store, error) {
	return OpenContext(context.Background(), path)
}

// OpenContext is Open with context support.
func OpenContext(ctx context.Context, path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := s.conn.ExecContext(ctx, p); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	if err := s.InitSchemaContext(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// RawDB returns the underlying sql.DB connection.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Close closes the store.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the store schema if it doesn't exist. Idempotent.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		data TEXT NOT NULL,         -- verbatim server JSON
		project_id TEXT NOT NULL DEFAULT '',
		assignee TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL,
		PRIMARY KEY (collection, id)
	);

	CREATE INDEX IF NOT EXISTS idx_records_project ON records(collection, project_id);
	CREATE INDEX IF NOT EXISTS idx_records_assignee ON records(collection, assignee);
	CREATE INDEX IF NOT EXISTS idx_records_status ON records(collection, status);

	CREATE TABLE IF NOT EXISTS sync_metadata (
		collection TEXT PRIMARY KEY,
		last_refreshed_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pending_actions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL,
		affected TEXT NOT NULL,     -- JSON array of collections
		idempotency_key TEXT NOT NULL,
		synced INTEGER NOT NULL DEFAULT 0,
		retry_count INTEGER NOT NULL DEFAULT 0,
		enqueued_at TEXT NOT NULL,
		last_attempt_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_pending_unsynced ON pending_actions(synced, id);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
