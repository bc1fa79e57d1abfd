// Package persistence is the durable SQLite layer under sessions and
// journals. Every mutating call commits before it returns: callers never
// observe in-memory-only progress.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

const (
	schemaVersion  = 1
	schemaChecksum = "kestrel-v1-sessions-journal"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrStorage wraps unrecoverable storage failures. Storage errors are fatal
// to the session and must never be silently dropped.
var ErrStorage = errors.New("storage error")

func storagef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrStorage, fmt.Sprintf(format, args...))
}

// Store wraps the SQLite database holding sessions, journal records and the
// work-dir index.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if necessary) the database at path and applies the
// schema. The connection is configured for full synchronous writes so that
// appends are durable when they return.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, storagef("create data dir: %v", err)
	}

	dsn := path + "?_busy_timeout=5000&_journal_mode=WAL&_synchronous=FULL&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, storagef("open database: %v", err)
	}
	// SQLite writes are serialized; a single connection avoids SQLITE_BUSY
	// between the journal and the session index.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger}
	if err := s.applySchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) applySchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS schema_info (
		version INTEGER NOT NULL,
		checksum TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		work_dir TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_work_dir ON sessions(work_dir, updated_at);

	CREATE TABLE IF NOT EXISTS work_dirs (
		path TEXT PRIMARY KEY,
		last_session_id TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS journal (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_journal_session ON journal(session_id, id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return storagef("apply schema: %v", err)
	}

	var version int
	var checksum string
	err := s.db.QueryRow(`SELECT version, checksum FROM schema_info LIMIT 1`).Scan(&version, &checksum)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.Exec(`INSERT INTO schema_info (version, checksum) VALUES (?, ?)`, schemaVersion, schemaChecksum); err != nil {
			return storagef("record schema version: %v", err)
		}
	case err != nil:
		return storagef("read schema version: %v", err)
	case version != schemaVersion:
		return storagef("schema version mismatch: have %d, want %d", version, schemaVersion)
	}
	return nil
}

// execContext runs a statement and maps failures to ErrStorage.
func (s *Store) execContext(ctx context.Context, what, query string, args ...any) error {
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return storagef("%s: %v", what, err)
	}
	return nil
}
