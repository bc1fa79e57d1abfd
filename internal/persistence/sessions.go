package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionRow is a session as stored.
type SessionRow struct {
	ID        string
	WorkDir   string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateSession inserts a new session for the given working directory and
// registers the directory in the work-dir index.
func (s *Store) CreateSession(ctx context.Context, id, workDir string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid session id: %w", err)
	}
	if err := s.execContext(ctx, "insert session", `
		INSERT INTO sessions (id, work_dir) VALUES (?, ?);
	`, id, workDir); err != nil {
		return err
	}
	return s.execContext(ctx, "register work dir", `
		INSERT INTO work_dirs (path) VALUES (?)
		ON CONFLICT(path) DO NOTHING;
	`, workDir)
}

// GetSession returns the session with the given id, or ErrNotFound.
func (s *Store) GetSession(ctx context.Context, id string) (*SessionRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, work_dir, title, created_at, updated_at
		FROM sessions WHERE id = ?;
	`, id)
	var sr SessionRow
	err := row.Scan(&sr.ID, &sr.WorkDir, &sr.Title, &sr.CreatedAt, &sr.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storagef("scan session: %v", err)
	}
	return &sr, nil
}

// ListSessions returns the sessions for a working directory, most recently
// updated first.
func (s *Store) ListSessions(ctx context.Context, workDir string) ([]SessionRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, work_dir, title, created_at, updated_at
		FROM sessions
		WHERE work_dir = ?
		ORDER BY updated_at DESC, created_at DESC;
	`, workDir)
	if err != nil {
		return nil, storagef("query sessions: %v", err)
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		var sr SessionRow
		if err := rows.Scan(&sr.ID, &sr.WorkDir, &sr.Title, &sr.CreatedAt, &sr.UpdatedAt); err != nil {
			return nil, storagef("scan session: %v", err)
		}
		out = append(out, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, storagef("session rows: %v", err)
	}
	return out, nil
}

// TouchSession bumps a session's updated_at and, when the session has no
// title yet and title is non-empty, sets the title.
func (s *Store) TouchSession(ctx context.Context, id, title string) error {
	if err := s.execContext(ctx, "touch session", `
		UPDATE sessions SET updated_at = CURRENT_TIMESTAMP WHERE id = ?;
	`, id); err != nil {
		return err
	}
	if title == "" {
		return nil
	}
	return s.execContext(ctx, "set session title", `
		UPDATE sessions SET title = ? WHERE id = ? AND title = '';
	`, title, id)
}

// SetLastSession records the most recently used session for a directory.
func (s *Store) SetLastSession(ctx context.Context, workDir, sessionID string) error {
	return s.execContext(ctx, "set last session", `
		INSERT INTO work_dirs (path, last_session_id) VALUES (?, ?)
		ON CONFLICT(path) DO UPDATE SET last_session_id = excluded.last_session_id;
	`, workDir, sessionID)
}

// LastSession returns the id of the most recently used session for a
// directory, or "" when none is recorded.
func (s *Store) LastSession(ctx context.Context, workDir string) (string, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT last_session_id FROM work_dirs WHERE path = ?;
	`, workDir)
	var id string
	err := row.Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", storagef("scan last session: %v", err)
	}
	return id, nil
}
