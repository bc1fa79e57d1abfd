// Package session manages session identity and lookup on top of the
// persistence layer. A session binds a conversation journal to a working
// directory; its id is a UUID that survives restarts.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelcli/kestrel/internal/journal"
	"github.com/kestrelcli/kestrel/internal/persistence"
)

// Session is the resolved identity of one conversation.
type Session struct {
	ID        string
	WorkDir   string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func fromRow(row *persistence.SessionRow) *Session {
	return &Session{
		ID:        row.ID,
		WorkDir:   row.WorkDir,
		Title:     row.Title,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}

// Store resolves and creates sessions for a working directory.
type Store struct {
	store   *persistence.Store
	workDir string
	logger  *slog.Logger
}

// NewStore returns a session store scoped to workDir.
func NewStore(store *persistence.Store, workDir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{store: store, workDir: workDir, logger: logger}
}

// Create starts a fresh session with a new UUID.
func (s *Store) Create(ctx context.Context) (*Session, error) {
	id := uuid.NewString()
	if err := s.store.CreateSession(ctx, id, s.workDir); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.logger.Info("session created", "session_id", id, "work_dir", s.workDir)
	row, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return fromRow(row), nil
}

// Continue returns the most recently used session for the working
// directory, or nil when there is none. Continuing the same directory twice
// yields the same session id.
func (s *Store) Continue(ctx context.Context) (*Session, error) {
	id, err := s.store.LastSession(ctx, s.workDir)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, nil
	}
	row, err := s.store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return fromRow(row), nil
}

// Find returns the session with the given id, or nil when it does not
// exist in this working directory. Lookup is exact; there is no prefix
// matching, and a session from another directory never resolves.
func (s *Store) Find(ctx context.Context, id string) (*Session, error) {
	row, err := s.store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if row.WorkDir != s.workDir {
		return nil, nil
	}
	return fromRow(row), nil
}

// List returns the sessions for the working directory, most recently used
// first.
func (s *Store) List(ctx context.Context) ([]*Session, error) {
	rows, err := s.store.ListSessions(ctx, s.workDir)
	if err != nil {
		return nil, err
	}
	out := make([]*Session, 0, len(rows))
	for i := range rows {
		out = append(out, fromRow(&rows[i]))
	}
	return out, nil
}

// SetLast records sess as the directory's most recent session, so the next
// continue resolves to it.
func (s *Store) SetLast(ctx context.Context, sess *Session) error {
	return s.store.SetLastSession(ctx, s.workDir, sess.ID)
}

// Touch bumps the session's activity time and, on first use, derives a
// title from the opening prompt.
func (s *Store) Touch(ctx context.Context, sessionID, firstPrompt string) error {
	return s.store.TouchSession(ctx, sessionID, TitleFromPrompt(firstPrompt))
}

// OpenJournal loads the session's conversation journal.
func (s *Store) OpenJournal(ctx context.Context, sess *Session) (*journal.Journal, error) {
	return journal.Open(ctx, s.store, sess.ID)
}

// TitleFromPrompt derives a short session title from the first user prompt.
func TitleFromPrompt(prompt string) string {
	title := strings.Join(strings.Fields(prompt), " ")
	const maxTitle = 60
	if len(title) > maxTitle {
		title = strings.TrimSpace(title[:maxTitle]) + "..."
	}
	return title
}
