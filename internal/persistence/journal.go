package persistence

import (
	"context"
)

// Journal record kinds. A checkpoint is itself a record: the checkpoint
// counter of a session always equals the number of checkpoint records, so
// sequential replay reconstructs it.
const (
	RecordMessage    = "message"
	RecordCheckpoint = "checkpoint"
)

// Record is one journal entry.
type Record struct {
	ID      int64
	Kind    string
	Payload string
}

// AppendRecord appends one record to a session's journal and returns its
// storage id. The write is durable when this returns.
func (s *Store) AppendRecord(ctx context.Context, sessionID, kind, payload string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO journal (session_id, kind, payload) VALUES (?, ?, ?);
	`, sessionID, kind, payload)
	if err != nil {
		return 0, storagef("append journal record: %v", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storagef("journal record id: %v", err)
	}
	return id, nil
}

// ListRecords returns a session's journal records in append order.
func (s *Store) ListRecords(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, payload FROM journal
		WHERE session_id = ?
		ORDER BY id ASC;
	`, sessionID)
	if err != nil {
		return nil, storagef("query journal: %v", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Kind, &r.Payload); err != nil {
			return nil, storagef("scan journal record: %v", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storagef("journal rows: %v", err)
	}
	return out, nil
}

// DeleteRecordsAfter removes every record of the session with an id greater
// than afterID. Used by rewind.
func (s *Store) DeleteRecordsAfter(ctx context.Context, sessionID string, afterID int64) error {
	return s.execContext(ctx, "truncate journal", `
		DELETE FROM journal WHERE session_id = ? AND id > ?;
	`, sessionID, afterID)
}

// DeleteRecords removes all records of the session. Used by clear.
func (s *Store) DeleteRecords(ctx context.Context, sessionID string) error {
	return s.execContext(ctx, "clear journal", `
		DELETE FROM journal WHERE session_id = ?;
	`, sessionID)
}

// ReplaceRecords atomically replaces a session's journal with the given
// sequence. Used by compaction; record order is preserved, storage ids are
// reassigned.
func (s *Store) ReplaceRecords(ctx context.Context, sessionID string, records []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storagef("begin replace: %v", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM journal WHERE session_id = ?;`, sessionID); err != nil {
		return storagef("replace journal (delete): %v", err)
	}
	for _, r := range records {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO journal (session_id, kind, payload) VALUES (?, ?, ?);
		`, sessionID, r.Kind, r.Payload); err != nil {
			return storagef("replace journal (insert): %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storagef("replace journal (commit): %v", err)
	}
	return nil
}
