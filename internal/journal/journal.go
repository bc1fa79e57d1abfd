// Package journal implements the durable, append-only conversation log of a
// session. Checkpoints are journal records: the checkpoint counter always
// equals the number of checkpoint records, so replaying the record sequence
// reconstructs the full state after a restart.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/kestrelcli/kestrel/internal/message"
	"github.com/kestrelcli/kestrel/internal/persistence"
	"github.com/kestrelcli/kestrel/internal/tokenutil"
)

// ErrInvalidCheckpoint reports a rewind target that does not exist. The
// TimeMachine validates targets before a rewind is attempted, so hitting
// this from the runtime is an invariant violation, not a user error.
var ErrInvalidCheckpoint = errors.New("invalid checkpoint")

type record struct {
	id   int64           // storage id, monotonic with record order
	kind string          // persistence.RecordMessage or RecordCheckpoint
	msg  message.Message // valid for message records
}

// Journal is the conversation log of one session. All operations are
// serialized; every mutation is persisted before it returns.
type Journal struct {
	store     *persistence.Store
	sessionID string

	mu      sync.Mutex
	records []record
	lastID  int64 // storage id of the last record, for truncation
	ncp     int   // number of checkpoint records
}

// Open loads the session's journal from the store, replaying the record
// sequence to rebuild the in-memory view and the checkpoint counter.
func Open(ctx context.Context, store *persistence.Store, sessionID string) (*Journal, error) {
	rows, err := store.ListRecords(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load journal: %w", err)
	}
	j := &Journal{store: store, sessionID: sessionID}
	for _, row := range rows {
		r := record{id: row.ID, kind: row.Kind}
		if row.Kind == persistence.RecordMessage {
			if err := json.Unmarshal([]byte(row.Payload), &r.msg); err != nil {
				return nil, fmt.Errorf("decode journal record %d: %w", row.ID, err)
			}
		} else {
			j.ncp++
		}
		j.records = append(j.records, r)
		j.lastID = row.ID
	}
	return j, nil
}

// SessionID returns the owning session's id.
func (j *Journal) SessionID() string { return j.sessionID }

// Append appends a message and returns its position (record ordinal).
func (j *Journal) Append(ctx context.Context, msg message.Message) (int, error) {
	if !msg.Role.Valid() {
		return 0, fmt.Errorf("append: invalid role %q", msg.Role)
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("encode message: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	id, err := j.store.AppendRecord(ctx, j.sessionID, persistence.RecordMessage, string(payload))
	if err != nil {
		return 0, err
	}
	j.records = append(j.records, record{id: id, kind: persistence.RecordMessage, msg: msg})
	j.lastID = id
	return len(j.records) - 1, nil
}

// Checkpoint appends a checkpoint record and returns its ordinal (0-based).
// Ordinals increase monotonically and are never reused while the journal is
// only appended to.
func (j *Journal) Checkpoint(ctx context.Context) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	id, err := j.store.AppendRecord(ctx, j.sessionID, persistence.RecordCheckpoint, "")
	if err != nil {
		return 0, err
	}
	j.records = append(j.records, record{id: id, kind: persistence.RecordCheckpoint})
	j.lastID = id
	j.ncp++
	return j.ncp - 1, nil
}

// NCheckpoints returns the current checkpoint count.
func (j *Journal) NCheckpoints() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.ncp
}

// Len returns the number of records (messages and checkpoints).
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.records)
}

// Messages returns a copy of the message entries in order, skipping
// checkpoint records.
func (j *Journal) Messages() []message.Message {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]message.Message, 0, len(j.records))
	for _, r := range j.records {
		if r.kind == persistence.RecordMessage {
			out = append(out, r.msg)
		}
	}
	return out
}

// EstimateTokens returns the projected token usage of the journal's
// messages.
func (j *Journal) EstimateTokens() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	total := 0
	for _, r := range j.records {
		if r.kind == persistence.RecordMessage {
			total += tokenutil.EstimateMessage(r.msg)
		}
	}
	return total
}

// Clear truncates the journal to empty and resets the checkpoint counter.
func (j *Journal) Clear(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.store.DeleteRecords(ctx, j.sessionID); err != nil {
		return err
	}
	j.records = nil
	j.lastID = 0
	j.ncp = 0
	return nil
}

// Rewind discards every record after checkpoint id and resets the counter to
// id+1. An out-of-range id fails loudly; it must never clamp.
func (j *Journal) Rewind(ctx context.Context, id int) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if id < 0 || id >= j.ncp {
		return fmt.Errorf("%w: rewind to %d with %d checkpoints", ErrInvalidCheckpoint, id, j.ncp)
	}

	// Locate the (id+1)-th checkpoint record.
	seen := 0
	cut := -1
	for i, r := range j.records {
		if r.kind == persistence.RecordCheckpoint {
			if seen == id {
				cut = i
				break
			}
			seen++
		}
	}
	if cut < 0 {
		return fmt.Errorf("%w: checkpoint %d not found in journal", ErrInvalidCheckpoint, id)
	}

	// Storage ids increase with record order, so the id of the cut record
	// bounds the truncation.
	if err := j.store.DeleteRecordsAfter(ctx, j.sessionID, j.records[cut].id); err != nil {
		return err
	}

	j.records = j.records[:cut+1]
	j.lastID = j.records[cut].id
	j.ncp = id + 1
	return nil
}

// CompactTo replaces all history before the journal's last keep checkpoint
// segments with the single summary message, preserving the tail. After
// compaction the checkpoint counter equals keep (checkpoint ordinals are
// renumbered from zero); callers must refresh any external checkpoint-count
// mirror. A keep >= the current count is a no-op.
func (j *Journal) CompactTo(ctx context.Context, keep int, summary message.Message) error {
	if keep < 1 {
		keep = 1
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	if keep >= j.ncp {
		return nil
	}

	// The tail starts right after the last dropped checkpoint record.
	drop := j.ncp - keep
	seen := 0
	start := -1
	for i, r := range j.records {
		if r.kind == persistence.RecordCheckpoint {
			seen++
			if seen == drop {
				start = i + 1
				break
			}
		}
	}
	if start < 0 {
		return fmt.Errorf("compact: checkpoint structure out of sync")
	}

	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	replacement := []persistence.Record{{Kind: persistence.RecordMessage, Payload: string(payload)}}
	for _, r := range j.records[start:] {
		if r.kind == persistence.RecordCheckpoint {
			replacement = append(replacement, persistence.Record{Kind: persistence.RecordCheckpoint})
			continue
		}
		p, err := json.Marshal(r.msg)
		if err != nil {
			return fmt.Errorf("encode kept message: %w", err)
		}
		replacement = append(replacement, persistence.Record{Kind: persistence.RecordMessage, Payload: string(p)})
	}
	if err := j.store.ReplaceRecords(ctx, j.sessionID, replacement); err != nil {
		return err
	}

	// Storage ids were reassigned by the replace; reload them.
	rows, err := j.store.ListRecords(ctx, j.sessionID)
	if err != nil {
		return err
	}
	kept := append([]record{{kind: persistence.RecordMessage, msg: summary}}, j.records[start:]...)
	if len(rows) != len(kept) {
		return fmt.Errorf("compact: journal out of sync after replace")
	}
	for i := range kept {
		kept[i].id = rows[i].ID
	}
	j.records = kept
	j.lastID = kept[len(kept)-1].id
	j.ncp = keep
	return nil
}
