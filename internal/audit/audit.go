// Package audit writes the append-only approval audit trail. Every
// resolution of the approval gate is recorded, including yolo
// auto-approvals, so a session's side-effecting actions can be reviewed
// after the fact.
package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type entry struct {
	Timestamp   string `json:"timestamp"`
	Decision    string `json:"decision"`
	Tool        string `json:"tool"`
	Action      string `json:"action"`
	Description string `json:"description"`
	Reason      string `json:"reason,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
}

// Log appends audit entries to logs/audit.jsonl under the data directory.
// A nil *Log is a no-op, so callers need not guard against a disabled trail.
type Log struct {
	mu   sync.Mutex
	file *os.File
}

// Open creates (or appends to) the audit log under homeDir.
func Open(homeDir string) (*Log, error) {
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(logDir, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &Log{file: f}, nil
}

// Record appends one decision entry. Failures are swallowed: auditing must
// never block the approval path.
func (l *Log) Record(sessionID, decision, tool, action, description, reason string) {
	if l == nil {
		return
	}
	e := entry{
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Decision:    decision,
		Tool:        tool,
		Action:      action,
		Description: description,
		Reason:      reason,
		SessionID:   sessionID,
	}
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.file.Write(append(data, '\n'))
}

// Close closes the underlying file.
func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
