package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kestrelcli/kestrel/internal/approval"
	"github.com/kestrelcli/kestrel/internal/policy"
)

// WriteFile writes a text file inside the session working directory (or a
// policy-allowed extra path). Every write passes the approval gate.
type WriteFile struct {
	workDir string
	gate    *approval.Gate
	policy  policy.Checker
}

func NewWriteFile(workDir string, gate *approval.Gate, pol policy.Checker) *WriteFile {
	return &WriteFile{workDir: workDir, gate: gate, policy: pol}
}

func (t *WriteFile) Name() string { return "write_file" }

func (t *WriteFile) Capability() string { return "fs_write" }

func (t *WriteFile) Description() string {
	return "Write content to a file. Creates the file, overwrites it, or appends to it. The path must be absolute."
}

func (t *WriteFile) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Absolute path of the file to write.",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Content to write.",
			},
			"append": map[string]any{
				"type":        "boolean",
				"description": "Append instead of overwriting.",
			},
		},
		"required":             []any{"path", "content"},
		"additionalProperties": false,
	}
}

func (t *WriteFile) Invoke(ctx context.Context, args json.RawMessage) Result {
	var in struct {
		Path    string `json:"path"`
		Content string `json:"content"`
		Append  bool   `json:"append"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return Errorf("decode arguments: %v", err)
	}

	path, err := confinePath(t.workDir, in.Path)
	if err != nil {
		// Paths outside the working directory are still allowed when the
		// policy lists them.
		if !filepath.IsAbs(in.Path) || t.policy == nil || !t.policy.AllowPath(in.Path) {
			return Errorf("%v", err)
		}
		path = filepath.Clean(in.Path)
	}
	if info, err := os.Stat(filepath.Dir(path)); err != nil || !info.IsDir() {
		return Errorf("parent directory of %s does not exist", path)
	}

	verb := "Write"
	if in.Append {
		verb = "Append to"
	}
	approved, err := t.gate.Request(ctx, t.Name(), approval.ActionEdit,
		fmt.Sprintf("%s file %s (%d bytes)", verb, path, len(in.Content)))
	if err != nil {
		return Errorf("approval: %v", err)
	}
	if !approved {
		return Rejected()
	}

	flags := os.O_CREATE | os.O_WRONLY
	if in.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return Errorf("open %s: %v", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(in.Content); err != nil {
		return Errorf("write %s: %v", path, err)
	}
	return Result{
		OK:      true,
		Message: fmt.Sprintf("Wrote %d bytes to %s", len(in.Content), path),
		Brief:   fmt.Sprintf("%s %s", verb, path),
	}
}
