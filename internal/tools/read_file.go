package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const readFileLimit = 256 << 10

// ReadFile reads a text file inside the session working directory. Reading
// is side-effect free, so it never consults the approval gate.
type ReadFile struct {
	workDir string
}

func NewReadFile(workDir string) *ReadFile {
	return &ReadFile{workDir: workDir}
}

func (t *ReadFile) Name() string { return "read_file" }

func (t *ReadFile) Capability() string { return "fs_read" }

func (t *ReadFile) Description() string {
	return "Read a text file. The path must be absolute and inside the working directory."
}

func (t *ReadFile) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Absolute path of the file to read.",
			},
		},
		"required":             []any{"path"},
		"additionalProperties": false,
	}
}

func (t *ReadFile) Invoke(ctx context.Context, args json.RawMessage) Result {
	var in struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return Errorf("decode arguments: %v", err)
	}
	path, err := confinePath(t.workDir, in.Path)
	if err != nil {
		return Errorf("%v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Errorf("read %s: %v", path, err)
	}
	if len(data) > readFileLimit {
		data = data[:readFileLimit]
	}
	return Result{
		OK:     true,
		Output: string(data),
		Brief:  fmt.Sprintf("Read %s (%d bytes)", path, len(data)),
	}
}

// confinePath resolves raw as an absolute path and rejects anything outside
// workDir.
func confinePath(workDir, raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("path is required")
	}
	if !filepath.IsAbs(raw) {
		return "", fmt.Errorf("path must be absolute: %s", raw)
	}
	path := filepath.Clean(raw)
	dir := filepath.Clean(workDir)
	if path != dir && !strings.HasPrefix(path, dir+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside the working directory %s", path, dir)
	}
	return path, nil
}
