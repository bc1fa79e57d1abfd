package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const globLimit = 100

// Glob lists files matching a pattern under the session working directory,
// newest first.
type Glob struct {
	workDir string
}

func NewGlob(workDir string) *Glob {
	return &Glob{workDir: workDir}
}

func (t *Glob) Name() string { return "glob" }

func (t *Glob) Capability() string { return "fs_read" }

func (t *Glob) Description() string {
	return "List files matching a glob pattern, relative to the working directory, most recently modified first."
}

func (t *Glob) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{
				"type":        "string",
				"description": "Glob pattern, e.g. \"internal/*/[a-z]*.go\".",
			},
		},
		"required":             []any{"pattern"},
		"additionalProperties": false,
	}
}

func (t *Glob) Invoke(ctx context.Context, args json.RawMessage) Result {
	var in struct {
		Pattern string `json:"pattern"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return Errorf("decode arguments: %v", err)
	}
	if strings.Contains(in.Pattern, "..") {
		return Errorf("pattern must not contain \"..\"")
	}
	matches, err := filepath.Glob(filepath.Join(t.workDir, in.Pattern))
	if err != nil {
		return Errorf("bad pattern %q: %v", in.Pattern, err)
	}

	type hit struct {
		path  string
		mtime int64
	}
	hits := make([]hit, 0, len(matches))
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		rel, err := filepath.Rel(t.workDir, m)
		if err != nil {
			continue
		}
		hits = append(hits, hit{path: rel, mtime: info.ModTime().UnixNano()})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].mtime > hits[j].mtime })

	truncated := false
	if len(hits) > globLimit {
		hits = hits[:globLimit]
		truncated = true
	}
	var sb strings.Builder
	for _, h := range hits {
		sb.WriteString(h.path)
		sb.WriteByte('\n')
	}
	if truncated {
		sb.WriteString(fmt.Sprintf("(truncated to %d entries)\n", globLimit))
	}
	return Result{
		OK:     true,
		Output: sb.String(),
		Brief:  fmt.Sprintf("glob %q matched %d files", in.Pattern, len(hits)),
	}
}
