package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kestrelcli/kestrel/internal/approval"
	"github.com/kestrelcli/kestrel/internal/policy"
)

func TestReadFileInsideWorkDir(t *testing.T) {
	workDir := t.TempDir()
	path := filepath.Join(workDir, "note.txt")
	if err := os.WriteFile(path, []byte("contents"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	tool := NewReadFile(workDir)
	args, _ := json.Marshal(map[string]string{"path": path})
	res := tool.Invoke(context.Background(), args)
	if !res.OK || res.Output != "contents" {
		t.Fatalf("read = %+v", res)
	}
}

func TestReadFileRejectsEscapes(t *testing.T) {
	workDir := t.TempDir()
	tool := NewReadFile(workDir)
	for _, path := range []string{
		"/etc/passwd",
		filepath.Join(workDir, "..", "sibling"),
		"relative.txt",
		"",
	} {
		args, _ := json.Marshal(map[string]string{"path": path})
		if res := tool.Invoke(context.Background(), args); res.OK {
			t.Errorf("read of %q succeeded", path)
		}
	}
}

func TestWriteFileRequiresApproval(t *testing.T) {
	workDir := t.TempDir()
	path := filepath.Join(workDir, "out.txt")

	// No handler, no yolo: the gate denies and the file never appears.
	gate := approval.New("sess", nil, false)
	tool := NewWriteFile(workDir, gate, policy.Default())
	args, _ := json.Marshal(map[string]string{"path": path, "content": "data"})
	res := tool.Invoke(context.Background(), args)
	if res.OK {
		t.Fatalf("denied write succeeded: %+v", res)
	}
	if !res.Rejected {
		t.Fatalf("denied write not marked rejected: %+v", res)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("file written despite denial")
	}
}

func TestWriteFileApproved(t *testing.T) {
	workDir := t.TempDir()
	path := filepath.Join(workDir, "out.txt")

	gate := approval.New("sess", nil, true)
	tool := NewWriteFile(workDir, gate, policy.Default())
	args, _ := json.Marshal(map[string]string{"path": path, "content": "first"})
	if res := tool.Invoke(context.Background(), args); !res.OK {
		t.Fatalf("write = %+v", res)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "first" {
		t.Fatalf("file = %q, %v", data, err)
	}

	appendArgs, _ := json.Marshal(map[string]any{"path": path, "content": " second", "append": true})
	if res := tool.Invoke(context.Background(), appendArgs); !res.OK {
		t.Fatalf("append = %+v", res)
	}
	data, _ = os.ReadFile(path)
	if string(data) != "first second" {
		t.Fatalf("after append = %q", data)
	}
}

func TestWriteFileParentMustExist(t *testing.T) {
	workDir := t.TempDir()
	gate := approval.New("sess", nil, true)
	tool := NewWriteFile(workDir, gate, policy.Default())
	args, _ := json.Marshal(map[string]string{
		"path":    filepath.Join(workDir, "missing", "out.txt"),
		"content": "x",
	})
	if res := tool.Invoke(context.Background(), args); res.OK {
		t.Fatalf("write into missing directory succeeded: %+v", res)
	}
}

func TestGlobMatchesAndConfines(t *testing.T) {
	workDir := t.TempDir()
	for i := 0; i < 3; i++ {
		name := filepath.Join(workDir, fmt.Sprintf("f%d.txt", i))
		if err := os.WriteFile(name, []byte("x"), 0o644); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
	}

	tool := NewGlob(workDir)
	args, _ := json.Marshal(map[string]string{"pattern": "*.txt"})
	res := tool.Invoke(context.Background(), args)
	if !res.OK {
		t.Fatalf("glob = %+v", res)
	}
	for i := 0; i < 3; i++ {
		want := fmt.Sprintf("f%d.txt", i)
		if !strings.Contains(res.Output, want) {
			t.Errorf("glob output missing %s:\n%s", want, res.Output)
		}
	}

	badArgs, _ := json.Marshal(map[string]string{"pattern": "../*"})
	if res := tool.Invoke(context.Background(), badArgs); res.OK {
		t.Fatal("glob escaped the working directory")
	}
}
