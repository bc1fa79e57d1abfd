package telemetry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoggerRedactsSecrets(t *testing.T) {
	home := t.TempDir()
	logger, closer, err := NewLogger(home, "info", true)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	logger.Info("provider configured",
		"api_key", "sk-abcdef1234567890",
		"base_url", "https://api.example.com/v1")
	logger.Info("request sent", "detail", "Authorization: Bearer sk-abcdef1234567890")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(home, "logs", "system.jsonl"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "sk-abcdef1234567890") {
		t.Fatalf("secret leaked into log:\n%s", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Fatalf("no redaction marker in log:\n%s", out)
	}
	if !strings.Contains(out, "https://api.example.com/v1") {
		t.Fatalf("non-secret value lost:\n%s", out)
	}
	if !strings.Contains(out, `"timestamp"`) {
		t.Fatalf("timestamp key not renamed:\n%s", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{
		"debug":   "DEBUG",
		"info":    "INFO",
		"warn":    "WARN",
		"warning": "WARN",
		"error":   "ERROR",
		"bogus":   "INFO",
		"":        "INFO",
	}
	for in, want := range cases {
		if got := parseLevel(in).String(); got != want {
			t.Errorf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
