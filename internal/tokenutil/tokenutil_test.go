package tokenutil

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/kestrelcli/kestrel/internal/message"
)

func TestEstimateText(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want int
	}{
		{"empty", "", 0},
		{"single word", "hi", 1},
		{"prose", "the quick brown fox jumps over the lazy dog", 11},
		{"code without spaces", strings.Repeat("x", 100), 25},
	}
	for _, tc := range cases {
		if got := EstimateText(tc.in); got != tc.want {
			t.Errorf("%s: EstimateText(%q) = %d, want %d", tc.name, tc.in, got, tc.want)
		}
	}
}

func TestEstimateMessageCountsToolCalls(t *testing.T) {
	args, _ := json.Marshal(map[string]any{
		"path":    "/tmp/project/notes.txt",
		"content": strings.Repeat("line of text\n", 20),
	})
	plain := message.Assistant("writing the file now")
	withCall := message.Message{
		Role:      message.RoleAssistant,
		Content:   "writing the file now",
		ToolCalls: []message.ToolCall{{ID: "c1", Name: "write_file", Arguments: args}},
	}

	if EstimateMessage(withCall) <= EstimateMessage(plain) {
		t.Fatalf("tool-call payload not counted: with=%d plain=%d",
			EstimateMessage(withCall), EstimateMessage(plain))
	}
}

func TestEstimateMessagesSums(t *testing.T) {
	msgs := []message.Message{
		message.User("hello"),
		message.Assistant("hello back"),
	}
	want := EstimateMessage(msgs[0]) + EstimateMessage(msgs[1])
	if got := EstimateMessages(msgs); got != want {
		t.Fatalf("EstimateMessages = %d, want %d", got, want)
	}
}
