package shell

import "testing"

func TestLookupMetaAliases(t *testing.T) {
	cases := map[string]string{
		"help":     "help",
		"h":        "help",
		"?":        "help",
		"clear":    "clear",
		"reset":    "clear",
		"sessions": "sessions",
		"resume":   "sessions",
		"exit":     "exit",
		"quit":     "exit",
		"yolo":     "yolo",
		"compact":  "compact",
		"version":  "version",
	}
	for input, want := range cases {
		cmd, ok := lookupMeta(input)
		if !ok {
			t.Errorf("lookupMeta(%q) not found", input)
			continue
		}
		if cmd.Name != want {
			t.Errorf("lookupMeta(%q) = %s, want %s", input, cmd.Name, want)
		}
	}
}

func TestLookupMetaNoPrefixMatch(t *testing.T) {
	for _, input := range []string{"hel", "sess", "e", "x", ""} {
		if _, ok := lookupMeta(input); ok {
			t.Errorf("lookupMeta(%q) matched, want no prefix matching", input)
		}
	}
}
