package printer

import "testing"

func TestParseFormat(t *testing.T) {
	for _, raw := range []string{"text", "stream-json"} {
		f, err := ParseFormat(raw)
		if err != nil || string(f) != raw {
			t.Errorf("ParseFormat(%q) = %q, %v", raw, f, err)
		}
	}
	for _, raw := range []string{"json", "TEXT", "", "yaml"} {
		if _, err := ParseFormat(raw); err == nil {
			t.Errorf("ParseFormat(%q) succeeded", raw)
		}
	}
}
