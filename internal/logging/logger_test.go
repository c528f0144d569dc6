package logging

import (
	"bytes"
	"encoding/json"
	"log"
	"strings"
	"testing"
)

func TestStdLogger_WritesJSONAboveLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewStdLogger(LevelInfo, log.New(&buf, "", 0))

	l.Debug("hidden", nil)
	l.Warn("schema reloaded", Fields{"tools": 3})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["level"] != "warn" || entry["msg"] != "schema reloaded" {
		t.Errorf("unexpected entry: %v", entry)
	}
	if entry["tools"] != float64(3) {
		t.Errorf("expected tools=3, got %v", entry["tools"])
	}
}

func TestStdLogger_DoesNotMutateFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewStdLogger(LevelDebug, log.New(&buf, "", 0))
	fields := Fields{"tool": "search"}
	l.Info("x", fields)
	if len(fields) != 1 {
		t.Errorf("caller fields were mutated: %v", fields)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{"debug": LevelDebug, "WARNING": LevelWarn, "error": LevelError, "": LevelInfo, "bogus": LevelInfo}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
