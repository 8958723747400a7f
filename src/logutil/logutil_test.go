package logutil

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRedactKey(t *testing.T) {
	if got := RedactKey("short"); got != "********" {
		t.Errorf("expected full mask for short key, got %q", got)
	}
	if got := RedactKey("gsk_abcdefghijklmnop"); got != "gsk_...mnop" {
		t.Errorf("unexpected redaction: %q", got)
	}
}

func TestSanitizeForLog(t *testing.T) {
	got := SanitizeForLog("line1\nline2\tx\x01")
	if got != `line1\nline2\tx?` {
		t.Errorf("unexpected sanitized text: %q", got)
	}

	long := strings.Repeat("a", 150)
	if got := SanitizeForLog(long); len(got) != 103 || !strings.HasSuffix(got, "...") {
		t.Errorf("expected truncated text, got len=%d", len(got))
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRotateShiftsArchives(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "app.log")
	if err := os.WriteFile(name, []byte("current"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(name+".1", []byte("older"), 0600); err != nil {
		t.Fatal(err)
	}

	rotate(name)

	if _, err := os.Stat(name); !os.IsNotExist(err) {
		t.Errorf("expected base log to be moved away, stat err=%v", err)
	}
	if b, _ := os.ReadFile(name + ".1"); string(b) != "current" {
		t.Errorf("expected .1 to hold current log, got %q", b)
	}
	if b, _ := os.ReadFile(name + ".2"); string(b) != "older" {
		t.Errorf("expected .2 to hold older log, got %q", b)
	}
}
