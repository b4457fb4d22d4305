package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"":        slog.LevelInfo,
		"Warning": slog.LevelWarn,
		"ERROR":   slog.LevelError,
	}
	for in, want := range cases {
		got, ok := ParseLevel(in)
		if !ok || got != want {
			t.Fatalf("ParseLevel(%q) = %v,%v want %v", in, got, ok, want)
		}
	}
	if _, ok := ParseLevel("loud"); ok {
		t.Fatalf("expected unknown level to be rejected")
	}
}

func TestInitLoggerJSONWithComponent(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	logger := initLogger(&buf, "info", "json")
	NewComponentLogger(logger, "call").Info("call_start", "call_sid", "CA1")

	out := buf.String()
	if !strings.Contains(out, `"component":"call"`) {
		t.Fatalf("expected component attr, got %s", out)
	}
	if !strings.Contains(out, `"msg":"call_start"`) {
		t.Fatalf("expected message, got %s", out)
	}
}

func TestInitLoggerWarnsOnUnknownFormat(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	initLogger(&buf, "info", "xml")
	if !strings.Contains(buf.String(), "invalid log format") {
		t.Fatalf("expected format warning, got %s", buf.String())
	}
}
