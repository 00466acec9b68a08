package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestLevelFromString(t *testing.T) {
	t.Parallel()

	cases := map[string]slog.Level{
		"error":    slog.LevelError,
		" WARN ":   slog.LevelWarn,
		"warning":  slog.LevelWarn,
		"info":     slog.LevelInfo,
		"":         slog.LevelInfo,
		"debug":    slog.LevelDebug,
		"anything": slog.LevelDebug,
	}
	for in, want := range cases {
		if got := levelFromString(in); got != want {
			t.Fatalf("levelFromString(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewWithWriterFiltersLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "warn")
	logger.Info("session.upload.ok")
	logger.Warn("session.poll.timeout", "attempts", 8)

	out := buf.String()
	if strings.Contains(out, "session.upload.ok") {
		t.Fatalf("info line should be filtered: %q", out)
	}
	if !strings.Contains(out, "session.poll.timeout") || !strings.Contains(out, "service=sea-bridge") {
		t.Fatalf("unexpected output %q", out)
	}
}
