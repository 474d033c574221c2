package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"nonsense", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetupWriterJSON(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	if err := SetupWriter(&buf, "debug", "json"); err != nil {
		t.Fatalf("SetupWriter: %v", err)
	}
	WithDeck("transport", "deck1").Debug("hello")

	out := buf.String()
	if !strings.Contains(out, `"deck":"deck1"`) || !strings.Contains(out, `"component":"transport"`) {
		t.Errorf("unexpected log output: %s", out)
	}
}

func TestSetupWriterFiltersLevel(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	if err := SetupWriter(&buf, "error", "text"); err != nil {
		t.Fatalf("SetupWriter: %v", err)
	}
	slog.Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info line should be filtered at error level, got %q", buf.String())
	}
}
