package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/mathgaling/tutor/internal/platform/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, config.LogConfig{Level: "info", Format: "json"})

	logger.Debug("hidden")
	logger.Info("mastery updated", "student_id", 7)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d log lines, want 1 (debug filtered): %q", len(lines), buf.String())
	}

	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if rec["msg"] != "mastery updated" {
		t.Errorf("msg = %v, want mastery updated", rec["msg"])
	}
	if rec["student_id"] != float64(7) {
		t.Errorf("student_id = %v, want 7", rec["student_id"])
	}
}

func TestNew_Text(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, config.LogConfig{Level: "debug", Format: "text"})

	logger.Debug("selector ranked", "count", 5)

	if !strings.Contains(buf.String(), "msg=\"selector ranked\"") {
		t.Errorf("text output = %q, want msg=\"selector ranked\"", buf.String())
	}
}
