package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestAnonymizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+33612345678", "+33*******78"},
		{"12345", "*****"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := AnonymizePhone(tt.in); got != tt.want {
			t.Errorf("AnonymizePhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info", "json")
	logger.Debug("hidden")
	logger.Info("visible", "platform", "whatsapp")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug line written at info level: %s", out)
	}
	if !strings.Contains(out, `"platform":"whatsapp"`) {
		t.Errorf("output = %s, want JSON platform field", out)
	}
}
