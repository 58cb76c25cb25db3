package logging

import (
	"log/slog"
	"testing"

	"github.com/freesleephq/freesleep-core/internal/infrastructure/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"garbage", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNew_DoesNotPanic(t *testing.T) {
	cfgs := []config.LoggingConfig{
		{Level: "debug", Format: "text", Output: "stderr"},
		{Level: "info", Format: "json", Output: "stdout"},
		{},
	}

	for _, cfg := range cfgs {
		l := New(cfg, "test")
		if l == nil || l.Logger == nil {
			t.Fatalf("New(%+v) returned nil logger", cfg)
		}
	}
}

func TestComponent(t *testing.T) {
	l := Discard().Component("reconciler")
	if l == nil {
		t.Fatal("Component() returned nil")
	}
	// Must be usable without panicking
	l.Info("test message", "key", "value")
}
