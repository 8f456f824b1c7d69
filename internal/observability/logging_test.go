package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestLogLevelFromString(t *testing.T) {
	tests := []struct {
		level    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			if got := LogLevelFromString(tt.level); got != tt.expected {
				t.Errorf("LogLevelFromString(%q) = %v, want %v", tt.level, got, tt.expected)
			}
		})
	}
}

func TestNewLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "json", Output: &buf})

	logger.Info("info message")
	logger.Warn("warn message")

	out := buf.String()
	if strings.Contains(out, "info message") {
		t.Error("info record should be filtered at warn level")
	}
	if !strings.Contains(out, "warn message") {
		t.Errorf("expected warn record, got %q", out)
	}
}

func TestLoggerRedaction(t *testing.T) {
	tests := []struct {
		name   string
		log    func(*slog.Logger)
		secret string
	}{
		{
			name:   "message",
			log:    func(l *slog.Logger) { l.Info("using api_key=abcdefghijklmnopqrstuvwxyz") },
			secret: "abcdefghijklmnopqrstuvwxyz",
		},
		{
			name:   "string attribute",
			log:    func(l *slog.Logger) { l.Info("calling", "header", "Bearer abcdefghijklmnop1234") },
			secret: "abcdefghijklmnop1234",
		},
		{
			name:   "sensitive key",
			log:    func(l *slog.Logger) { l.Info("configured", "token", "short") },
			secret: "short",
		},
		{
			name:   "error attribute",
			log:    func(l *slog.Logger) { l.Error("failed", "error", errors.New("bad key sk-ant-"+strings.Repeat("x", 40))) },
			secret: strings.Repeat("x", 40),
		},
		{
			name:   "preset attribute",
			log:    func(l *slog.Logger) { l.With("password", "hunter22").Info("login") },
			secret: "hunter22",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(LogConfig{Output: &buf})
			tt.log(logger)

			out := buf.String()
			if strings.Contains(out, tt.secret) {
				t.Fatalf("secret leaked into log output: %s", out)
			}
			if !strings.Contains(out, "[REDACTED]") {
				t.Fatalf("expected redaction marker, got %s", out)
			}
		})
	}
}

func TestLoggerContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf})

	ctx := AddRequestID(context.Background(), "req-1")
	ctx = AddOwnerID(ctx, "42")
	ctx = AddChannel(ctx, "telegram")
	logger.InfoContext(ctx, "handled")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode log record: %v", err)
	}
	for key, want := range map[string]string{"request_id": "req-1", "owner_id": "42", "channel": "telegram"} {
		if record[key] != want {
			t.Errorf("%s = %v, want %q", key, record[key], want)
		}
	}
	if GetRequestID(ctx) != "req-1" {
		t.Errorf("GetRequestID = %q", GetRequestID(ctx))
	}
}
