package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "warning", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "nonsense", want: slog.LevelInfo},
		{input: "  DEBUG  ", want: slog.LevelDebug},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.input).Level(); got != tt.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNewDefaultsToJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf})
	logger.Info("hello", "key", "value")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if entry["msg"] != "hello" {
		t.Fatalf("msg = %v, want hello", entry["msg"])
	}
	if entry["key"] != "value" {
		t.Fatalf("key = %v, want value", entry["key"])
	}
}

func TestNewTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf, Format: "text"})
	logger.Info("hello")

	if strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Fatalf("expected text output, got:\n%s", buf.String())
	}
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Fatalf("missing message in output:\n%s", buf.String())
	}
}

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf, Level: "error"})
	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info record emitted at error level:\n%s", buf.String())
	}
	logger.Error("kept")
	if buf.Len() == 0 {
		t.Fatal("error record was not emitted")
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf})
	WithComponent(logger, "queue").Info("hello")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["component"] != "queue" {
		t.Fatalf("component = %v, want queue", entry["component"])
	}
	if WithComponent(nil, "queue") != nil {
		t.Fatal("WithComponent(nil) should return nil")
	}
}
