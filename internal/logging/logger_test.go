package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"sprocket/internal/services"
)

func TestConsoleHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	levelVar := new(slog.LevelVar)
	logger := slog.New(newConsoleHandler(&buf, levelVar))

	logger = NewComponentLogger(logger, "registry")
	logger.Info("saved document", Int("entries", 3), String("path", "/tmp/registry.json"))

	line := strings.TrimSpace(buf.String())
	if !strings.Contains(line, " INFO registry: saved document") {
		t.Fatalf("unexpected console line: %q", line)
	}
	if !strings.Contains(line, "entries=3") || !strings.Contains(line, "path=/tmp/registry.json") {
		t.Fatalf("console line missing attrs: %q", line)
	}
}

func TestConsoleHandlerQuotesValuesWithSpaces(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newConsoleHandler(&buf, new(slog.LevelVar)))
	logger.Warn("check", String("detail", "file is gone"))
	if !strings.Contains(buf.String(), `detail="file is gone"`) {
		t.Fatalf("value not quoted: %q", buf.String())
	}
}

func TestConsoleHandlerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	levelVar := new(slog.LevelVar)
	levelVar.Set(slog.LevelWarn)
	logger := slog.New(newConsoleHandler(&buf, levelVar))
	logger.Info("ignored")
	if buf.Len() != 0 {
		t.Fatalf("info line emitted below level: %q", buf.String())
	}
	logger.Error("kept")
	if !strings.Contains(buf.String(), "ERROR") {
		t.Fatalf("error line missing: %q", buf.String())
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "yaml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestWithContextAddsRequestFields(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(newConsoleHandler(&buf, new(slog.LevelVar)))

	ctx := services.WithRequestID(context.Background(), "abc-123")
	ctx = services.WithOperation(ctx, "trim")
	WithContext(ctx, base).Info("tool call")

	line := buf.String()
	if !strings.Contains(line, "request_id=abc-123") || !strings.Contains(line, "operation=trim") {
		t.Fatalf("context fields missing: %q", line)
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := NewNop()
	// Must not panic and must report disabled at every level.
	logger.Error("dropped")
	if logger.Enabled(context.Background(), slog.LevelError) {
		t.Fatal("nop logger should report disabled")
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newConsoleHandler(&buf, new(slog.LevelVar)))
	WarnWithContext(logger, "registry corrupt", "registry_load_failed")
	line := buf.String()
	for _, key := range []string{"event_type=registry_load_failed", "error_hint=", "impact="} {
		if !strings.Contains(line, key) {
			t.Fatalf("warn line missing %q: %q", key, line)
		}
	}
}
