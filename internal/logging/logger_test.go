package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (r *recordingLogger) record(level, format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, level+": "+fmt.Sprintf(format, args...))
}

func (r *recordingLogger) Debug(format string, args ...any) { r.record("DEBUG", format, args...) }
func (r *recordingLogger) Info(format string, args ...any)  { r.record("INFO", format, args...) }
func (r *recordingLogger) Warn(format string, args ...any)  { r.record("WARN", format, args...) }
func (r *recordingLogger) Error(format string, args ...any) { r.record("ERROR", format, args...) }

func TestOrNopHandlesNilInterface(t *testing.T) {
	logger := OrNop(nil)
	if logger == nil {
		t.Fatal("OrNop(nil) returned nil")
	}
	logger.Info("must not panic")
}

func TestOrNopHandlesTypedNil(t *testing.T) {
	var typed *recordingLogger
	logger := OrNop(typed)
	logger.Info("must not panic")
}

func TestMultiFansOutToAllLoggers(t *testing.T) {
	first := &recordingLogger{}
	second := &recordingLogger{}

	logger := Multi(first, nil, second)
	logger.Info("hello %s", "world")
	logger.Error("boom")

	for _, rec := range []*recordingLogger{first, second} {
		if len(rec.lines) != 2 {
			t.Fatalf("expected 2 lines, got %d: %v", len(rec.lines), rec.lines)
		}
		if rec.lines[0] != "INFO: hello world" {
			t.Errorf("unexpected first line: %q", rec.lines[0])
		}
	}
}

func TestMultiFlattensNestedMulti(t *testing.T) {
	first := &recordingLogger{}
	second := &recordingLogger{}

	logger := Multi(Multi(first), second)
	logger.Debug("x")

	if len(first.lines) != 1 || len(second.lines) != 1 {
		t.Fatalf("expected both loggers to receive the line: %v / %v", first.lines, second.lines)
	}
}

func TestFileLoggerWritesCategoryFile(t *testing.T) {
	logDir := t.TempDir()
	t.Setenv(logDirEnvVar, logDir)

	// Bypass the shared category cache so the override directory is honored.
	logger := newFileLogger(CategorySecurity)
	logger.component = "RegistryTest"
	logger.Warn("cross-user access user=%s thread=%s", "user-a", "thread-b")

	data, err := os.ReadFile(filepath.Join(logDir, "zen-security.log"))
	if err != nil {
		t.Fatalf("failed to read security log: %v", err)
	}
	line := string(data)
	if !strings.Contains(line, "[WARN]") || !strings.Contains(line, "[SECURITY]") {
		t.Errorf("missing level or category tag: %q", line)
	}
	if !strings.Contains(line, "user-a") {
		t.Errorf("missing message content: %q", line)
	}
}

func TestFileLoggerLevelFilter(t *testing.T) {
	logDir := t.TempDir()
	t.Setenv(logDirEnvVar, logDir)

	logger := newFileLogger(CategoryAgent)
	logger.SetLevel(LevelWarn)
	logger.Debug("filtered")
	logger.Info("filtered")
	logger.Error("kept")

	data, err := os.ReadFile(filepath.Join(logDir, "zen-agent.log"))
	if err != nil {
		t.Fatalf("failed to read agent log: %v", err)
	}
	if strings.Contains(string(data), "filtered") {
		t.Errorf("level filter leaked low-severity lines: %q", string(data))
	}
	if !strings.Contains(string(data), "kept") {
		t.Errorf("expected error line to survive filter: %q", string(data))
	}
}
