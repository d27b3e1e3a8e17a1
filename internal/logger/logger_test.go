// Package logger tests verify the custom [Handler] output format, level
// filtering, attribute grouping, sink fan-out and the [New] constructor.
package logger

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// ///////////////////////////////////////////////
// Handler Output Format
// ///////////////////////////////////////////////

func TestHandler_Format(t *testing.T) {
	var buf bytes.Buffer
	h := NewHandler(&buf, LevelInfo)
	logger := slog.New(h)

	logger.Info("accepted new print client", "job", "1")

	line := strings.TrimRight(buf.String(), "\n")

	if !strings.Contains(line, "[INFO]") {
		t.Errorf("expected [INFO] in output, got %q", line)
	}
	if !strings.Contains(line, "accepted new print client") {
		t.Errorf("expected message in output, got %q", line)
	}
	if !strings.Contains(line, "| job=1") {
		t.Errorf("expected job=1 in output, got %q", line)
	}
	if !strings.HasSuffix(strings.Split(line, " [")[0], "Z") {
		t.Errorf("expected UTC timestamp ending with Z, got %q", line)
	}
}

func TestHandler_NoAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, LevelInfo))

	logger.Info("no attrs")

	line := strings.TrimRight(buf.String(), "\n")
	if strings.Contains(line, "|") {
		t.Errorf("expected no pipe separator without attrs, got %q", line)
	}
}

func TestHandler_MultipleAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, LevelInfo))

	logger.Info("multi", "a", "1", "b", "2")

	line := strings.TrimRight(buf.String(), "\n")
	if !strings.Contains(line, "a=1, b=2") {
		t.Errorf("expected comma-separated attrs, got %q", line)
	}
}

// ///////////////////////////////////////////////
// Level Filtering
// ///////////////////////////////////////////////

func TestHandler_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, LevelWarn))

	logger.Info("should be filtered")
	Notice(logger, "also filtered")
	logger.Warn("should appear")

	output := buf.String()
	if strings.Contains(output, "should be filtered") || strings.Contains(output, "also filtered") {
		t.Error("records below warn should have been filtered")
	}
	if !strings.Contains(output, "should appear") {
		t.Error("warn message should appear at warn level")
	}
}

// ///////////////////////////////////////////////
// Custom Levels
// ///////////////////////////////////////////////

func TestHandler_CustomLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, LevelTrace))

	Trace(logger, "trace msg")
	Notice(logger, "notice msg")
	Fail(logger, "fail msg")

	output := buf.String()
	for _, want := range []string{"[TRACE] trace msg", "[NOTICE] notice msg", "[FAIL] fail msg"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got %q", want, output)
		}
	}
}

func TestHandler_LevelNames(t *testing.T) {
	tests := []struct {
		name  string
		level slog.Level
		want  string
	}{
		{"trace", LevelTrace, "TRACE"},
		{"debug", LevelDebug, "DEBUG"},
		{"info", LevelInfo, "INFO"},
		{"notice", LevelNotice, "NOTICE"},
		{"warn", LevelWarn, "WARN"},
		{"error", LevelError, "ERROR"},
		{"fail", LevelFail, "FAIL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := levelName(tt.level); got != tt.want {
				t.Errorf("levelName(%d) = %q, want %q", tt.level, got, tt.want)
			}
		})
	}
}

// ///////////////////////////////////////////////
// ParseLevel
// ///////////////////////////////////////////////

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  slog.Level
	}{
		{"trace_lower", "trace", LevelTrace},
		{"trace_upper", "TRACE", LevelTrace},
		{"debug", "debug", LevelDebug},
		{"info", "info", LevelInfo},
		{"notice", "Notice", LevelNotice},
		{"warn", "warn", LevelWarn},
		{"error", "error", LevelError},
		{"fail", "fail", LevelFail},
		{"unknown_defaults_to_info", "unknown", LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.want {
				t.Errorf("ParseLevel(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

// ///////////////////////////////////////////////
// WithAttrs / WithGroup
// ///////////////////////////////////////////////

func TestHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := NewHandler(&buf, LevelInfo)
	logger := slog.New(h.WithAttrs([]slog.Attr{slog.String("job", "abc")}))

	logger.Info("test")

	line := strings.TrimRight(buf.String(), "\n")
	if !strings.Contains(line, "job=abc") {
		t.Errorf("expected pre-applied attr, got %q", line)
	}
}

func TestHandler_WithGroup(t *testing.T) {
	var buf bytes.Buffer
	h := NewHandler(&buf, LevelInfo)
	logger := slog.New(h.WithGroup("server").WithGroup("job"))

	logger.Info("nested", "bytes", 12)

	line := strings.TrimRight(buf.String(), "\n")
	if !strings.Contains(line, "server.job.bytes=12") {
		t.Errorf("expected nested group prefix, got %q", line)
	}
}

func TestHandler_WithGroupEmpty(t *testing.T) {
	h := NewHandler(&bytes.Buffer{}, LevelInfo)
	if gh := h.WithGroup(""); gh != h {
		t.Error("WithGroup with empty string should return same handler")
	}
}

func TestHandler_WithAttrsSharedMutex(t *testing.T) {
	var buf bytes.Buffer
	h := NewHandler(&buf, LevelInfo)
	h2 := h.WithAttrs([]slog.Attr{slog.String("k", "v")}).(*Handler)

	if h.mu != h2.mu {
		t.Error("WithAttrs should share the same mutex pointer")
	}

	logger1 := slog.New(h)
	logger2 := slog.New(h2)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			logger1.Info("from handler 1")
		}()
		go func() {
			defer wg.Done()
			logger2.Info("from handler 2")
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 100 {
		t.Errorf("expected 100 log lines, got %d", len(lines))
	}
}

// ///////////////////////////////////////////////
// Sinks
// ///////////////////////////////////////////////

// recordingSink captures emitted records for inspection.
type recordingSink struct {
	levels []slog.Level
	lines  []string
	err    error
}

func (r *recordingSink) Emit(level slog.Level, _ time.Time, line string) error {
	r.levels = append(r.levels, level)
	r.lines = append(r.lines, line)
	return r.err
}

func TestMultiHandler_FanOut(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{}
	logger := slog.New(NewMultiHandler(LevelInfo, a, b))

	logger.Warn("error opening printfile", "path", "/tmp/x")

	for name, s := range map[string]*recordingSink{"a": a, "b": b} {
		if len(s.lines) != 1 {
			t.Fatalf("sink %s got %d lines, want 1", name, len(s.lines))
		}
		if s.lines[0] != "[WARN] error opening printfile | path=/tmp/x" {
			t.Errorf("sink %s line = %q", name, s.lines[0])
		}
		if s.levels[0] != LevelWarn {
			t.Errorf("sink %s level = %d, want %d", name, s.levels[0], LevelWarn)
		}
	}
}

func TestMultiHandler_ErrorDoesNotStopOtherSinks(t *testing.T) {
	failing := &recordingSink{err: errors.New("sink down")}
	ok := &recordingSink{}
	h := NewMultiHandler(LevelInfo, failing, ok)

	logger := slog.New(h)
	logger.Info("still delivered")

	if len(ok.lines) != 1 {
		t.Errorf("second sink got %d lines, want 1", len(ok.lines))
	}
}

// ///////////////////////////////////////////////
// New Constructor
// ///////////////////////////////////////////////

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "print2file.log")

	logger, closer, err := New(Options{Level: LevelInfo, File: path, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("constructor test")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "constructor test") {
		t.Errorf("expected log output in file, got %q", string(data))
	}
}

func TestNew_NoSinks(t *testing.T) {
	logger, closer, err := New(Options{Level: LevelInfo})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("dropped")
	if err := closer.Close(); err != nil {
		t.Errorf("Close with no sinks: %v", err)
	}
}
