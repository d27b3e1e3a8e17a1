// Package logger provides structured logging with custom levels and formatting
// for the tcp-print2file daemon.
//
// Log output format:
//
//	2006-01-02T15:04:05.000Z [LEVEL] message | key=value, key2=value2
//
// Records can be fanned out to several sinks at once: the system log (the
// only destination once the daemon has detached), an optional rotating log
// file, and stderr while still attached to a terminal.
//
// Custom levels beyond the standard slog set:
//   - LevelTrace  (-8): verbose diagnostic tracing
//   - LevelNotice  (2): normal but significant events (startup, signals)
//   - LevelFail   (12): unrecoverable errors
package logger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// ///////////////////////////////////////////////
// Custom Levels
// ///////////////////////////////////////////////

const (
	LevelTrace  slog.Level = -8
	LevelDebug  slog.Level = slog.LevelDebug // -4
	LevelInfo   slog.Level = slog.LevelInfo  // 0
	LevelNotice slog.Level = 2
	LevelWarn   slog.Level = slog.LevelWarn  // 4
	LevelError  slog.Level = slog.LevelError // 8
	LevelFail   slog.Level = 12
)

// levelName returns the display name for a log level.
func levelName(l slog.Level) string {
	switch {
	case l <= LevelTrace:
		return "TRACE"
	case l <= LevelDebug:
		return "DEBUG"
	case l <= LevelInfo:
		return "INFO"
	case l <= LevelNotice:
		return "NOTICE"
	case l <= LevelWarn:
		return "WARN"
	case l <= LevelError:
		return "ERROR"
	default:
		return "FAIL"
	}
}

// ParseLevel converts a level string to slog.Level.
// Supports: trace, debug, info, notice, warn, error, fail (case-insensitive).
// Returns LevelInfo for unrecognized strings.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "notice":
		return LevelNotice
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	case "fail":
		return LevelFail
	default:
		return LevelInfo
	}
}

// ///////////////////////////////////////////////
// Sinks
// ///////////////////////////////////////////////

// Sink receives fully formatted records. line holds everything after the
// timestamp ("[LEVEL] message | attrs") without a line ending.
type Sink interface {
	Emit(level slog.Level, t time.Time, line string) error
}

// writerSink stamps each line with a UTC timestamp and writes it to w.
type writerSink struct {
	w io.Writer
}

// WriterSink returns a [Sink] that writes timestamped lines to w.
func WriterSink(w io.Writer) Sink {
	return writerSink{w: w}
}

func (s writerSink) Emit(_ slog.Level, t time.Time, line string) error {
	_, err := io.WriteString(s.w, t.UTC().Format("2006-01-02T15:04:05.000Z")+" "+line+"\n")
	return err
}

// ///////////////////////////////////////////////
// Handler
// ///////////////////////////////////////////////

// Handler is a custom slog.Handler that formats log records as:
//
//	2006-01-02T15:04:05.000Z [LEVEL] message | key=value, ...
type Handler struct {
	// sinks are the destinations every enabled record is emitted to.
	sinks []Sink
	// mu serializes emits so concurrent log calls do not interleave.
	mu *sync.Mutex
	// level is the minimum severity that this handler will emit.
	level slog.Level
	// attrs holds pre-applied attributes added via [Handler.WithAttrs].
	attrs []slog.Attr
	// group is the dot-separated attribute key prefix set via [Handler.WithGroup].
	group string
}

// NewHandler creates a Handler that writes to w, filtering records below level.
func NewHandler(w io.Writer, level slog.Level) *Handler {
	return NewMultiHandler(level, WriterSink(w))
}

// NewMultiHandler creates a Handler that emits every record to all sinks.
func NewMultiHandler(level slog.Level, sinks ...Sink) *Handler {
	return &Handler{sinks: sinks, level: level, mu: &sync.Mutex{}}
}

// Enabled reports whether the handler handles records at the given level.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

// Handle formats a log record and emits it to every sink. All sinks are
// attempted; the first error is returned.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder

	buf.WriteString("[")
	buf.WriteString(levelName(r.Level))
	buf.WriteString("] ")
	buf.WriteString(r.Message)

	allAttrs := make([]slog.Attr, 0, len(h.attrs)+r.NumAttrs())
	allAttrs = append(allAttrs, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		allAttrs = append(allAttrs, a)
		return true
	})

	if len(allAttrs) > 0 {
		buf.WriteString(" | ")
		for i, a := range allAttrs {
			if i > 0 {
				buf.WriteString(", ")
			}
			if h.group != "" {
				buf.WriteString(h.group)
				buf.WriteString(".")
			}
			buf.WriteString(a.Key)
			buf.WriteString("=")
			buf.WriteString(a.Value.String())
		}
	}

	t := r.Time
	if t.IsZero() {
		t = time.Now()
	}
	line := buf.String()

	h.mu.Lock()
	defer h.mu.Unlock()
	var first error
	for _, s := range h.sinks {
		if err := s.Emit(r.Level, t, line); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// WithAttrs returns a new Handler with the given attributes pre-applied.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &Handler{sinks: h.sinks, mu: h.mu, level: h.level, attrs: newAttrs, group: h.group}
}

// WithGroup returns a new Handler with the given group name.
// Attributes logged through the returned handler will have keys
// prefixed with the group name (e.g., "group.key").
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	newGroup := name
	if h.group != "" {
		newGroup = h.group + "." + name
	}
	return &Handler{sinks: h.sinks, mu: h.mu, level: h.level, attrs: h.attrs, group: newGroup}
}

// ///////////////////////////////////////////////
// Logger Constructor
// ///////////////////////////////////////////////

// Options selects the sinks of a logger built by [New].
type Options struct {
	// Level is the minimum level emitted.
	Level slog.Level
	// Syslog enables the system log sink (facility daemon).
	Syslog bool
	// Tag is the syslog identity, normally the program name.
	Tag string
	// File is an optional path to a rotating log file.
	File string
	// MaxSizeMB is the rotation threshold for File.
	MaxSizeMB int
	// Stderr mirrors records to os.Stderr; only useful before detaching.
	Stderr bool
}

// New creates a slog.Logger emitting to the sinks selected by opts.
// The returned io.Closer releases the syslog connection and the log file.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	var sinks []Sink
	var closers multiCloser

	if opts.Syslog {
		s, err := NewSyslogSink(opts.Tag)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, s)
		closers = append(closers, s)
	}
	if opts.File != "" {
		lj := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   false,
		}
		sinks = append(sinks, WriterSink(lj))
		closers = append(closers, lj)
	}
	if opts.Stderr {
		sinks = append(sinks, WriterSink(os.Stderr))
	}

	return slog.New(NewMultiHandler(opts.Level, sinks...)), closers, nil
}

// multiCloser closes every member, joining the errors.
type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var errs []error
	for _, c := range m {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ///////////////////////////////////////////////
// Helper Functions
// ///////////////////////////////////////////////

// Trace logs a message at LevelTrace.
func Trace(logger *slog.Logger, msg string, args ...any) {
	logger.Log(context.Background(), LevelTrace, msg, args...)
}

// Notice logs a message at LevelNotice.
func Notice(logger *slog.Logger, msg string, args ...any) {
	logger.Log(context.Background(), LevelNotice, msg, args...)
}

// Fail logs a message at LevelFail.
func Fail(logger *slog.Logger, msg string, args ...any) {
	logger.Log(context.Background(), LevelFail, msg, args...)
}
