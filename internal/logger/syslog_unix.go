// System log sink backed by log/syslog.
//
// log/syslog is only available on Unix platforms, which is also the only
// place the daemon runs.

//go:build unix

package logger

import (
	"fmt"
	"log/slog"
	"log/syslog"
	"time"
)

// ///////////////////////////////////////////////
// Syslog Sink
// ///////////////////////////////////////////////

// SyslogSink emits records to the local system log under the daemon
// facility, mapping slog levels onto syslog severities. Timestamps are left
// to syslogd.
type SyslogSink struct {
	w *syslog.Writer
}

// NewSyslogSink opens a connection to the local syslog daemon tagged with tag.
func NewSyslogSink(tag string) (*SyslogSink, error) {
	w, err := syslog.New(syslog.LOG_INFO|syslog.LOG_DAEMON, tag)
	if err != nil {
		return nil, fmt.Errorf("open syslog: %w", err)
	}
	return &SyslogSink{w: w}, nil
}

// Emit writes line at the syslog severity matching level.
func (s *SyslogSink) Emit(level slog.Level, _ time.Time, line string) error {
	switch {
	case level <= LevelDebug:
		return s.w.Debug(line)
	case level <= LevelInfo:
		return s.w.Info(line)
	case level <= LevelNotice:
		return s.w.Notice(line)
	case level <= LevelWarn:
		return s.w.Warning(line)
	case level <= LevelError:
		return s.w.Err(line)
	default:
		return s.w.Crit(line)
	}
}

// Close closes the connection to syslogd.
func (s *SyslogSink) Close() error {
	return s.w.Close()
}
