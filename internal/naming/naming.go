// Package naming derives the output path of a capture job.
//
// A job is normally named after the local wall-clock time it was accepted,
// formatted as DD.MM.YYYY-HH:MM:SS and appended to the output prefix. When the
// clock cannot produce such a token the policy falls back to random names of
// the form <prefix>file-<N>, probing the filesystem until it finds one that
// does not exist.
//
// Timestamps have one-second granularity: two jobs accepted within the same
// second get the same name and the second overwrites the first in place.
package naming

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"time"

	"github.com/kunfoo/tcp-print2file/internal/paths"
)

// TimestampLayout formats the primary capture name (DD.MM.YYYY-HH:MM:SS).
const TimestampLayout = "02.01.2006-15:04:05"

// ErrClockUnavailable is returned by clocks that cannot tell the time.
var ErrClockUnavailable = errors.New("clock unavailable")

// ///////////////////////////////////////////////
// Clock
// ///////////////////////////////////////////////

// Clock reports the current time, or an error when it is not available.
type Clock interface {
	Now() (time.Time, error)
}

// ClockFunc adapts a function to [Clock].
type ClockFunc func() (time.Time, error)

// Now calls f.
func (f ClockFunc) Now() (time.Time, error) { return f() }

// SystemClock reads the local wall clock.
type SystemClock struct{}

// Now returns time.Now.
func (SystemClock) Now() (time.Time, error) { return time.Now(), nil }

// ///////////////////////////////////////////////
// Policy
// ///////////////////////////////////////////////

// Name is a derived capture path.
type Name struct {
	// Path is the full capture file path.
	Path string
	// Fallback is true when Path is a random fallback name.
	Fallback bool
}

// Policy derives capture file names.
type Policy struct {
	// Prefix is prepended to every name.
	Prefix paths.OutputPrefix
	// Clock supplies the accept time.
	Clock Clock
	// Rand returns a non-negative pseudo-random number for fallback names.
	Rand func() int
	// Exists reports whether a path is taken.
	Exists func(path string) bool
}

// New returns a Policy writing under prefix with the system clock, a
// math/rand source and an Lstat existence probe.
func New(prefix string) *Policy {
	return &Policy{
		Prefix: paths.OutputPrefix{Prefix: prefix},
		Clock:  SystemClock{},
		Rand:   func() int { return rand.IntN(math.MaxInt32) },
		Exists: pathExists,
	}
}

// pathExists reports whether anything, including a dangling symlink,
// occupies path.
func pathExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// Derive returns the name for a job accepted now.
func (p *Policy) Derive() Name {
	stamp, err := p.timestamp()
	if err == nil {
		return Name{Path: p.Prefix.Timestamped(stamp)}
	}
	slog.Warn("error getting current time", "error", err)
	return p.Fallback()
}

// Fallback draws random candidates until one does not exist at the moment
// of the check. The caller still races any other writer between this check
// and the create.
func (p *Policy) Fallback() Name {
	for {
		path := p.Prefix.Fallback(p.Rand())
		if !p.Exists(path) {
			return Name{Path: path, Fallback: true}
		}
		slog.Debug("fallback name taken", "path", path)
	}
}

// timestamp formats the current local time, failing when the clock errors
// or the year does not fit the fixed four-digit field.
func (p *Policy) timestamp() (string, error) {
	now, err := p.Clock.Now()
	if err != nil {
		return "", err
	}
	now = now.Local()
	if y := now.Year(); y < 0 || y > 9999 {
		return "", fmt.Errorf("year %d does not fit DD.MM.YYYY", y)
	}
	return now.Format(TimestampLayout), nil
}
