// Signal handling for graceful daemon shutdown.
//
// The handler goroutine only records the request by cancelling a context.
// Whoever owns the descriptors (the capture loop) observes the cancellation
// and tears down on its own goroutine.

//go:build unix

package signals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/kunfoo/tcp-print2file/internal/logger"
)

// ///////////////////////////////////////////////
// Signal Classes
// ///////////////////////////////////////////////

// Terminate lists the signals that request a graceful shutdown.
var Terminate = []os.Signal{syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM}

// Ignored lists the terminal job-control signals a daemon must not stop on.
var Ignored = []os.Signal{syscall.SIGTSTP, syscall.SIGTTIN, syscall.SIGTTOU}

// ShutdownError is the cancellation cause of a context returned by
// [Install] when a terminate signal arrived.
type ShutdownError struct {
	Signal os.Signal
}

func (e *ShutdownError) Error() string {
	return fmt.Sprintf("received signal %s", e.Signal)
}

// ///////////////////////////////////////////////
// Install
// ///////////////////////////////////////////////

// Install ignores the job-control signals and returns a context that is
// cancelled with a [*ShutdownError] on the first terminate signal. Later
// terminate signals are logged and ignored. stop restores default delivery
// of the terminate signals and cancels the context.
func Install(parent context.Context, log *slog.Logger) (ctx context.Context, stop func()) {
	signal.Ignore(Ignored...)

	// One slot per terminate signal so a burst is never dropped.
	ch := make(chan os.Signal, len(Terminate))
	signal.Notify(ch, Terminate...)

	ctx, cancel := context.WithCancelCause(parent)
	done := make(chan struct{})
	go func() {
		shuttingDown := false
		for {
			select {
			case sig := <-ch:
				if shuttingDown {
					log.Warn("shutdown already in progress, ignoring signal", "signal", sig.String())
					continue
				}
				shuttingDown = true
				logger.Notice(log, "received signal, shutting down", "signal", sig.String())
				cancel(&ShutdownError{Signal: sig})
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			signal.Stop(ch)
			close(done)
			cancel(context.Canceled)
		})
	}
}

// Received returns the signal that cancelled ctx, or nil when ctx was not
// cancelled by a signal.
func Received(ctx context.Context) os.Signal {
	var se *ShutdownError
	if errors.As(context.Cause(ctx), &se) {
		return se.Signal
	}
	return nil
}
