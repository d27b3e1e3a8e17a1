// Package capture implements the accept/copy loop of the daemon.
//
// A [Server] accepts one connection at a time, names an output file with a
// [naming.Policy], copies every byte the peer sends into that file and closes
// both when the peer is done, then accepts the next connection. Jobs never
// overlap.
//
// Shutdown is cooperative: cancelling the context passed to [Server.Run]
// only unblocks the loop (by expiring the accept and read deadlines). The
// loop itself then closes whatever descriptors its [State] says are open,
// so teardown never races the copy.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/kunfoo/tcp-print2file/internal/naming"
)

// ErrServerClosed is returned by [Server.Run] after a requested shutdown.
var ErrServerClosed = errors.New("capture: server closed")

// maxExclusiveAttempts bounds how often a fallback name lost to a concurrent
// creator is redrawn before the job is abandoned.
const maxExclusiveAttempts = 64

// ///////////////////////////////////////////////
// State
// ///////////////////////////////////////////////

// State tells which descriptors the loop currently owns.
type State int

const (
	// StateIdle: not running; only before Run and after shutdown.
	StateIdle State = iota
	// StateAwaitingConnection: blocked in accept, no client or file open.
	StateAwaitingConnection
	// StateCapturing: a client connection is open, no output file yet.
	StateCapturing
	// StateWriting: client connection and output file are both open.
	StateWriting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingConnection:
		return "awaiting-connection"
	case StateCapturing:
		return "capturing"
	case StateWriting:
		return "writing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ///////////////////////////////////////////////
// Job
// ///////////////////////////////////////////////

// Job describes one finished (or interrupted) connection.
type Job struct {
	// ID correlates the log lines of one job.
	ID string
	// Remote is the peer address.
	Remote string
	// Path is the output file; empty when it could not be created.
	Path string
	// Fallback is true when Path is a random fallback name.
	Fallback bool
	// Bytes is the number of bytes written to Path.
	Bytes int64
	// Err is the error that ended the job early, nil when the peer closed.
	Err error
	// Interrupted is true when shutdown ended the job.
	Interrupted bool
}

// ///////////////////////////////////////////////
// Server
// ///////////////////////////////////////////////

// Options tunes a [Server].
type Options struct {
	// ChunkSize is the copy buffer size.
	ChunkSize int
	// FileMode is the permission of created output files.
	FileMode os.FileMode
	// OutputAvailable reports whether the output directory is present. It
	// is only consulted to annotate open failures and may be nil.
	OutputAvailable func() bool
	// OnJobDone is called after every job's descriptors are closed.
	OnJobDone func(Job)
}

// Server runs capture jobs on a listener.
type Server struct {
	ln     net.Listener
	policy *naming.Policy
	opts   Options

	// mu guards the fields below. They are the only state shared with the
	// cancellation path.
	mu      sync.Mutex
	state   State
	conn    net.Conn
	file    *os.File
	job     Job
	closing bool
}

// NewServer returns a Server that will accept on ln and name files with policy.
func NewServer(ln net.Listener, policy *naming.Policy, opts Options) *Server {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 512
	}
	if opts.FileMode == 0 {
		opts.FileMode = 0o600
	}
	return &Server{ln: ln, policy: policy, opts: opts}
}

// State returns the current descriptor state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run accepts and captures connections until ctx is cancelled, then closes
// the client connection and output file if open and the listener, and
// returns [ErrServerClosed]. Accept failures are logged and retried; an
// error is returned only if the listener is closed from outside.
func (s *Server) Run(ctx context.Context) error {
	s.setState(StateAwaitingConnection)
	stop := context.AfterFunc(ctx, s.interrupt)
	defer stop()

	buf := make([]byte, s.opts.ChunkSize)
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return s.shutdown()
			}
			if errors.Is(err, net.ErrClosed) {
				s.setState(StateIdle)
				return fmt.Errorf("accept: %w", err)
			}
			slog.Warn("error on accept", "error", err)
			continue
		}

		if !s.serve(ctx, conn, buf) {
			return s.shutdown()
		}
	}
}

// serve runs one job. It returns false when shutdown interrupted the job,
// in which case the descriptors are left open for [Server.shutdown].
func (s *Server) serve(ctx context.Context, conn net.Conn, buf []byte) bool {
	job := Job{ID: uuid.NewString(), Remote: conn.RemoteAddr().String()}
	log := slog.With("job", job.ID)

	s.trackConn(conn, job)
	log.Info("accepted new print client", "remote", job.Remote)
	if ctx.Err() != nil {
		return false
	}

	name := s.policy.Derive()
	log.Info("start printing to", "path", name.Path)
	f, name, err := s.create(name)
	if err != nil {
		attrs := []any{"path", name.Path, "error", err}
		if s.opts.OutputAvailable != nil {
			attrs = append(attrs, "output_dir_available", s.opts.OutputAvailable())
		}
		log.Warn("error opening printfile", attrs...)
		job.Path = ""
		job.Err = err
		s.finish(log, job)
		return true
	}
	job.Path = name.Path
	job.Fallback = name.Fallback
	s.trackFile(f, job)

	n, err := copyChunks(f, conn, buf)
	// Scrub print content before the buffer is reused.
	clear(buf)
	job.Bytes = n

	if ctx.Err() != nil {
		job.Interrupted = true
		s.updateJob(job)
		return false
	}
	if err != nil {
		log.Warn("capture ended early", "path", job.Path, "bytes", n, "error", err)
		job.Err = err
	}
	log.Info("done printing to", "path", job.Path, "bytes", n)
	s.finish(log, job)
	return true
}

// create opens the output file. Timestamp names are opened without O_EXCL
// or O_TRUNC, so a same-second job overwrites in place. Fallback names are
// created exclusively and redrawn if another creator took them after the
// existence probe.
func (s *Server) create(name naming.Name) (*os.File, naming.Name, error) {
	const flags = os.O_WRONLY | os.O_CREATE
	if !name.Fallback {
		f, err := os.OpenFile(name.Path, flags, s.opts.FileMode)
		return f, name, err
	}
	for range maxExclusiveAttempts {
		f, err := os.OpenFile(name.Path, flags|os.O_EXCL, s.opts.FileMode)
		if !errors.Is(err, fs.ErrExist) {
			return f, name, err
		}
		slog.Debug("fallback name taken before create", "path", name.Path)
		name = s.policy.Fallback()
	}
	return nil, name, fmt.Errorf("no free fallback name after %d attempts", maxExclusiveAttempts)
}

// finish closes the job's file and connection and returns to accepting.
func (s *Server) finish(log *slog.Logger, job Job) {
	s.mu.Lock()
	f, conn := s.file, s.conn
	s.file, s.conn = nil, nil
	s.state = StateAwaitingConnection
	s.mu.Unlock()

	if f != nil {
		if err := f.Close(); err != nil {
			log.Warn("error closing printfile", "path", job.Path, "error", err)
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			log.Warn("error closing client socket", "error", err)
		}
	}
	s.done(job)
}

// shutdown flushes the filesystem, closes whatever the state says is open
// and the listener. Close failures are logged and do not stop the teardown.
func (s *Server) shutdown() error {
	unix.Sync()

	s.mu.Lock()
	state, conn, f, job := s.state, s.conn, s.file, s.job
	s.conn, s.file = nil, nil
	s.state = StateIdle
	s.mu.Unlock()

	log := slog.With("state", state.String())
	if state == StateCapturing || state == StateWriting {
		log = log.With("job", job.ID)
		if err := conn.Close(); err != nil {
			log.Warn("shutdown: error closing client socket", "error", err)
		}
	}
	if state == StateWriting {
		if err := f.Close(); err != nil {
			log.Warn("shutdown: error closing printfile", "path", job.Path, "error", err)
		}
	}
	if err := s.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		log.Warn("shutdown: error closing socket", "error", err)
	}

	if state == StateCapturing || state == StateWriting {
		job.Interrupted = true
		log.Info("capture interrupted by shutdown", "path", job.Path, "bytes", job.Bytes)
		s.done(job)
	}
	return ErrServerClosed
}

// interrupt runs on the cancellation path. It only expires deadlines so the
// blocked accept or read returns; it never closes a descriptor the loop owns.
func (s *Server) interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closing = true

	now := time.Now()
	d, ok := s.ln.(interface{ SetDeadline(time.Time) error })
	if !ok || d.SetDeadline(now) != nil {
		// Listeners without deadlines are unblocked by closing them;
		// shutdown tolerates the second close.
		_ = s.ln.Close()
	}
	if s.conn != nil {
		_ = s.conn.SetReadDeadline(now)
	}
}

// ///////////////////////////////////////////////
// State Tracking
// ///////////////////////////////////////////////

func (s *Server) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// trackConn records a freshly accepted connection. If shutdown already
// started, the connection's read deadline is expired right away.
func (s *Server) trackConn(conn net.Conn, job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = conn
	s.job = job
	s.state = StateCapturing
	if s.closing {
		_ = conn.SetReadDeadline(time.Now())
	}
}

func (s *Server) trackFile(f *os.File, job Job) {
	s.mu.Lock()
	s.file = f
	s.job = job
	s.state = StateWriting
	s.mu.Unlock()
}

func (s *Server) updateJob(job Job) {
	s.mu.Lock()
	s.job = job
	s.mu.Unlock()
}

func (s *Server) done(job Job) {
	if s.opts.OnJobDone != nil {
		s.opts.OnJobDone(job)
	}
}

// ///////////////////////////////////////////////
// Copy
// ///////////////////////////////////////////////

// copyChunks reads src one chunk at a time and writes each chunk to dst in
// full until src reports EOF or an error occurs. It returns the number of
// bytes written. EOF is not an error.
func copyChunks(dst io.Writer, src io.Reader, buf []byte) (int64, error) {
	var written int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			w, werr := writeFull(dst, buf[:n])
			written += int64(w)
			if werr != nil {
				return written, fmt.Errorf("write: %w", werr)
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, fmt.Errorf("read: %w", rerr)
		}
	}
}

// writeFull writes all of p, retrying short writes.
func writeFull(w io.Writer, p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := w.Write(p[written:])
		written += n
		if err != nil {
			return written, err
		}
		if n == 0 {
			return written, io.ErrShortWrite
		}
	}
	return written, nil
}
