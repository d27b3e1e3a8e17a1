// Package integration wires the daemon's components together the way
// cmd/tcp-print2file does and drives them over real sockets and signals.

//go:build unix

package integration

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	rootpkg "github.com/kunfoo/tcp-print2file"
	"github.com/kunfoo/tcp-print2file/internal/capture"
	"github.com/kunfoo/tcp-print2file/internal/config"
	"github.com/kunfoo/tcp-print2file/internal/listener"
	"github.com/kunfoo/tcp-print2file/internal/logger"
	"github.com/kunfoo/tcp-print2file/internal/naming"
	"github.com/kunfoo/tcp-print2file/internal/outdir"
	"github.com/kunfoo/tcp-print2file/internal/signals"
)

// ///////////////////////////////////////////////
// Helpers
// ///////////////////////////////////////////////

var stampName = regexp.MustCompile(`^\d{2}\.\d{2}\.\d{4}-\d{2}:\d{2}:\d{2}$`)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// daemon is an in-process instance of the capture daemon.
type daemon struct {
	cfg  *config.Config
	addr string
	log  *lockedBuffer
	jobs chan capture.Job
	ctx  context.Context
	errc chan error
}

// startDaemon decodes the embedded configuration, points it at a temp output
// directory and an ephemeral port, and runs the capture loop.
func startDaemon(t *testing.T) *daemon {
	t.Helper()

	cfg, err := config.Parse(rootpkg.ConfigTOML)
	if err != nil {
		t.Fatalf("parse embedded config: %v", err)
	}
	cfg.Output.Dir = t.TempDir() + string(filepath.Separator)
	cfg.Listen.Port = 0

	buf := &lockedBuffer{}
	log := slog.New(logger.NewHandler(buf, logger.LevelTrace))
	prev := slog.Default()
	slog.SetDefault(log)
	t.Cleanup(func() { slog.SetDefault(prev) })

	ctx, stop := signals.Install(context.Background(), log)
	t.Cleanup(stop)

	ln, err := listener.Listen(cfg.Listen.Address, cfg.Listen.Port, cfg.Listen.Backlog)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	mon, err := outdir.New(cfg.Output.Dir)
	if err != nil {
		t.Fatalf("outdir: %v", err)
	}
	t.Cleanup(func() { mon.Close() })

	d := &daemon{
		cfg:  cfg,
		addr: ln.Addr().String(),
		log:  buf,
		jobs: make(chan capture.Job, 4),
		ctx:  ctx,
		errc: make(chan error, 1),
	}
	srv := capture.NewServer(ln, naming.New(cfg.Output.Dir), capture.Options{
		ChunkSize:       cfg.Output.ChunkSize,
		FileMode:        cfg.FileMode(),
		OutputAvailable: mon.Available,
		OnJobDone:       func(j capture.Job) { d.jobs <- j },
	})
	go func() { d.errc <- srv.Run(ctx) }()
	t.Cleanup(func() {
		stop()
		select {
		case <-d.errc:
		case <-time.After(5 * time.Second):
			t.Error("capture loop did not stop")
		}
	})
	return d
}

func (d *daemon) nextJob(t *testing.T) capture.Job {
	t.Helper()
	select {
	case j := <-d.jobs:
		return j
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job")
		return capture.Job{}
	}
}

// waitForFile polls the output directory for a file other than skip that
// holds want.
func (d *daemon) waitForFile(t *testing.T, skip, want string) string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		entries, _ := os.ReadDir(d.cfg.Output.Dir)
		for _, e := range entries {
			path := filepath.Join(d.cfg.Output.Dir, e.Name())
			if path == skip {
				continue
			}
			if b, err := os.ReadFile(path); err == nil && string(b) == want {
				return path
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no capture with content %q appeared", want)
	return ""
}

// ///////////////////////////////////////////////
// Tests
// ///////////////////////////////////////////////

func TestCaptureThenSignalShutdown(t *testing.T) {
	d := startDaemon(t)

	job := []byte("%!PS-Adobe-3.0\n%%Title: integration\nshowpage\n\x04")
	c, err := net.Dial("tcp", d.addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if _, err := c.Write(job); err != nil {
		t.Fatalf("write: %v", err)
	}
	c.Close()

	first := d.nextJob(t)
	if first.Err != nil {
		t.Fatalf("job failed: %v", first.Err)
	}
	if !stampName.MatchString(filepath.Base(first.Path)) {
		t.Errorf("capture name %q is not DD.MM.YYYY-HH:MM:SS", filepath.Base(first.Path))
	}
	got, err := os.ReadFile(first.Path)
	if err != nil {
		t.Fatalf("read capture: %v", err)
	}
	if !bytes.Equal(got, job) {
		t.Errorf("capture = %q, want %q", got, job)
	}

	// Timestamp names have one-second granularity.
	time.Sleep(1100 * time.Millisecond)

	partial, err := net.Dial("tcp", d.addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer partial.Close()
	if _, err := partial.Write([]byte("half a job")); err != nil {
		t.Fatalf("write: %v", err)
	}
	path := d.waitForFile(t, first.Path, "half a job")

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("kill: %v", err)
	}

	select {
	case err := <-d.errc:
		d.errc <- err
		if !errors.Is(err, capture.ErrServerClosed) {
			t.Fatalf("Run() = %v, want ErrServerClosed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("capture loop ignored SIGTERM")
	}

	if sig := signals.Received(d.ctx); sig != syscall.SIGTERM {
		t.Errorf("Received() = %v, want SIGTERM", sig)
	}
	interrupted := d.nextJob(t)
	if !interrupted.Interrupted || interrupted.Path != path {
		t.Errorf("interrupted job = %+v, want Interrupted at %s", interrupted, path)
	}
	if b, _ := os.ReadFile(path); string(b) != "half a job" {
		t.Errorf("partial capture = %q after shutdown", b)
	}

	logs := d.log.String()
	for _, want := range []string{
		"accepted new print client",
		"done printing to",
		"[NOTICE] received signal, shutting down",
		"capture interrupted by shutdown",
	} {
		if !strings.Contains(logs, want) {
			t.Errorf("log missing %q:\n%s", want, logs)
		}
	}
}

func TestOutputDirectoryRemoved(t *testing.T) {
	d := startDaemon(t)

	if err := os.Remove(filepath.Clean(d.cfg.Output.Dir)); err != nil {
		t.Fatal(err)
	}

	c, err := net.Dial("tcp", d.addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	if _, err := c.Write([]byte("lost")); err != nil {
		t.Fatalf("write: %v", err)
	}

	job := d.nextJob(t)
	if job.Err == nil {
		t.Fatal("capture into removed directory succeeded")
	}
	if !strings.Contains(d.log.String(), "error opening printfile") {
		t.Errorf("open failure not logged:\n%s", d.log.String())
	}
}
