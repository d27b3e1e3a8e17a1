// Package main implements the tcp-print2file daemon, which accepts raw print
// jobs on a loopback TCP port and stores each one verbatim in a timestamped
// file on the output directory.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"

	rootpkg "github.com/kunfoo/tcp-print2file"
	"github.com/kunfoo/tcp-print2file/internal/capture"
	"github.com/kunfoo/tcp-print2file/internal/config"
	"github.com/kunfoo/tcp-print2file/internal/daemon"
	"github.com/kunfoo/tcp-print2file/internal/listener"
	"github.com/kunfoo/tcp-print2file/internal/logger"
	"github.com/kunfoo/tcp-print2file/internal/naming"
	"github.com/kunfoo/tcp-print2file/internal/outdir"
	"github.com/kunfoo/tcp-print2file/internal/paths"
	"github.com/kunfoo/tcp-print2file/internal/signals"
)

// ///////////////////////////////////////////////
// Version
// ///////////////////////////////////////////////

// version is set at build time via ldflags:
//   - make build: -X main.version=$(VERSION)    -> "0.0.0-dev+05ffee5"
//
// When ldflags are not set (bare go build), resolveVersion reads the VCS info
// that Go embeds automatically.
var version = "dev"

// resolveVersion returns the build version string. If [version] was set via
// ldflags it is returned as-is; otherwise the embedded VCS revision and dirty
// state yield a "dev+<hash>" tag.
func resolveVersion() string {
	if version != "dev" {
		return version
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return version
	}
	var revision string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if revision == "" {
		return version
	}
	hash := revision[:min(7, len(revision))]
	if dirty {
		return "dev+" + hash + ".dirty"
	}
	return "dev+" + hash
}

// ///////////////////////////////////////////////
// Main
// ///////////////////////////////////////////////

func main() {
	os.Exit(run(os.Args, os.Stdout))
}

// run starts the daemon and returns the process exit status: 0 after a
// signal-initiated shutdown or in a parent stage, 1 on a fatal error.
func run(args []string, stdout io.Writer) int {
	prog := programName(args)
	warnArguments(stdout, prog, args)

	cfg, err := config.Parse(rootpkg.ConfigTOML)
	if err != nil {
		fatalEarly(prog, "load config", err)
		return 1
	}
	tag := cfg.SyslogTag(prog)

	foreground := daemon.ForegroundRequested()
	proc, err := daemon.Daemonize(daemon.Options{
		WorkDir:    cfg.Daemon.WorkDir,
		Foreground: foreground,
	})
	if err != nil {
		fatalEarly(tag, "daemonize", err)
		return 1
	}
	if proc.Parent() {
		return 0
	}

	log, logCloser, err := logger.New(logger.Options{
		Level:     logger.ParseLevel(cfg.Log.Level),
		Syslog:    cfg.Log.Syslog,
		Tag:       tag,
		File:      cfg.Log.File,
		MaxSizeMB: cfg.Log.MaxSizeMB,
		Stderr:    foreground,
	})
	if err != nil {
		fatalEarly(tag, "init logger", err)
		return 1
	}
	defer logCloser.Close()
	slog.SetDefault(log)

	slog.Info("tcp-print2file starting",
		"version", resolveVersion(),
		"pid", os.Getpid(),
		"listen", cfg.ListenAddr(),
		"output", cfg.Output.Dir)

	if cfg.Daemon.PIDFile != "" {
		if alive, pid := checkStalePID(cfg.Daemon.PIDFile); alive {
			logger.Fail(log, "daemon already running", "pid", pid, "pid_file", cfg.Daemon.PIDFile)
			return 1
		}
		token := pidToken()
		pidFile, err := writePID(cfg.Daemon.PIDFile, token)
		if err != nil {
			logger.Fail(log, "failed to write PID file", "error", err)
			return 1
		}
		defer removePID(cfg.Daemon.PIDFile, token, pidFile)
	}

	ctx, stop := signals.Install(context.Background(), log)
	defer stop()

	ln, err := listener.Listen(cfg.Listen.Address, cfg.Listen.Port, cfg.Listen.Backlog)
	if err != nil {
		logger.Fail(log, "error creating server socket", "error", err)
		return 1
	}

	mon := watchOutput(cfg)
	if mon != nil {
		defer mon.Close()
	}

	srv := capture.NewServer(ln, naming.New(cfg.Output.Dir), captureOptions(cfg, mon))
	slog.Info("waiting for print jobs", "listen", ln.Addr().String())

	err = srv.Run(ctx)
	if errors.Is(err, capture.ErrServerClosed) {
		logger.Notice(log, "shutdown complete", "signal", fmt.Sprint(signals.Received(ctx)))
		return 0
	}
	logger.Fail(log, "capture loop stopped", "error", err)
	return 1
}

// captureOptions maps the output configuration onto the capture server.
// mon may be nil when the output directory cannot be monitored.
func captureOptions(cfg *config.Config, mon *outdir.Monitor) capture.Options {
	opts := capture.Options{
		ChunkSize: cfg.Output.ChunkSize,
		FileMode:  cfg.FileMode(),
	}
	if mon != nil {
		opts.OutputAvailable = mon.Available
	}
	return opts
}

// watchOutput starts the output directory monitor. A monitor that cannot be
// started only costs diagnostics, so failure is a warning.
func watchOutput(cfg *config.Config) *outdir.Monitor {
	dir := paths.OutputPrefix{Prefix: cfg.Output.Dir}.Dir()
	mon, err := outdir.New(dir)
	if err != nil {
		slog.Warn("cannot monitor output directory", "path", dir, "error", err)
		return nil
	}
	if !mon.Available() {
		slog.Warn("output directory missing, captures will fail until it appears", "path", dir)
	}
	if mon.Polling() {
		slog.Info("using polling mode for output directory", "path", dir)
	}
	return mon
}

// ///////////////////////////////////////////////
// Startup Helpers
// ///////////////////////////////////////////////

// programName returns the base name the program was invoked as.
func programName(args []string) string {
	if len(args) == 0 || args[0] == "" {
		return paths.BinaryName
	}
	return filepath.Base(args[0])
}

// warnArguments tells the user that arguments are ignored. Startup continues.
func warnArguments(w io.Writer, prog string, args []string) {
	if len(args) > 1 {
		fmt.Fprintf(w, "%s does not take any arguments\n", prog)
	}
}

// fatalEarly reports an error raised before the logger exists. Stderr is
// only useful in the launch stage; detached stages also try syslog.
func fatalEarly(tag, what string, err error) {
	fmt.Fprintf(os.Stderr, "fatal: %s: %v\n", what, err)
	if daemon.CurrentStage() == daemon.StageLaunch {
		return
	}
	log, closer, lerr := logger.New(logger.Options{Level: logger.LevelInfo, Syslog: true, Tag: tag})
	if lerr != nil {
		return
	}
	defer closer.Close()
	logger.Fail(log, what, "error", err)
}
