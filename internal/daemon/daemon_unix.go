// Package daemon detaches the process from its terminal and session.
//
// A running Go program cannot fork(2), so the classic double fork is done as
// a double re-exec of the same executable. Each process learns its stage from
// an environment marker:
//
//	launch   the process started by the user; starts "session" and exits
//	session  a new session leader with no terminal; starts "daemon" and exits
//	daemon   not a session leader, so it can never reacquire a terminal
//
// Only the daemon stage returns from [Daemonize] with Parent() false.

//go:build unix

package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/kunfoo/tcp-print2file/internal/paths"
)

const (
	// EnvStage carries the stage to re-executed children.
	EnvStage = "TCP_PRINT2FILE_STAGE"
	// EnvForeground set to 1 keeps the daemon attached, for supervisors
	// that track the started process themselves.
	EnvForeground = "TCP_PRINT2FILE_FOREGROUND"
)

// ForegroundRequested reports whether EnvForeground asks to stay attached.
func ForegroundRequested() bool {
	v := os.Getenv(EnvForeground)
	return v == "1" || strings.EqualFold(v, "true")
}

// ///////////////////////////////////////////////
// Stage
// ///////////////////////////////////////////////

// Stage is the position of a process in the detach sequence.
type Stage string

const (
	StageLaunch  Stage = "launch"
	StageSession Stage = "session"
	StageDaemon  Stage = "daemon"
)

// CurrentStage reads the stage marker. A missing or unknown marker means the
// process was started by hand.
func CurrentStage() Stage {
	switch s := Stage(os.Getenv(EnvStage)); s {
	case StageSession, StageDaemon:
		return s
	default:
		return StageLaunch
	}
}

// next returns the stage a process in s starts.
func (s Stage) next() Stage {
	if s == StageLaunch {
		return StageSession
	}
	return StageDaemon
}

// ///////////////////////////////////////////////
// Daemonize
// ///////////////////////////////////////////////

// Options controls [Daemonize].
type Options struct {
	// WorkDir is the daemon's working directory.
	WorkDir string
	// Foreground skips detaching but still applies WorkDir and the umask.
	Foreground bool
	// Executable re-executed for the next stage. Defaults to os.Executable.
	Executable string
	// Args passed to the next stage.
	Args []string
	// Env of the next stage without the stage marker. Defaults to os.Environ.
	Env []string
}

// Process is the result of [Daemonize] in the calling process.
type Process struct {
	// Stage of the calling process.
	Stage Stage
	// Child is the pid of the next stage, zero in the daemon stage.
	Child int
}

// Parent reports whether the caller only launched the next stage and must
// now exit with status 0.
func (p *Process) Parent() bool { return p.Stage != StageDaemon }

// Daemonize advances the calling process through the detach sequence. In the
// launch and session stages it starts the next stage and returns a Process
// whose Parent() is true. In the daemon stage, and with opts.Foreground, it
// changes to opts.WorkDir, clears the umask and returns.
func Daemonize(opts Options) (*Process, error) {
	stage := CurrentStage()
	if opts.Foreground {
		stage = StageDaemon
	}

	if stage == StageDaemon {
		if err := settle(opts.WorkDir); err != nil {
			return nil, err
		}
		return &Process{Stage: StageDaemon}, nil
	}

	pid, err := spawn(opts, stage.next())
	if err != nil {
		return nil, err
	}
	return &Process{Stage: stage, Child: pid}, nil
}

// settle applies the daemon's process attributes.
func settle(workDir string) error {
	if workDir != "" {
		if err := os.Chdir(workDir); err != nil {
			return fmt.Errorf("chdir: %w", err)
		}
	}
	unix.Umask(0)
	return nil
}

// spawn starts the executable as stage next with its standard streams on
// /dev/null and releases it. The session stage is started in a new session.
func spawn(opts Options, next Stage) (int, error) {
	exe := opts.Executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return 0, fmt.Errorf("locate executable: %w", err)
		}
	}
	env := opts.Env
	if env == nil {
		env = os.Environ()
	}

	devNull, err := os.OpenFile(paths.DevNull, os.O_RDWR, 0)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", paths.DevNull, err)
	}
	defer devNull.Close()

	cmd := exec.Command(exe, opts.Args...)
	cmd.Env = withStage(env, next)
	cmd.Dir = opts.WorkDir
	cmd.Stdin, cmd.Stdout, cmd.Stderr = devNull, devNull, devNull
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: next == StageSession}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start %s stage: %w", next, err)
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		return pid, fmt.Errorf("release %s stage: %w", next, err)
	}
	return pid, nil
}

// withStage returns env with any stage marker replaced by stage.
func withStage(env []string, stage Stage) []string {
	out := slices.DeleteFunc(slices.Clone(env), func(kv string) bool {
		return strings.HasPrefix(kv, EnvStage+"=")
	})
	return append(out, EnvStage+"="+string(stage))
}
