// Package outdir tracks whether the capture output directory is present.
//
// The output directory usually lives on removable media. When the stick is
// pulled every open(2) fails until it is back, and the log should say why.
// A [Monitor] watches the directory's parent with fsnotify, falls back to
// stat polling when that is not possible, and logs each transition.
package outdir

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultInterval paces polling and the periodic re-check in fsnotify mode.
// The re-check catches unmounts, which do not always surface as an event on
// the parent directory.
const defaultInterval = 5 * time.Second

// ///////////////////////////////////////////////
// Monitor
// ///////////////////////////////////////////////

// Monitor reports the availability of one directory.
type Monitor struct {
	// dir is the monitored output directory.
	dir string
	// parent is watched so creation and removal of dir are observed.
	parent string
	// available caches the result of the last check.
	available atomic.Bool
	// changes delivers a signal after each availability transition.
	// Buffered to 1 so back-to-back transitions coalesce.
	changes chan struct{}
	// done is closed by [Monitor.Close].
	done chan struct{}
	// fsw is the fsnotify watcher; nil when polling. Owned by the watch
	// goroutine once started.
	fsw *fsnotify.Watcher
	// once makes [Monitor.Close] idempotent.
	once sync.Once
	// polling is true once the monitor fell back to stat polling.
	polling atomic.Bool
	// interval between checks in polling mode.
	interval time.Duration
	// mu serializes checks so transitions are logged once.
	mu sync.Mutex
}

// New starts monitoring dir.
func New(dir string) (*Monitor, error) {
	return newMonitor(dir, defaultInterval)
}

func newMonitor(dir string, interval time.Duration) (*Monitor, error) {
	if dir == "" {
		return nil, fmt.Errorf("outdir: empty directory")
	}
	dir = filepath.Clean(dir)
	m := &Monitor{
		dir:      dir,
		parent:   filepath.Dir(dir),
		changes:  make(chan struct{}, 1),
		done:     make(chan struct{}),
		interval: interval,
	}
	m.available.Store(isDir(dir))

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Info("fsnotify unavailable, falling back to polling", "error", err)
		m.startPolling()
		return m, nil
	}
	if err := fsw.Add(m.parent); err != nil {
		slog.Info("cannot watch output parent, falling back to polling", "path", m.parent, "error", err)
		fsw.Close()
		m.startPolling()
		return m, nil
	}
	m.fsw = fsw
	go m.watch(fsw)
	return m, nil
}

// Dir returns the monitored directory.
func (m *Monitor) Dir() string { return m.dir }

// Available reports whether the directory existed at the last check.
func (m *Monitor) Available() bool { return m.available.Load() }

// Changes returns a channel signalled after each availability transition.
func (m *Monitor) Changes() <-chan struct{} { return m.changes }

// Polling reports whether the monitor uses polling instead of fsnotify.
func (m *Monitor) Polling() bool { return m.polling.Load() }

// Close stops the monitor and releases resources.
func (m *Monitor) Close() error {
	var err error
	m.once.Do(func() {
		close(m.done)
		if m.fsw != nil {
			if closeErr := m.fsw.Close(); closeErr != nil {
				err = fmt.Errorf("closing fsnotify watcher: %w", closeErr)
			}
		}
	})
	return err
}

// ///////////////////////////////////////////////
// Checks
// ///////////////////////////////////////////////

// check stats the directory and logs a transition.
func (m *Monitor) check() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := isDir(m.dir)
	if m.available.Swap(now) == now {
		return
	}
	if now {
		slog.Info("output directory available", "path", m.dir)
	} else {
		slog.Warn("output directory unavailable, captures will fail", "path", m.dir)
	}
	select {
	case m.changes <- struct{}{}:
	default:
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// ///////////////////////////////////////////////
// Watching
// ///////////////////////////////////////////////

// watch re-checks on every event in the parent and on a slow tick. If
// fsnotify reports an error or the parent itself goes away, it switches to
// polling.
func (m *Monitor) watch(fsw *fsnotify.Watcher) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			m.check()
			if filepath.Clean(event.Name) == m.parent && (event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)) {
				slog.Info("output parent removed, switching to polling", "path", m.parent)
				m.startPolling()
				return
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			slog.Info("fsnotify error, switching to polling", "error", err)
			m.startPolling()
			return
		case <-ticker.C:
			m.check()
		}
	}
}

func (m *Monitor) startPolling() {
	m.polling.Store(true)
	go m.poll()
}

// poll re-checks the directory every interval.
func (m *Monitor) poll() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.check()
		}
	}
}
