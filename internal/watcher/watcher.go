// Package watcher notices when another process changes the task database or
// the store snapshot, so a long-running process can refresh.
package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"todocal/internal/utils"
)

// DefaultDebounceDuration is the default window for batching rapid changes.
const DefaultDebounceDuration = 500 * time.Millisecond

// Config holds file watcher configuration.
type Config struct {
	Paths            []string      // Files to watch; their directories must exist
	DebounceDuration time.Duration // Debounce window to batch rapid changes
	OnChange         func()        // Called once per batch of changes
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(onChange func(), paths ...string) *Config {
	return &Config{
		Paths:            paths,
		DebounceDuration: DefaultDebounceDuration,
		OnChange:         onChange,
	}
}

// Watcher monitors file system changes and triggers a callback.
type Watcher struct {
	cfg     *Config
	fsw     *fsnotify.Watcher
	targets map[string]bool // cleaned absolute file paths
	stopCh  chan struct{}
	doneCh  chan struct{}
	stopped bool
	started bool
	mu      sync.Mutex
}

// New creates a new Watcher instance.
func New(cfg *Config) (*Watcher, error) {
	if cfg.DebounceDuration <= 0 {
		cfg.DebounceDuration = DefaultDebounceDuration
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	targets := make(map[string]bool, len(cfg.Paths))
	for _, p := range cfg.Paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			_ = fsw.Close()
			return nil, err
		}
		targets[filepath.Clean(abs)] = true
	}

	return &Watcher{
		cfg:     cfg,
		fsw:     fsw,
		targets: targets,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start begins watching. Directories are watched rather than the files
// themselves so atomic replace-by-rename is seen.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return fmt.Errorf("watcher has been stopped and cannot be restarted")
	}
	if w.started {
		return nil
	}

	dirs := make(map[string]bool)
	for target := range w.targets {
		dirs[filepath.Dir(target)] = true
	}
	for dir := range dirs {
		if _, err := os.Stat(dir); err != nil {
			return fmt.Errorf("failed to watch %q: %w", dir, err)
		}
		if err := w.fsw.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %q: %w", dir, err)
		}
	}

	w.started = true
	go w.eventLoop()
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	started := w.started
	close(w.stopCh)
	_ = w.fsw.Close()
	w.mu.Unlock()

	if started {
		<-w.doneCh
	}
}

// relevant reports whether name is a watched file or one of its SQLite
// side files (-wal, -journal).
func (w *Watcher) relevant(name string) bool {
	name = filepath.Clean(name)
	if w.targets[name] {
		return true
	}
	for _, suffix := range []string{"-wal", "-journal"} {
		if base, ok := strings.CutSuffix(name, suffix); ok && w.targets[base] {
			return true
		}
	}
	return false
}

// eventLoop processes fsnotify events with debouncing.
func (w *Watcher) eventLoop() {
	defer close(w.doneCh)

	timer := time.NewTimer(w.cfg.DebounceDuration)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if !w.relevant(event.Name) {
				continue
			}
			timer.Reset(w.cfg.DebounceDuration)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			utils.Debugf("watcher: %v", err)

		case <-timer.C:
			if w.cfg.OnChange != nil {
				w.cfg.OnChange()
			}
		}
	}
}
