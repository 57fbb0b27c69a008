package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"loom/internal/logging"
)

// ReloadHandler receives the freshly loaded configuration after the file
// changes on disk.
type ReloadHandler func(cfg *Config)

// Watcher hot-reloads the config file. Editors replace files with
// write-then-rename, so the parent directory is watched and events are
// debounced before reloading.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	path      string
	onReload  ReloadHandler

	mu       sync.Mutex
	pending  time.Time
	done     chan struct{}
	stopOnce sync.Once
}

const reloadDebounce = 500 * time.Millisecond

// NewWatcher creates a watcher for the given config file.
func NewWatcher(path string, onReload ReloadHandler) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatcher.Add(filepath.Dir(path)); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	w := &Watcher{
		fsWatcher: fsWatcher,
		path:      path,
		onReload:  onReload,
		done:      make(chan struct{}),
	}
	go w.processEvents()
	go w.processDebounce()
	return w, nil
}

// Stop shuts down the watcher.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() { close(w.done) })
	return w.fsWatcher.Close()
}

func (w *Watcher) processEvents() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.mu.Lock()
			w.pending = time.Now()
			w.mu.Unlock()
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			logging.Warn("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) processDebounce() {
	ticker := time.NewTicker(reloadDebounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.Lock()
			ready := !w.pending.IsZero() && time.Since(w.pending) >= reloadDebounce
			if ready {
				w.pending = time.Time{}
			}
			w.mu.Unlock()
			if !ready {
				continue
			}

			cfg, err := LoadFrom(w.path)
			if err != nil {
				logging.Warn("config reload failed", "path", w.path, "error", err)
				continue
			}
			logging.Info("config reloaded", "path", w.path)
			if w.onReload != nil {
				w.onReload(cfg)
			}
		}
	}
}
