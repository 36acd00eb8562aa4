package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultReloadDebounce coalesces editor save bursts (write, chmod, rename).
const DefaultReloadDebounce = 250 * time.Millisecond

// FileWatcher re-stages the defaults layer whenever the settings file
// changes. Reloads go through the normal commit protocol, so an invalid
// edit is rejected and logged while the previous configuration stays live.
type FileWatcher struct {
	store    *Store
	path     string
	debounce time.Duration
	logger   *slog.Logger

	mu    sync.Mutex
	timer *time.Timer

	// reloaded receives the outcome of each reload; used by tests.
	reloaded chan error
}

// NewFileWatcher creates a watcher for path that commits into store.
func NewFileWatcher(store *Store, path string) *FileWatcher {
	return &FileWatcher{
		store:    store,
		path:     path,
		debounce: DefaultReloadDebounce,
		logger:   slog.Default(),
	}
}

// Run watches until ctx is cancelled. The parent directory is watched
// rather than the file, because editors replace files by renaming.
func (w *FileWatcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create settings watcher: %w", err)
	}
	defer fsw.Close()

	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.logger.Info("watching settings file", slog.String("path", w.path))

	target := filepath.Clean(w.path)
	for {
		select {
		case <-ctx.Done():
			w.stopTimer()
			return ctx.Err()
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("settings watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *FileWatcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		err := w.Reload()
		if w.reloaded != nil {
			w.reloaded <- err
		}
	})
}

func (w *FileWatcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

// Reload reads the settings file and commits it as the defaults layer.
func (w *FileWatcher) Reload() error {
	layer, err := LoadDefaultsLayer(w.path)
	if err != nil {
		w.logger.Warn("settings reload failed",
			slog.String("path", w.path),
			slog.String("error", err.Error()))
		return err
	}
	if err := w.store.SetLayer(LayerDefaults, layer); err != nil {
		return err
	}
	w.logger.Info("settings reloaded", slog.String("path", w.path))
	return nil
}
