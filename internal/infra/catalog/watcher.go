package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 250 * time.Millisecond

// Watcher reloads the store when any catalog document changes on disk.
// Parent directories are watched rather than the files themselves because
// most editors and config pushers replace files by rename.
type Watcher struct {
	store  *Store
	logger *slog.Logger

	files map[string]bool
	fsw   *fsnotify.Watcher

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
}

// NewWatcher watches the documents configured on the store.
func NewWatcher(store *Store, logger *slog.Logger) *Watcher {
	files := make(map[string]bool, 3)
	for _, p := range []string{store.cfg.DomainsPath, store.cfg.ProvidersPath, store.cfg.PoliciesPath} {
		if p != "" {
			files[filepath.Clean(p)] = true
		}
	}
	return &Watcher{
		store:  store,
		logger: logger,
		files:  files,
		done:   make(chan struct{}),
	}
}

// Start begins watching. Safe to call once; later calls are no-ops.
func (w *Watcher) Start(_ context.Context) error {
	var startErr error
	w.startOnce.Do(func() {
		fsw, err := fsnotify.NewWatcher()
		if err != nil {
			startErr = fmt.Errorf("creating file watcher: %w", err)
			return
		}
		w.fsw = fsw

		dirs := make(map[string]bool, len(w.files))
		for file := range w.files {
			dirs[filepath.Dir(file)] = true
		}
		for dir := range dirs {
			if err := fsw.Add(dir); err != nil {
				fsw.Close()
				startErr = fmt.Errorf("watching %s: %w", dir, err)
				return
			}
		}

		go w.loop()
		w.logger.Info("catalog watcher started", "files", len(w.files))
	})
	return startErr
}

// Stop halts the watcher and waits for the loop to exit.
func (w *Watcher) Stop(ctx context.Context) error {
	var stopErr error
	w.stopOnce.Do(func() {
		if w.fsw == nil {
			close(w.done)
			return
		}
		if err := w.fsw.Close(); err != nil {
			stopErr = err
		}
		select {
		case <-w.done:
		case <-ctx.Done():
			stopErr = ctx.Err()
		}
	})
	return stopErr
}

func (w *Watcher) loop() {
	defer close(w.done)

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			// Debounce bursts: a single save often emits several events.
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(reloadDebounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			if err := w.store.Reload(); err != nil {
				// Keep serving the previous snapshot.
				w.logger.Error("catalog reload rejected", "error", err)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("catalog watcher error", "error", err)
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	return w.files[filepath.Clean(event.Name)]
}
