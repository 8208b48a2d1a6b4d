// Package watcher feeds the memory manager's dirty flag from two sources:
// a debounced fsnotify watcher over the workspace memory paths, and an
// optional MongoDB change-stream subscriber over the chunks collection.
// Both coalesce event bursts into a single scheduled sync.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileWatcher watches the memory paths and invokes a callback once per
// debounce window after the last event. Events arriving while a sync runs
// simply re-arm the timer.
type FileWatcher struct {
	root     string
	paths    []string
	debounce time.Duration
	onDirty  func()
	onFlush  func()
	logger   *slog.Logger

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
	done    chan struct{}
}

// NewFileWatcher creates a watcher over the workspace-relative paths.
// onDirty is called for every relevant event; onFlush once per settled
// burst (the debounced sync trigger).
func NewFileWatcher(root string, paths []string, debounce time.Duration, onDirty, onFlush func(), logger *slog.Logger) *FileWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &FileWatcher{
		root:     root,
		paths:    paths,
		debounce: debounce,
		onDirty:  onDirty,
		onFlush:  onFlush,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start begins watching. Existing files are not reported (watch events
// only). Returns an error when the watcher cannot be created at all;
// individual missing paths are skipped.
func (w *FileWatcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw

	// Watch the root for the top-level memory files and each existing
	// memory directory recursively.
	watched := map[string]bool{}
	addWatch := func(dir string) {
		if watched[dir] {
			return
		}
		if err := fsw.Add(dir); err != nil {
			w.logger.Warn("failed to watch directory",
				slog.String("dir", dir), slog.String("error", err.Error()))
			return
		}
		watched[dir] = true
	}

	addWatch(w.root)
	for _, rel := range w.paths {
		abs := filepath.Join(w.root, rel)
		info, err := os.Stat(abs)
		if err != nil {
			continue
		}
		if info.IsDir() {
			_ = filepath.WalkDir(abs, func(path string, d os.DirEntry, err error) error {
				if err == nil && d.IsDir() {
					addWatch(path)
				}
				return nil
			})
		}
	}

	go w.loop(ctx)
	return nil
}

func (w *FileWatcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			// New directories under a watched memory path need their own
			// watch for recursive coverage.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.fsw.Add(event.Name)
				}
			}
			w.onDirty()
			w.armTimer()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", slog.String("error", err.Error()))
		}
	}
}

// relevant filters events down to the configured memory paths.
func (w *FileWatcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, p := range w.paths {
		p = filepath.ToSlash(p)
		if rel == p || strings.HasPrefix(rel, p+"/") {
			return true
		}
	}
	return false
}

// armTimer (re-)schedules the flush callback one debounce window out.
func (w *FileWatcher) armTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.onFlush)
}

// Close stops the watcher and cancels the pending timer. Idempotent.
func (w *FileWatcher) Close() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
	close(w.done)
	w.mu.Unlock()

	if w.fsw != nil {
		return w.fsw.Close()
	}
	return nil
}
