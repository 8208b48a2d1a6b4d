package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelevant_FiltersToMemoryPaths(t *testing.T) {
	w := NewFileWatcher("/ws", []string{"MEMORY.md", "memory"}, time.Second, func() {}, func() {}, nil)

	tests := []struct {
		name  string
		event fsnotify.Event
		want  bool
	}{
		{"top-level memory file", fsnotify.Event{Name: "/ws/MEMORY.md", Op: fsnotify.Write}, true},
		{"file under memory dir", fsnotify.Event{Name: "/ws/memory/notes.md", Op: fsnotify.Create}, true},
		{"nested file", fsnotify.Event{Name: "/ws/memory/sub/deep.md", Op: fsnotify.Remove}, true},
		{"unrelated file", fsnotify.Event{Name: "/ws/README.md", Op: fsnotify.Write}, false},
		{"prefix but not path component", fsnotify.Event{Name: "/ws/memorylane.md", Op: fsnotify.Write}, false},
		{"chmod only", fsnotify.Event{Name: "/ws/MEMORY.md", Op: fsnotify.Chmod}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, w.relevant(tt.event))
		})
	}
}

func TestFileWatcher_DebouncesBursts(t *testing.T) {
	// Given: a running watcher with a short debounce window
	root := t.TempDir()
	memDir := filepath.Join(root, "memory")
	require.NoError(t, os.MkdirAll(memDir, 0o755))

	var dirty, flushes atomic.Int32
	w := NewFileWatcher(root, []string{"memory"}, 150*time.Millisecond,
		func() { dirty.Add(1) },
		func() { flushes.Add(1) },
		nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Close()

	// When: three rapid writes inside the window
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(memDir, "notes.md"), []byte{'a' + byte(i)}, 0o644))
		time.Sleep(20 * time.Millisecond)
	}

	// Then: exactly one flush once the burst settles
	require.Eventually(t, func() bool { return flushes.Load() == 1 },
		2*time.Second, 20*time.Millisecond)
	assert.GreaterOrEqual(t, dirty.Load(), int32(1))

	// And: a later write outside the window triggers a second flush
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(memDir, "notes.md"), []byte("later"), 0o644))
	require.Eventually(t, func() bool { return flushes.Load() == 2 },
		2*time.Second, 20*time.Millisecond)
}

func TestFileWatcher_CloseIdempotent(t *testing.T) {
	w := NewFileWatcher(t.TempDir(), []string{"memory"}, time.Second, func() {}, func() {}, nil)
	require.NoError(t, w.Start(context.Background()))

	assert.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}

func TestFileWatcher_CloseCancelsPendingFlush(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "memory"), 0o755))

	var flushes atomic.Int32
	w := NewFileWatcher(root, []string{"memory"}, 300*time.Millisecond,
		func() {}, func() { flushes.Add(1) }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	require.NoError(t, os.WriteFile(filepath.Join(root, "memory", "a.md"), []byte("x"), 0o644))
	// Give fsnotify a moment to deliver the event, then close before the
	// debounce window elapses.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, w.Close())

	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, int32(0), flushes.Load())
}
