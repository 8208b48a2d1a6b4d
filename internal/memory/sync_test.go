package memory

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/mongomem/internal/config"
	"github.com/openclaw/mongomem/internal/kb"
	"github.com/openclaw/mongomem/internal/syncer"
)

type fakeEngine struct {
	syncFn func(context.Context, syncer.Options) (*syncer.Result, error)
}

func (f *fakeEngine) Sync(ctx context.Context, opts syncer.Options) (*syncer.Result, error) {
	return f.syncFn(ctx, opts)
}

func (f *fakeEngine) TxnDisabled() bool { return false }

func syncTestManager(engine syncEngine) *Manager {
	return &Manager{
		cfg:    config.DefaultConfig(),
		logger: slog.New(slog.DiscardHandler),
		engine: engine,
	}
}

func (m *Manager) isDirty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dirty
}

func TestSync_ClearsDirtyBeforeRunStarts(t *testing.T) {
	var dirtyDuringRun bool
	var m *Manager
	m = syncTestManager(&fakeEngine{
		syncFn: func(ctx context.Context, opts syncer.Options) (*syncer.Result, error) {
			dirtyDuringRun = m.isDirty()
			return &syncer.Result{Reason: opts.Reason}, nil
		},
	})

	// Given: pending changes
	m.markDirty()

	// When
	_, err := m.Sync(context.Background(), "manual")
	require.NoError(t, err)

	// Then: the flag cleared before the run, not after it
	assert.False(t, dirtyDuringRun)
	assert.False(t, m.isDirty())
}

func TestSync_ChangeObservedMidRunStaysDirty(t *testing.T) {
	var m *Manager
	m = syncTestManager(&fakeEngine{
		syncFn: func(ctx context.Context, opts syncer.Options) (*syncer.Result, error) {
			// A watcher fires while the run is scanning.
			m.markDirty()
			return &syncer.Result{Reason: opts.Reason}, nil
		},
	})

	_, err := m.Sync(context.Background(), "watch")
	require.NoError(t, err)

	// The mid-run change must not be wiped by the completed sync.
	assert.True(t, m.isDirty())
}

func TestSync_FailureLeavesManagerDirty(t *testing.T) {
	m := syncTestManager(&fakeEngine{
		syncFn: func(ctx context.Context, opts syncer.Options) (*syncer.Result, error) {
			return nil, errors.New("server unavailable")
		},
	})
	m.markDirty()

	_, err := m.Sync(context.Background(), "watch")
	require.Error(t, err)
	assert.True(t, m.isDirty())
}

func TestKBRefreshInterval(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   time.Duration
	}{
		{"default has no import paths", func(c *config.Config) {}, 0},
		{"paths with default refresh", func(c *config.Config) {
			c.KB.AutoImportPaths = []string{"docs"}
		}, 24 * time.Hour},
		{"refresh disabled", func(c *config.Config) {
			c.KB.AutoImportPaths = []string{"docs"}
			c.KB.AutoRefreshHours = 0
		}, 0},
		{"custom hours", func(c *config.Config) {
			c.KB.AutoImportPaths = []string{"docs"}
			c.KB.AutoRefreshHours = 6
		}, 6 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.mutate(cfg)
			assert.Equal(t, tt.want, kbRefreshInterval(cfg))
		})
	}
}

func TestKBAutoImportOptions(t *testing.T) {
	cfg := config.DefaultConfig()
	opts := kbAutoImportOptions(cfg)
	assert.Equal(t, kb.FileIngestOptions{Recursive: true, ImportedBy: "auto-import"}, opts)

	off := false
	cfg.KB.Recursive = &off
	assert.False(t, kbAutoImportOptions(cfg).Recursive)
}
