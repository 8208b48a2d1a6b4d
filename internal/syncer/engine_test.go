package syncer

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedEngine returns an engine whose run blocks until the test sends on
// release, with entered signalling that a run has started scanning.
func gatedEngine() (e *Engine, runs *atomic.Int32, entered chan struct{}, release chan struct{}) {
	e = New(Deps{}, slog.New(slog.DiscardHandler))
	runs = new(atomic.Int32)
	entered = make(chan struct{}, 8)
	release = make(chan struct{})
	e.runFn = func(ctx context.Context, opts Options) (*Result, error) {
		n := int(runs.Add(1))
		entered <- struct{}{}
		<-release
		return &Result{Reason: opts.Reason, FilesIndexed: n}, nil
	}
	return e, runs, entered, release
}

func TestSync_RequestDuringRunGetsFreshRun(t *testing.T) {
	e, runs, entered, release := gatedEngine()
	ctx := context.Background()

	// Given: a sync in flight, already scanning
	firstDone := make(chan *Result, 1)
	go func() {
		r, err := e.Sync(ctx, Options{Reason: "initial"})
		require.NoError(t, err)
		firstDone <- r
	}()
	<-entered

	// When: a second request arrives while the first run is scanning
	secondDone := make(chan *Result, 1)
	go func() {
		r, err := e.Sync(ctx, Options{Reason: "watch"})
		require.NoError(t, err)
		secondDone <- r
	}()

	release <- struct{}{}
	first := <-firstDone

	// Then: the second request runs fresh after the first finishes instead
	// of being handed the first run's pre-change result
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("second run never started")
	}
	release <- struct{}{}
	second := <-secondDone

	assert.Equal(t, int32(2), runs.Load())
	assert.NotSame(t, first, second)
	assert.Equal(t, 2, second.FilesIndexed)
}

func TestSync_RequestsDuringRunCoalesceOntoOneFollowUp(t *testing.T) {
	e, runs, entered, release := gatedEngine()
	ctx := context.Background()

	firstDone := make(chan *Result, 1)
	go func() {
		r, _ := e.Sync(ctx, Options{Reason: "initial"})
		firstDone <- r
	}()
	<-entered

	// Two requests land while the first run is scanning; both should share
	// a single follow-up run.
	results := make(chan *Result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			r, err := e.Sync(ctx, Options{Reason: "watch"})
			require.NoError(t, err)
			results <- r
		}()
	}
	// Let both pick their generation before the first run finishes.
	time.Sleep(100 * time.Millisecond)

	release <- struct{}{}
	<-firstDone

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("follow-up run never started")
	}
	release <- struct{}{}

	a, b := <-results, <-results
	assert.Equal(t, int32(2), runs.Load())
	assert.Same(t, a, b)
}

func TestSync_SequentialCallsEachRunFresh(t *testing.T) {
	e := New(Deps{}, slog.New(slog.DiscardHandler))
	var runs atomic.Int32
	e.runFn = func(ctx context.Context, opts Options) (*Result, error) {
		return &Result{FilesIndexed: int(runs.Add(1))}, nil
	}

	for want := 1; want <= 3; want++ {
		r, err := e.Sync(context.Background(), Options{Reason: "manual"})
		require.NoError(t, err)
		assert.Equal(t, want, r.FilesIndexed)
	}
	assert.Equal(t, int32(3), runs.Load())
}
