package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/openclaw/mongomem/internal/store"
)

func TestChangeStreamWatcher_BatchCarriesResumeToken(t *testing.T) {
	// Given: a watcher with a short batch window
	events := make(chan ChangeEvent, 1)
	w := NewChangeStreamWatcher(nil, 50*time.Millisecond, nil,
		func(ev ChangeEvent) { events <- ev }, nil)

	// When: two events land in one window, the second with a newer token
	first := changeDoc{OperationType: "insert"}
	first.FullDocument.Path = "memory/notes.md"
	w.add(first, bson.Raw("token-1"))

	second := changeDoc{OperationType: "update"}
	second.FullDocument.Path = "memory/plan.md"
	w.add(second, bson.Raw("token-2"))

	// Then: one batch, latest operation and token, both paths
	select {
	case ev := <-events:
		assert.Equal(t, "update", ev.OperationType)
		assert.ElementsMatch(t, []string{"memory/notes.md", "memory/plan.md"}, ev.Paths)
		assert.Equal(t, bson.Raw("token-2"), ev.ResumeToken)
	case <-time.After(2 * time.Second):
		t.Fatal("batch was never delivered")
	}
}

func TestChangeStreamWatcher_DeleteRecoversPathFromID(t *testing.T) {
	events := make(chan ChangeEvent, 1)
	w := NewChangeStreamWatcher(nil, 50*time.Millisecond, nil,
		func(ev ChangeEvent) { events <- ev }, nil)

	// Delete events carry no post-image, only the composite _id.
	doc := changeDoc{OperationType: "delete"}
	doc.DocumentKey.ID = store.ChunkID("memory/gone.md", 1, 40)
	w.add(doc, nil)

	select {
	case ev := <-events:
		assert.Equal(t, []string{"memory/gone.md"}, ev.Paths)
	case <-time.After(2 * time.Second):
		t.Fatal("batch was never delivered")
	}
}

func TestChangeStreamWatcher_CloseSuppressesPendingBatch(t *testing.T) {
	events := make(chan ChangeEvent, 1)
	w := NewChangeStreamWatcher(nil, 100*time.Millisecond, nil,
		func(ev ChangeEvent) { events <- ev }, nil)

	doc := changeDoc{OperationType: "insert"}
	doc.FullDocument.Path = "memory/late.md"
	w.add(doc, nil)
	w.Close()
	w.Close()

	select {
	case <-events:
		t.Fatal("closed watcher must not deliver")
	case <-time.After(300 * time.Millisecond):
	}
}
