package watcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/openclaw/mongomem/internal/store"
)

// ChangeEvent is one debounced batch of chunk-collection changes.
// OperationType carries the most recent operation in the batch and
// ResumeToken the stream position after it, for the caller to persist.
type ChangeEvent struct {
	OperationType string
	Paths         []string
	Timestamp     time.Time
	ResumeToken   bson.Raw
}

// ChangeStreamWatcher subscribes to the chunks collection and delivers one
// callback per debounced batch of change events. It exists so external
// writers (another agent process sharing the database) also mark this
// manager dirty.
type ChangeStreamWatcher struct {
	coll        *mongo.Collection
	debounce    time.Duration
	callback    func(ChangeEvent)
	resumeAfter bson.Raw
	logger      *slog.Logger

	cancel context.CancelFunc

	mu        sync.Mutex
	pending   map[string]struct{}
	lastOp    string
	lastToken bson.Raw
	timer     *time.Timer
	closed    bool
}

// changeDoc is the slice of the change-stream document we consume.
type changeDoc struct {
	OperationType string `bson:"operationType"`
	FullDocument  struct {
		Path string `bson:"path"`
	} `bson:"fullDocument"`
	DocumentKey struct {
		ID string `bson:"_id"`
	} `bson:"documentKey"`
}

// NewChangeStreamWatcher creates a subscriber over the chunks collection.
// resumeAfter, when non-empty, resumes the stream from a persisted token.
func NewChangeStreamWatcher(coll *mongo.Collection, debounce time.Duration, resumeAfter bson.Raw, callback func(ChangeEvent), logger *slog.Logger) *ChangeStreamWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = time.Second
	}
	return &ChangeStreamWatcher{
		coll:        coll,
		debounce:    debounce,
		callback:    callback,
		resumeAfter: resumeAfter,
		logger:      logger,
		pending:     make(map[string]struct{}),
	}
}

// Start opens the change stream. It returns false, without raising, when
// the deployment does not support change streams ("only supported on
// replica sets"); the caller continues with the file watcher alone.
func (w *ChangeStreamWatcher) Start(ctx context.Context) bool {
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	if len(w.resumeAfter) > 0 {
		opts = opts.SetResumeAfter(w.resumeAfter)
	}
	stream, err := w.coll.Watch(streamCtx, mongo.Pipeline{}, opts)
	if err != nil && len(w.resumeAfter) > 0 {
		// The token may have aged out of the oplog; fall back to "now".
		w.logger.Warn("resume token rejected, watching from current position",
			slog.String("error", err.Error()))
		stream, err = w.coll.Watch(streamCtx, mongo.Pipeline{},
			options.ChangeStream().SetFullDocument(options.UpdateLookup))
	}
	if err != nil {
		cancel()
		w.logger.Warn("change streams unavailable, continuing without",
			slog.String("error", err.Error()))
		return false
	}

	w.cancel = cancel
	go w.consume(streamCtx, stream)
	return true
}

func (w *ChangeStreamWatcher) consume(ctx context.Context, stream *mongo.ChangeStream) {
	defer func() { _ = stream.Close(context.WithoutCancel(ctx)) }()

	for stream.Next(ctx) {
		var doc changeDoc
		if err := stream.Decode(&doc); err != nil {
			w.logger.Warn("failed to decode change event", slog.String("error", err.Error()))
			continue
		}
		w.add(doc, stream.ResumeToken())
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		w.logger.Warn("change stream ended", slog.String("error", err.Error()))
	}
}

// add records one event and (re-)arms the batch timer.
func (w *ChangeStreamWatcher) add(doc changeDoc, token bson.Raw) {
	path := doc.FullDocument.Path
	if path == "" && doc.DocumentKey.ID != "" {
		// Delete events have no post-image; recover the path from the
		// composite _id "path:startLine:endLine".
		if p, _, _, err := store.ParseChunkID(doc.DocumentKey.ID); err == nil {
			path = p
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if path != "" {
		w.pending[path] = struct{}{}
	}
	w.lastOp = doc.OperationType
	if len(token) > 0 {
		w.lastToken = token
	}

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

// flush delivers a single callback for the batch.
func (w *ChangeStreamWatcher) flush() {
	w.mu.Lock()
	if w.closed || len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	op := w.lastOp
	token := w.lastToken
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	w.callback(ChangeEvent{
		OperationType: op,
		Paths:         paths,
		Timestamp:     time.Now(),
		ResumeToken:   token,
	})
}

// Close stops the stream and cancels the pending timer. Idempotent.
func (w *ChangeStreamWatcher) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	if w.cancel != nil {
		w.cancel()
	}
}
