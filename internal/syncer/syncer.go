// Package syncer keeps the files and chunks collections synchronized with
// the workspace on disk. A sync runs three ordered phases: workspace memory
// files, session transcripts, then stale cleanup. Per-file writes are
// transactional when the deployment supports it and degrade gracefully when
// it does not.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"golang.org/x/sync/singleflight"

	"github.com/openclaw/mongomem/internal/chunk"
	"github.com/openclaw/mongomem/internal/config"
	"github.com/openclaw/mongomem/internal/embed"
	"github.com/openclaw/mongomem/internal/store"
	"github.com/openclaw/mongomem/internal/topology"
)

// Options configures one sync run.
type Options struct {
	// Reason is recorded in logs and the sync result ("initial", "watch",
	// "manual", "change-stream").
	Reason string
	// Force re-indexes every file regardless of hash.
	Force bool
}

// Result summarises a completed sync.
type Result struct {
	Reason        string
	FilesScanned  int
	FilesIndexed  int
	ChunksWritten int
	FilesDeleted  int64
	ChunksDeleted int64
	Warnings      []string
	Duration      time.Duration
}

// Engine walks the workspace, diffs by content hash against stored
// metadata, and re-indexes what changed. Only one sync runs at a time.
// Calls arriving before the current run starts scanning coalesce onto it;
// a call arriving while a run is scanning gets a fresh run afterwards, so
// a change made mid-run is never skipped.
type Engine struct {
	deps   Deps
	logger *slog.Logger

	group singleflight.Group
	runMu sync.Mutex

	mu          sync.Mutex
	gen         uint64
	runningGen  uint64
	txnDisabled bool

	runFn func(context.Context, Options) (*Result, error)
}

// Deps carries the engine's collaborators. Embedder may be nil when
// embedding mode is automated (the database embeds at query time).
type Deps struct {
	Writer   *Writer
	Cols     *store.Collections
	Cfg      *config.Config
	Embedder embed.Embedder
	Features topology.Features
}

// New creates a sync engine.
func New(deps Deps, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{deps: deps, logger: logger}
	e.runFn = e.run
	return e
}

// Sync runs the three phases. Each call picks a generation: callers whose
// changes predate the current run's scan share its generation and await
// its result; a call made while a run is already scanning advances the
// generation and executes a fresh run once the scanning one finishes.
func (e *Engine) Sync(ctx context.Context, opts Options) (*Result, error) {
	e.mu.Lock()
	if e.runningGen == e.gen {
		e.gen++
	}
	key := e.gen
	e.mu.Unlock()

	v, err, _ := e.group.Do(strconv.FormatUint(key, 10), func() (interface{}, error) {
		e.runMu.Lock()
		defer e.runMu.Unlock()

		e.mu.Lock()
		e.runningGen = key
		e.mu.Unlock()
		return e.runFn(ctx, opts)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

func (e *Engine) run(ctx context.Context, opts Options) (*Result, error) {
	start := time.Now()
	result := &Result{Reason: opts.Reason}

	e.logger.Info("sync starting",
		slog.String("reason", opts.Reason),
		slog.Bool("force", opts.Force))

	valid := make(map[string]struct{})

	// Phase A: workspace memory files.
	memoryFiles, err := EnumerateMemoryFiles(e.deps.Cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate memory files: %w", err)
	}
	if err := e.syncPhase(ctx, memoryFiles, store.SourceMemory, opts, result, valid); err != nil {
		return nil, err
	}

	// Phase B: session transcripts.
	sessionFiles, err := EnumerateSessionFiles(e.deps.Cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate session files: %w", err)
	}
	if err := e.syncPhase(ctx, sessionFiles, store.SourceSessions, opts, result, valid); err != nil {
		return nil, err
	}
	if err := e.sweepSessionChunks(ctx, sessionFiles, result); err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("session chunk sweep failed: %v", err))
	}

	// Phase C: stale cleanup. Chunks go first so no chunk ever outlives
	// its files row.
	chunksDeleted, filesDeleted, err := e.deps.Writer.DeleteStale(ctx, valid)
	if err != nil {
		return nil, fmt.Errorf("stale cleanup failed: %w", err)
	}
	result.ChunksDeleted = chunksDeleted
	result.FilesDeleted = filesDeleted

	e.recordSyncTime(ctx)

	result.Duration = time.Since(start)
	e.logger.Info("sync complete",
		slog.String("reason", opts.Reason),
		slog.Int("files_scanned", result.FilesScanned),
		slog.Int("files_indexed", result.FilesIndexed),
		slog.Int("chunks_written", result.ChunksWritten),
		slog.Int64("chunks_deleted", result.ChunksDeleted),
		slog.Duration("duration", result.Duration))
	return result, nil
}

// syncPhase indexes one enumerated file set.
func (e *Engine) syncPhase(ctx context.Context, files []FileEntry, source store.Source, opts Options, result *Result, valid map[string]struct{}) error {
	// Load stored metadata once per phase; per-file lookups would turn the
	// diff into N round-trips.
	stored, err := e.loadStoredFiles(ctx, source)
	if err != nil {
		return err
	}

	for _, entry := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		result.FilesScanned++
		valid[entry.RelPath] = struct{}{}

		hash, err := chunk.HashFile(entry.AbsPath)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("failed to hash %s: %v", entry.RelPath, err))
			continue
		}

		prev, known := stored[entry.RelPath]
		if !opts.Force && known && prev.Hash == hash {
			continue
		}

		written, err := e.indexFile(ctx, entry, source, hash, result)
		if err != nil {
			return fmt.Errorf("failed to index %s: %w", entry.RelPath, err)
		}
		result.FilesIndexed++
		result.ChunksWritten += written
	}
	return nil
}

// indexFile reads, chunks, embeds, and persists one file atomically.
func (e *Engine) indexFile(ctx context.Context, entry FileEntry, source store.Source, hash string, result *Result) (int, error) {
	content, err := os.ReadFile(entry.AbsPath)
	if err != nil {
		return 0, fmt.Errorf("failed to read file: %w", err)
	}

	chunks := chunk.Markdown(string(content), chunk.Options{
		Tokens:  chunk.DefaultMaxChunkTokens,
		Overlap: chunk.DefaultOverlapTokens,
	})

	// Embedding happens before the write so the transaction window stays
	// short. Provider exhaustion is not fatal: chunks persist without
	// vectors, marked failed.
	var vectors [][]float32
	status := store.EmbeddingPending
	model := ""
	if e.deps.Cfg.EmbeddingMode == config.EmbeddingManaged && e.deps.Embedder != nil && len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		vectors, err = e.deps.Embedder.EmbedBatch(ctx, texts)
		if err != nil {
			vectors = nil
			status = store.EmbeddingFailed
			result.Warnings = append(result.Warnings, fmt.Sprintf("embedding failed for %s: %v", entry.RelPath, err))
			e.logger.Warn("embedding failed, indexing without vectors",
				slog.String("path", entry.RelPath),
				slog.String("error", err.Error()))
		} else {
			status = store.EmbeddingSuccess
			model = e.deps.Embedder.ModelName()
		}
	}

	now := time.Now()
	chunkDocs := make([]store.ChunkDoc, len(chunks))
	for i, c := range chunks {
		doc := store.ChunkDoc{
			ID:             store.ChunkID(entry.RelPath, c.StartLine, c.EndLine),
			Path:           entry.RelPath,
			Source:         source,
			StartLine:      c.StartLine,
			EndLine:        c.EndLine,
			Text:           c.Snippet(),
			Hash:           c.Hash,
			EmbeddingState: status,
			EmbeddingModel: model,
			UpdatedAt:      now,
		}
		if vectors != nil {
			doc.Embedding = vectors[i]
		}
		chunkDocs[i] = doc
	}

	fileDoc := store.FileDoc{
		Path:      entry.RelPath,
		Source:    source,
		Hash:      hash,
		ModTime:   entry.ModTime,
		SizeBytes: entry.Size,
		UpdatedAt: now,
	}

	if err := e.writeFile(ctx, fileDoc, chunkDocs); err != nil {
		return 0, err
	}
	return len(chunkDocs), nil
}

// writeFile persists one file's rows, transactionally when possible. The
// first transaction rejection (standalone pretending otherwise) disables
// transactions for the life of the engine.
func (e *Engine) writeFile(ctx context.Context, file store.FileDoc, chunks []store.ChunkDoc) error {
	e.mu.Lock()
	useTxn := e.deps.Features.Transactions && !e.txnDisabled
	e.mu.Unlock()

	if !useTxn {
		return e.deps.Writer.WriteFile(ctx, file, chunks)
	}

	err := e.deps.Writer.WriteFileTxn(ctx, file, chunks)
	if err == nil {
		return nil
	}
	if !isTxnUnsupported(err) {
		return err
	}

	e.mu.Lock()
	first := !e.txnDisabled
	e.txnDisabled = true
	e.mu.Unlock()
	if first {
		e.logger.Warn("server rejected transactions, degrading to non-transactional writes",
			slog.String("error", err.Error()))
	}
	return e.deps.Writer.WriteFile(ctx, file, chunks)
}

// sweepSessionChunks enforces the per-session chunk cap, evicting the
// oldest chunks (lowest line ranges: transcripts append at the bottom).
func (e *Engine) sweepSessionChunks(ctx context.Context, files []FileEntry, result *Result) error {
	cap := e.deps.Cfg.MaxSessionChunks
	if cap <= 0 {
		return nil
	}
	for _, entry := range files {
		deleted, err := e.deps.Writer.TrimChunks(ctx, entry.RelPath, cap)
		if err != nil {
			return err
		}
		result.ChunksDeleted += deleted
	}
	return nil
}

func (e *Engine) loadStoredFiles(ctx context.Context, source store.Source) (map[string]store.FileDoc, error) {
	cursor, err := e.deps.Cols.Files.Find(ctx, bson.D{{Key: "source", Value: source}})
	if err != nil {
		return nil, fmt.Errorf("failed to load stored file metadata: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	stored := make(map[string]store.FileDoc)
	for cursor.Next(ctx) {
		var doc store.FileDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode file metadata: %w", err)
		}
		stored[doc.Path] = doc
	}
	return stored, cursor.Err()
}

func (e *Engine) recordSyncTime(ctx context.Context) {
	// Best-effort; the meta row is advisory.
	_ = e.deps.Writer.TouchMeta(ctx, time.Now())
}

// TxnDisabled reports whether the engine has degraded to non-transactional
// writes.
func (e *Engine) TxnDisabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.txnDisabled
}
