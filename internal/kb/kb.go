// Package kb ingests reference documents into the knowledge base and
// serves KB-scoped search. Ingest is hash-idempotent: re-ingesting an
// unchanged document is a no-op unless forced.
package kb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/openclaw/mongomem/internal/chunk"
	"github.com/openclaw/mongomem/internal/config"
	"github.com/openclaw/mongomem/internal/embed"
	"github.com/openclaw/mongomem/internal/memerr"
	"github.com/openclaw/mongomem/internal/search"
	"github.com/openclaw/mongomem/internal/store"
)

// Document is one candidate for ingestion.
type Document struct {
	Title      string
	Content    string
	SourceType string // file, url, manual, api
	SourceRef  string // path or URL
	ImportedBy string
	Tags       []string
	Category   string
}

// IngestOptions tunes one ingest batch.
type IngestOptions struct {
	// Force replaces documents even when the content hash matches.
	Force bool
	// Progress, when set, receives {completed, total, label} during the batch.
	Progress func(completed, total int, label string)
}

// IngestResult summarises an ingest batch.
type IngestResult struct {
	DocumentsProcessed int
	ChunksCreated      int
	Skipped            int
	Errors             []string
}

// Stats describes the KB's contents.
type Stats struct {
	Documents     int64
	Chunks        int64
	Categories    []string
	SourcesByType map[string]int64
}

// ListFilter narrows ListDocuments.
type ListFilter struct {
	Category string
	Tags     []string
}

// Pipeline is the KB ingest + search pipeline.
type Pipeline struct {
	cols       *store.Collections
	cfg        *config.Config
	embedder   embed.Embedder // nil in automated mode
	dispatcher *search.Dispatcher
	logger     *slog.Logger
}

// New creates a pipeline. dispatcher must be scoped to the kb_chunks
// collection.
func New(cols *store.Collections, cfg *config.Config, embedder embed.Embedder, dispatcher *search.Dispatcher, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{cols: cols, cfg: cfg, embedder: embedder, dispatcher: dispatcher, logger: logger}
}

// Ingest processes docs in order. Oversize documents and per-document
// failures are recorded in Errors without aborting the batch.
func (p *Pipeline) Ingest(ctx context.Context, docs []Document, opts IngestOptions) (*IngestResult, error) {
	result := &IngestResult{}

	for i, doc := range docs {
		if opts.Progress != nil {
			opts.Progress(i, len(docs), doc.Title)
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		created, err := p.ingestOne(ctx, doc, opts.Force)
		switch {
		case err != nil:
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", doc.Title, err))
		case created < 0:
			result.Skipped++
		default:
			result.DocumentsProcessed++
			result.ChunksCreated += created
		}
	}

	if opts.Progress != nil {
		opts.Progress(len(docs), len(docs), "done")
	}
	return result, nil
}

// ingestOne returns the number of chunks created, or -1 when the document
// was skipped as a hash duplicate.
func (p *Pipeline) ingestOne(ctx context.Context, doc Document, force bool) (int, error) {
	if len(doc.Content) > p.cfg.KB.MaxDocumentSize {
		return 0, memerr.New(memerr.KindIntegrity, "kb ingest",
			fmt.Errorf("document exceeds maximum size (%d > %d bytes)", len(doc.Content), p.cfg.KB.MaxDocumentSize))
	}

	hash := chunk.HashText(doc.Content)

	var existing store.KBDocumentDoc
	err := p.cols.KBDocuments.FindOne(ctx, bson.D{{Key: "hash", Value: hash}}).Decode(&existing)
	switch {
	case err == nil && !force:
		return -1, nil
	case err == nil:
		if err := p.Remove(ctx, existing.ID); err != nil {
			return 0, fmt.Errorf("failed to replace existing document: %w", err)
		}
	case !errors.Is(err, mongo.ErrNoDocuments):
		return 0, fmt.Errorf("failed to check for duplicate: %w", err)
	}

	// A changed document with the same source ref also replaces its
	// predecessor; otherwise edits would accumulate stale copies.
	if doc.SourceRef != "" {
		if err := p.removeBySourceRef(ctx, doc.SourceRef); err != nil {
			return 0, err
		}
	}

	chunks := chunk.Markdown(doc.Content, chunk.Options{
		Tokens:  p.cfg.KB.Chunking.Tokens,
		Overlap: p.cfg.KB.Chunking.Overlap,
	})

	var vectors [][]float32
	status := store.EmbeddingPending
	model := ""
	if p.cfg.EmbeddingMode == config.EmbeddingManaged && p.embedder != nil && len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		vectors, err = p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			vectors = nil
			status = store.EmbeddingFailed
			p.logger.Warn("KB embedding failed, storing chunks without vectors",
				slog.String("title", doc.Title),
				slog.String("error", err.Error()))
		} else {
			status = store.EmbeddingSuccess
			model = p.embedder.ModelName()
		}
	}

	now := time.Now()
	docID := uuid.NewString()

	docRow := store.KBDocumentDoc{
		ID:         docID,
		Title:      doc.Title,
		Content:    doc.Content,
		SourceType: doc.SourceType,
		SourceRef:  doc.SourceRef,
		ImportedBy: doc.ImportedBy,
		Tags:       doc.Tags,
		Category:   doc.Category,
		Hash:       hash,
		ChunkCount: len(chunks),
		UpdatedAt:  now,
	}
	if _, err := p.cols.KBDocuments.InsertOne(ctx, docRow); err != nil {
		return 0, fmt.Errorf("failed to insert document: %w", err)
	}

	if len(chunks) > 0 {
		models := make([]mongo.WriteModel, len(chunks))
		for i, c := range chunks {
			row := store.KBChunkDoc{
				ID:             store.ChunkID(docID, c.StartLine, c.EndLine),
				DocID:          docID,
				Path:           doc.SourceRef,
				Source:         store.SourceKB,
				StartLine:      c.StartLine,
				EndLine:        c.EndLine,
				Text:           c.Snippet(),
				Hash:           c.Hash,
				EmbeddingState: status,
				EmbeddingModel: model,
				UpdatedAt:      now,
			}
			if vectors != nil {
				row.Embedding = vectors[i]
			}
			models[i] = mongo.NewReplaceOneModel().
				SetFilter(bson.D{{Key: "_id", Value: row.ID}}).
				SetReplacement(row).
				SetUpsert(true)
		}
		if _, err := p.cols.KBChunks.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
			return 0, fmt.Errorf("failed to upsert chunks: %w", err)
		}
	}

	return len(chunks), nil
}

func (p *Pipeline) removeBySourceRef(ctx context.Context, sourceRef string) error {
	cursor, err := p.cols.KBDocuments.Find(ctx,
		bson.D{{Key: "sourceRef", Value: sourceRef}},
		options.Find().SetProjection(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return fmt.Errorf("failed to look up prior imports: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	for cursor.Next(ctx) {
		var row struct {
			ID string `bson:"_id"`
		}
		if err := cursor.Decode(&row); err != nil {
			return err
		}
		if err := p.Remove(ctx, row.ID); err != nil {
			return err
		}
	}
	return cursor.Err()
}

// Search runs a KB-scoped query through the shared dispatcher.
func (p *Pipeline) Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error) {
	return p.dispatcher.Search(ctx, query, opts)
}

// ListDocuments returns documents matching filter, newest first. Content
// is omitted from the listing.
func (p *Pipeline) ListDocuments(ctx context.Context, filter ListFilter) ([]store.KBDocumentDoc, error) {
	query := bson.D{}
	if filter.Category != "" {
		query = append(query, bson.E{Key: "category", Value: filter.Category})
	}
	if len(filter.Tags) > 0 {
		query = append(query, bson.E{Key: "tags", Value: bson.D{{Key: "$all", Value: filter.Tags}}})
	}

	cursor, err := p.cols.KBDocuments.Find(ctx, query,
		options.Find().
			SetSort(bson.D{{Key: "updatedAt", Value: -1}}).
			SetProjection(bson.D{{Key: "content", Value: 0}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []store.KBDocumentDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode documents: %w", err)
	}
	return docs, nil
}

// Remove deletes a document and its chunks. Chunks go first so no chunk
// ever references a missing document.
func (p *Pipeline) Remove(ctx context.Context, id string) error {
	if _, err := p.cols.KBChunks.DeleteMany(ctx, bson.D{{Key: "docId", Value: id}}); err != nil {
		return fmt.Errorf("failed to delete chunks for %s: %w", id, err)
	}
	if _, err := p.cols.KBDocuments.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}}); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	return nil
}

// GetStats aggregates KB counts by category and source type.
func (p *Pipeline) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{SourcesByType: make(map[string]int64)}

	var err error
	stats.Documents, err = p.cols.KBDocuments.CountDocuments(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	stats.Chunks, err = p.cols.KBChunks.CountDocuments(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}

	cursor, err := p.cols.KBDocuments.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{
				{Key: "category", Value: "$category"},
				{Key: "sourceType", Value: "$sourceType"},
			}},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate stats: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	seenCategories := make(map[string]struct{})
	for cursor.Next(ctx) {
		var row struct {
			ID struct {
				Category   string `bson:"category"`
				SourceType string `bson:"sourceType"`
			} `bson:"_id"`
			Count int64 `bson:"count"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, err
		}
		if row.ID.Category != "" {
			if _, ok := seenCategories[row.ID.Category]; !ok {
				seenCategories[row.ID.Category] = struct{}{}
				stats.Categories = append(stats.Categories, row.ID.Category)
			}
		}
		if row.ID.SourceType != "" {
			stats.SourcesByType[row.ID.SourceType] += row.Count
		}
	}
	return stats, cursor.Err()
}
