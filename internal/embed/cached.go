package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/openclaw/mongomem/internal/chunk"
	"github.com/openclaw/mongomem/internal/store"
)

// DefaultLRUSize is the in-process cache capacity (vectors, not bytes).
const DefaultLRUSize = 4096

// CachedEmbedder wraps an Embedder with a two-layer cache: an in-process
// LRU for the hot path and the embedding_cache collection for persistence
// across processes. Cache writes are best-effort; a cache failure never
// fails the embedding call.
type CachedEmbedder struct {
	inner  Embedder
	lru    *lru.Cache[string, []float32]
	coll   *mongo.Collection
	logger *slog.Logger
}

var _ Embedder = (*CachedEmbedder)(nil)

// NewCachedEmbedder wraps inner with caching. coll may be nil to disable
// the persistent layer (used by tests and the builtin backend).
func NewCachedEmbedder(inner Embedder, coll *mongo.Collection, logger *slog.Logger) (*CachedEmbedder, error) {
	if inner == nil {
		return nil, fmt.Errorf("inner embedder is required")
	}
	cache, err := lru.New[string, []float32](DefaultLRUSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedEmbedder{inner: inner, lru: cache, coll: coll, logger: logger}, nil
}

// Embed returns a cached vector when available, otherwise delegates.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch resolves cached texts from the LRU and the cache collection,
// then calls the inner embedder for the remainder in one batch.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	var missKeys []string

	keys := make([]string, len(texts))
	for i, text := range texts {
		keys[i] = store.CacheID(chunk.HashText(text), c.inner.ModelName())
		if v, ok := c.lru.Get(keys[i]); ok {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
		missKeys = append(missKeys, keys[i])
	}

	// Second layer: one find for all remaining keys.
	if c.coll != nil && len(missKeys) > 0 {
		found := c.lookupPersistent(ctx, missKeys)
		var stillIdx []int
		var stillTexts, stillKeys []string
		for j, i := range missIdx {
			if v, ok := found[missKeys[j]]; ok {
				out[i] = v
				c.lru.Add(missKeys[j], v)
				continue
			}
			stillIdx = append(stillIdx, i)
			stillTexts = append(stillTexts, missTexts[j])
			stillKeys = append(stillKeys, missKeys[j])
		}
		missIdx, missTexts, missKeys = stillIdx, stillTexts, stillKeys
	}

	if len(missTexts) > 0 {
		vectors, err := c.inner.EmbedBatch(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		for j, i := range missIdx {
			out[i] = vectors[j]
			c.lru.Add(missKeys[j], vectors[j])
		}
		c.storePersistent(ctx, missKeys, vectors)
	}

	return out, nil
}

func (c *CachedEmbedder) lookupPersistent(ctx context.Context, keys []string) map[string][]float32 {
	found := make(map[string][]float32, len(keys))
	cursor, err := c.coll.Find(ctx, bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: keys}}}})
	if err != nil {
		c.logger.Debug("embedding cache lookup failed", slog.String("error", err.Error()))
		return found
	}
	defer func() { _ = cursor.Close(ctx) }()

	for cursor.Next(ctx) {
		var doc store.EmbeddingCacheDoc
		if err := cursor.Decode(&doc); err != nil {
			continue
		}
		found[doc.ID] = doc.Embedding
	}
	return found
}

func (c *CachedEmbedder) storePersistent(ctx context.Context, keys []string, vectors [][]float32) {
	if c.coll == nil || len(keys) == 0 {
		return
	}
	now := time.Now()
	models := make([]mongo.WriteModel, 0, len(keys))
	for i, key := range keys {
		doc := store.EmbeddingCacheDoc{
			ID:        key,
			Embedding: vectors[i],
			Model:     c.inner.ModelName(),
			CreatedAt: now,
		}
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.D{{Key: "_id", Value: key}}).
			SetReplacement(doc).
			SetUpsert(true))
	}
	if _, err := c.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
		// Duplicate keys can race with another process warming the cache.
		if !errors.Is(err, context.Canceled) {
			c.logger.Debug("embedding cache write failed", slog.String("error", err.Error()))
		}
	}
}

// Dimensions returns the inner embedder's width.
func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

// ModelName returns the inner embedder's model identifier.
func (c *CachedEmbedder) ModelName() string { return c.inner.ModelName() }

// Close closes the inner embedder. The cache collection belongs to the
// manager and is left open.
func (c *CachedEmbedder) Close() error {
	c.lru.Purge()
	return c.inner.Close()
}
