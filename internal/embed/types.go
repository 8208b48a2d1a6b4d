// Package embed generates vector embeddings for chunk text via an external
// OpenAI-compatible provider, with bounded retry and a two-layer cache
// (in-process LRU in front of the embedding_cache collection).
package embed

import (
	"context"
	"time"
)

// Common embedding constants.
const (
	// MinBatchSize is the minimum allowed batch size.
	MinBatchSize = 1

	// MaxBatchSize caps batch sizes to prevent oversized provider requests.
	MaxBatchSize = 256

	// DefaultBatchSize is the default batch size for embedding requests.
	DefaultBatchSize = 32

	// DefaultTimeout is the per-request timeout for provider calls.
	DefaultTimeout = 60 * time.Second

	// DefaultDimensions is the default embedding width.
	DefaultDimensions = 1024

	// DefaultMaxRetries is the bounded retry limit for provider calls.
	DefaultMaxRetries = 3
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one call.
	// The result has one vector per input, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding width this embedder produces.
	Dimensions() int

	// ModelName returns the provider model identifier.
	ModelName() string

	// Close releases provider resources.
	Close() error
}
