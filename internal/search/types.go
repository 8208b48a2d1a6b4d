// Package search implements the capability-adaptive hybrid search
// dispatcher. Depending on what the deployment supports, a query runs as a
// single server-side $scoreFusion or $rankFusion pipeline, as parallel
// vector and text pipelines merged client-side with Reciprocal Rank Fusion,
// as a single-leg search, or as a plain $text query. Strategies are tried
// in order; a failing tier logs once and falls through to the next.
package search

import (
	"time"

	"github.com/openclaw/mongomem/internal/store"
)

// Session-key sentinels restricting results by source.
const (
	SessionKeyMemory   = "__memory__"
	SessionKeySessions = "__sessions__"
)

// RRFConstant is the reciprocal-rank smoothing parameter. k=60 is the
// industry standard (Azure AI Search, OpenSearch) and matches the
// server-side $rankFusion default, so client and server merges rank alike.
const RRFConstant = 60

// textScoreSigmoidK shapes the sigmoid x/(x+k) used to map unbounded
// BM25-like text scores into [0,1].
const textScoreSigmoidK = 5.0

// Options configures one dispatch.
type Options struct {
	// MaxResults caps the result list. 0 returns nothing without querying.
	MaxResults int

	// MinScore drops results scoring below it (after normalisation).
	MinScore float64

	// SessionKey optionally restricts by source via the sentinel values,
	// or carries a chat-routing key the caller parses for citations.
	SessionKey string

	// QueryVector is the embedded query. Required for the vector leg in
	// managed embedding mode; ignored in automated mode.
	QueryVector []float32
}

// Result is one search hit, scores normalised into [0,1].
type Result struct {
	ID        string       `bson:"_id"`
	Path      string       `bson:"path"`
	DocID     string       `bson:"docId,omitempty"`
	Source    store.Source `bson:"source"`
	StartLine int          `bson:"startLine"`
	EndLine   int          `bson:"endLine"`
	Text      string       `bson:"text"`
	Hash      string       `bson:"hash"`
	UpdatedAt time.Time    `bson:"updatedAt"`
	Score     float64      `bson:"score"`
}

// Weights tunes the vector/text balance in hybrid strategies.
type Weights struct {
	Vector float64
	Text   float64
}

// DefaultWeights returns the default hybrid balance.
func DefaultWeights() Weights {
	return Weights{Vector: 0.7, Text: 0.3}
}
