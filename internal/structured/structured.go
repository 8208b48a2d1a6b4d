// Package structured stores typed observations the agent writes about its
// work: decisions, preferences, facts, todos. Rows are keyed by
// (type, key, agentId); a repeated write replaces the row in place.
package structured

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/openclaw/mongomem/internal/memerr"
	"github.com/openclaw/mongomem/internal/search"
	"github.com/openclaw/mongomem/internal/store"
)

// DefaultConfidence applies when a write omits confidence.
const DefaultConfidence = 0.8

// ValidTypes enumerates the accepted observation types.
var ValidTypes = map[string]bool{
	"decision":     true,
	"preference":   true,
	"person":       true,
	"todo":         true,
	"fact":         true,
	"project":      true,
	"architecture": true,
	"custom":       true,
}

// WriteInput is one observation to persist.
type WriteInput struct {
	Type       string
	Key        string
	Value      string
	Context    string
	Confidence *float64
	Tags       []string
	Origin     string // agent, user, system
	AgentID    string
}

// WriteResult reports the outcome of a write.
type WriteResult struct {
	Upserted bool // true when a new row was created
	ID       string
}

// Store wraps the structured_memory collection.
type Store struct {
	cols   *store.Collections
	logger *slog.Logger
}

// New creates a store.
func New(cols *store.Collections, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{cols: cols, logger: logger}
}

// Write upserts an observation by (type, key, agentId). Invalid types and
// out-of-range confidence are rejected without mutating state.
func (s *Store) Write(ctx context.Context, in WriteInput) (*WriteResult, error) {
	if !ValidTypes[in.Type] {
		return nil, memerr.New(memerr.KindIntegrity, "structured write",
			fmt.Errorf("unknown memory type %q", in.Type))
	}
	if in.Key == "" || in.Value == "" {
		return nil, memerr.New(memerr.KindIntegrity, "structured write",
			fmt.Errorf("key and value are required"))
	}

	confidence := DefaultConfidence
	if in.Confidence != nil {
		confidence = *in.Confidence
		if confidence < 0 || confidence > 1 {
			return nil, memerr.New(memerr.KindIntegrity, "structured write",
				fmt.Errorf("confidence %v outside [0,1]", confidence))
		}
	}

	origin := in.Origin
	if origin == "" {
		origin = "agent"
	}

	id := store.StructuredID(in.Type, in.Key, in.AgentID)
	now := time.Now()

	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "type", Value: in.Type},
			{Key: "key", Value: in.Key},
			{Key: "agentId", Value: in.AgentID},
			{Key: "value", Value: in.Value},
			{Key: "context", Value: in.Context},
			{Key: "confidence", Value: confidence},
			{Key: "origin", Value: origin},
			{Key: "tags", Value: in.Tags},
			{Key: "updatedAt", Value: now},
		}},
		{Key: "$setOnInsert", Value: bson.D{
			{Key: "createdAt", Value: now},
		}},
	}

	res, err := s.cols.Structured.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}},
		update,
		options.UpdateOne().SetUpsert(true))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert structured memory: %w", err)
	}

	return &WriteResult{Upserted: res.UpsertedCount > 0, ID: id}, nil
}

// Search runs a keyword query over structured memory and maps hits into
// the shared result shape with source "structured". Scores land in the
// same [0,1] range as chunk results so cross-source merging is fair.
func (s *Store) Search(ctx context.Context, query, agentID string, maxResults int) ([]search.Result, error) {
	if maxResults <= 0 {
		return []search.Result{}, nil
	}

	filter := bson.D{
		{Key: "$text", Value: bson.D{{Key: "$search", Value: query}}},
		{Key: "agentId", Value: agentID},
	}
	cursor, err := s.cols.Structured.Find(ctx, filter,
		options.Find().
			SetProjection(bson.D{{Key: "score", Value: bson.D{{Key: "$meta", Value: "textScore"}}}}).
			SetSort(bson.D{{Key: "score", Value: bson.D{{Key: "$meta", Value: "textScore"}}}}).
			SetLimit(int64(maxResults)))
	if err != nil {
		return nil, fmt.Errorf("structured search failed: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var results []search.Result
	for cursor.Next(ctx) {
		var row struct {
			store.StructuredDoc `bson:",inline"`
			Score               float64 `bson:"score"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, err
		}
		text := row.Value
		if row.Context != "" {
			text = row.Value + "\n" + row.Context
		}
		results = append(results, search.Result{
			ID:        row.ID,
			Path:      "structured/" + row.Type + "/" + row.Key,
			Source:    store.SourceStructured,
			Text:      text,
			Hash:      row.ID,
			UpdatedAt: row.UpdatedAt,
			Score:     search.SigmoidNorm(row.Score, 2) * row.Confidence,
		})
	}
	return results, cursor.Err()
}
