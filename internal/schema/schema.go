// Package schema provisions the memory subsystem's collections and indexes.
// Every operation is idempotent: running Ensure against an already
// provisioned database is a no-op.
package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/openclaw/mongomem/internal/config"
	"github.com/openclaw/mongomem/internal/store"
	"github.com/openclaw/mongomem/internal/topology"
)

// Index names referenced by the search dispatcher.
const (
	VectorIndexName   = "chunk_embedding_vector"
	KBVectorIndexName = "kb_chunk_embedding_vector"
	SearchIndexName   = "chunk_text_search"
	KBSearchIndexName = "kb_chunk_text_search"
	TextIndexName     = "chunk_text"
)

// Server error codes treated as "already provisioned".
const (
	codeNamespaceExists       = 48
	codeIndexOptionsConflict  = 85
	codeIndexKeySpecsConflict = 86
	codeIndexAlreadyExists    = 68
)

// Provisioner ensures the schema exists for one database scope.
type Provisioner struct {
	db     *mongo.Database
	cols   *store.Collections
	cfg    *config.Config
	topo   *topology.Topology
	logger *slog.Logger
}

// New creates a provisioner. topo gates search-index creation.
func New(db *mongo.Database, cols *store.Collections, cfg *config.Config, topo *topology.Topology, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{db: db, cols: cols, cfg: cfg, topo: topo, logger: logger}
}

// Ensure creates collections, standard indexes, text and vector search
// indexes, and TTL indexes. Safe to call on an already-provisioned database.
func (p *Provisioner) Ensure(ctx context.Context) error {
	if err := p.ensureCollections(ctx); err != nil {
		return err
	}
	if err := p.ensureStandardIndexes(ctx); err != nil {
		return err
	}
	if err := p.ensureTextIndexes(ctx); err != nil {
		return err
	}
	if err := p.ensureTTLIndexes(ctx); err != nil {
		return err
	}
	if p.topo != nil && p.topo.HasSearchEngine {
		// Search-engine indexes are a capability upgrade, not a requirement.
		if err := p.ensureSearchIndexes(ctx); err != nil {
			p.logger.Warn("search index provisioning failed, continuing without",
				slog.String("error", err.Error()))
		}
		if p.cfg.EmbeddingMode == config.EmbeddingManaged {
			if err := p.ensureVectorIndexes(ctx); err != nil {
				p.logger.Warn("vector index provisioning failed, continuing without",
					slog.String("error", err.Error()))
			}
		}
	}
	return nil
}

// ensureSearchIndexes creates the mongot full-text search indexes used by
// the fusion pipelines and the text leg of hybrid search.
func (p *Provisioner) ensureSearchIndexes(ctx context.Context) error {
	definition := bson.D{
		{Key: "mappings", Value: bson.D{
			{Key: "dynamic", Value: false},
			{Key: "fields", Value: bson.D{
				{Key: "text", Value: bson.D{{Key: "type", Value: "string"}}},
				{Key: "source", Value: bson.D{{Key: "type", Value: "token"}}},
			}},
		}},
	}

	targets := []struct {
		coll *mongo.Collection
		name string
	}{
		{p.cols.Chunks, SearchIndexName},
		{p.cols.KBChunks, KBSearchIndexName},
	}
	for _, t := range targets {
		model := mongo.SearchIndexModel{
			Definition: definition,
			Options:    options.SearchIndexes().SetName(t.name).SetType("search"),
		}
		if _, err := t.coll.SearchIndexes().CreateOne(ctx, model); err != nil && !isBenignSchemaError(err) {
			return fmt.Errorf("failed to create search index %s: %w", t.name, err)
		}
	}
	return nil
}

func (p *Provisioner) ensureCollections(ctx context.Context) error {
	names := []string{
		p.cols.Files.Name(),
		p.cols.Chunks.Name(),
		p.cols.KBDocuments.Name(),
		p.cols.KBChunks.Name(),
		p.cols.Structured.Name(),
		p.cols.EmbeddingCache.Name(),
		p.cols.Meta.Name(),
	}
	for _, name := range names {
		if err := p.db.CreateCollection(ctx, name); err != nil && !isBenignSchemaError(err) {
			return fmt.Errorf("failed to create collection %s: %w", name, err)
		}
	}
	return nil
}

func (p *Provisioner) ensureStandardIndexes(ctx context.Context) error {
	type spec struct {
		coll  *mongo.Collection
		model mongo.IndexModel
	}
	specs := []spec{
		{p.cols.Chunks, mongo.IndexModel{
			Keys:    bson.D{{Key: "path", Value: 1}},
			Options: options.Index().SetName("chunk_path"),
		}},
		{p.cols.Chunks, mongo.IndexModel{
			Keys:    bson.D{{Key: "source", Value: 1}, {Key: "updatedAt", Value: -1}},
			Options: options.Index().SetName("chunk_source_updated"),
		}},
		{p.cols.KBChunks, mongo.IndexModel{
			Keys:    bson.D{{Key: "docId", Value: 1}},
			Options: options.Index().SetName("kb_chunk_doc"),
		}},
		{p.cols.KBDocuments, mongo.IndexModel{
			Keys:    bson.D{{Key: "hash", Value: 1}},
			Options: options.Index().SetName("kb_doc_hash"),
		}},
		{p.cols.KBDocuments, mongo.IndexModel{
			Keys:    bson.D{{Key: "updatedAt", Value: -1}},
			Options: options.Index().SetName("kb_doc_updated"),
		}},
		{p.cols.Structured, mongo.IndexModel{
			Keys:    bson.D{{Key: "type", Value: 1}, {Key: "key", Value: 1}, {Key: "agentId", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("structured_type_key_agent"),
		}},
	}
	for _, s := range specs {
		if _, err := s.coll.Indexes().CreateOne(ctx, s.model); err != nil && !isBenignSchemaError(err) {
			return fmt.Errorf("failed to create index on %s: %w", s.coll.Name(), err)
		}
	}
	return nil
}

// ensureTextIndexes creates the standard $text index used as the keyword
// fallback on deployments without mongot.
func (p *Provisioner) ensureTextIndexes(ctx context.Context) error {
	for _, coll := range []*mongo.Collection{p.cols.Chunks, p.cols.KBChunks} {
		model := mongo.IndexModel{
			Keys:    bson.D{{Key: "text", Value: "text"}},
			Options: options.Index().SetName(TextIndexName),
		}
		if _, err := coll.Indexes().CreateOne(ctx, model); err != nil && !isBenignSchemaError(err) {
			return fmt.Errorf("failed to create text index on %s: %w", coll.Name(), err)
		}
	}

	// Structured memory participates in search through the keyword path.
	structuredModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "key", Value: "text"},
			{Key: "value", Value: "text"},
			{Key: "context", Value: "text"},
		},
		Options: options.Index().SetName("structured_text"),
	}
	if _, err := p.cols.Structured.Indexes().CreateOne(ctx, structuredModel); err != nil && !isBenignSchemaError(err) {
		return fmt.Errorf("failed to create text index on %s: %w", p.cols.Structured.Name(), err)
	}
	return nil
}

func (p *Provisioner) ensureTTLIndexes(ctx context.Context) error {
	if days := p.cfg.EmbeddingCacheTTLDays; days > 0 {
		model := mongo.IndexModel{
			Keys: bson.D{{Key: "createdAt", Value: 1}},
			Options: options.Index().
				SetName("embedding_cache_ttl").
				SetExpireAfterSeconds(int32(time.Duration(days) * 24 * time.Hour / time.Second)),
		}
		if _, err := p.cols.EmbeddingCache.Indexes().CreateOne(ctx, model); err != nil && !isBenignSchemaError(err) {
			return fmt.Errorf("failed to create embedding cache TTL index: %w", err)
		}
	}

	// Memory TTL is opt-in; 0 disables it. Expired files rows are swept up
	// by the next sync's stale-cleanup phase, which also removes orphaned
	// chunks.
	if days := p.cfg.MemoryTTLDays; days > 0 {
		model := mongo.IndexModel{
			Keys: bson.D{{Key: "updatedAt", Value: 1}},
			Options: options.Index().
				SetName("files_ttl").
				SetExpireAfterSeconds(int32(time.Duration(days) * 24 * time.Hour / time.Second)),
		}
		if _, err := p.cols.Files.Indexes().CreateOne(ctx, model); err != nil && !isBenignSchemaError(err) {
			return fmt.Errorf("failed to create files TTL index: %w", err)
		}
	}
	return nil
}

// ensureVectorIndexes creates the mongot vector indexes for managed
// embedding mode. Dimensions come from configuration and must match the
// provider's output width.
func (p *Provisioner) ensureVectorIndexes(ctx context.Context) error {
	definition := bson.D{
		{Key: "fields", Value: bson.A{
			bson.D{
				{Key: "type", Value: "vector"},
				{Key: "path", Value: "embedding"},
				{Key: "numDimensions", Value: p.cfg.NumDimensions},
				{Key: "similarity", Value: "cosine"},
			},
			bson.D{{Key: "type", Value: "filter"}, {Key: "path", Value: "source"}},
		}},
	}

	targets := []struct {
		coll *mongo.Collection
		name string
	}{
		{p.cols.Chunks, VectorIndexName},
		{p.cols.KBChunks, KBVectorIndexName},
	}
	for _, t := range targets {
		model := mongo.SearchIndexModel{
			Definition: definition,
			Options:    options.SearchIndexes().SetName(t.name).SetType("vectorSearch"),
		}
		if _, err := t.coll.SearchIndexes().CreateOne(ctx, model); err != nil && !isBenignSchemaError(err) {
			return fmt.Errorf("failed to create vector index %s: %w", t.name, err)
		}
	}
	return nil
}

// isBenignSchemaError reports whether err means the object already exists.
func isBenignSchemaError(err error) bool {
	if err == nil {
		return false
	}
	var se mongo.ServerError
	if errors.As(err, &se) {
		return se.HasErrorCode(codeNamespaceExists) ||
			se.HasErrorCode(codeIndexOptionsConflict) ||
			se.HasErrorCode(codeIndexKeySpecsConflict) ||
			se.HasErrorCode(codeIndexAlreadyExists) ||
			se.HasErrorMessage("already exists")
	}
	return false
}
