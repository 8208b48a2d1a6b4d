// Package store defines the MongoDB document shapes and collection handles
// shared by the sync engine, the search dispatcher, and the KB pipeline.
package store

import (
	"time"
)

// Source identifies where indexed content came from.
type Source string

const (
	SourceMemory     Source = "memory"
	SourceSessions   Source = "sessions"
	SourceKB         Source = "kb"
	SourceStructured Source = "structured"
)

// EmbeddingStatus tracks per-chunk embedding generation.
type EmbeddingStatus string

const (
	EmbeddingSuccess EmbeddingStatus = "success"
	EmbeddingFailed  EmbeddingStatus = "failed"
	EmbeddingPending EmbeddingStatus = "pending"
)

// FileDoc is one indexed workspace or session file.
// _id is the workspace-relative path.
type FileDoc struct {
	Path      string    `bson:"_id"`
	Source    Source    `bson:"source"`
	Hash      string    `bson:"hash"`
	ModTime   time.Time `bson:"mtime"`
	SizeBytes int64     `bson:"size"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

// ChunkDoc is one searchable slice of a file.
// _id is the composite "path:startLine:endLine".
type ChunkDoc struct {
	ID             string          `bson:"_id"`
	Path           string          `bson:"path"`
	Source         Source          `bson:"source"`
	StartLine      int             `bson:"startLine"`
	EndLine        int             `bson:"endLine"`
	Text           string          `bson:"text"`
	Hash           string          `bson:"hash"`
	Embedding      []float32       `bson:"embedding,omitempty"`
	EmbeddingState EmbeddingStatus `bson:"embeddingStatus"`
	EmbeddingModel string          `bson:"embeddingModel,omitempty"`
	UpdatedAt      time.Time       `bson:"updatedAt"`
}

// KBDocumentDoc is one ingested knowledge-base document.
// _id is a random UUID.
type KBDocumentDoc struct {
	ID         string    `bson:"_id"`
	Title      string    `bson:"title"`
	Content    string    `bson:"content"`
	SourceType string    `bson:"sourceType"` // file, url, manual, api
	SourceRef  string    `bson:"sourceRef"`  // path or URL
	ImportedBy string    `bson:"importedBy"`
	Tags       []string  `bson:"tags,omitempty"`
	Category   string    `bson:"category,omitempty"`
	Hash       string    `bson:"hash"`
	ChunkCount int       `bson:"chunkCount"`
	UpdatedAt  time.Time `bson:"updatedAt"`
}

// KBChunkDoc mirrors ChunkDoc for KB content, keyed by doc id.
// _id is the composite "docId:startLine:endLine".
type KBChunkDoc struct {
	ID             string          `bson:"_id"`
	DocID          string          `bson:"docId"`
	Path           string          `bson:"path"` // source ref, for display
	Source         Source          `bson:"source"`
	StartLine      int             `bson:"startLine"`
	EndLine        int             `bson:"endLine"`
	Text           string          `bson:"text"`
	Hash           string          `bson:"hash"`
	Embedding      []float32       `bson:"embedding,omitempty"`
	EmbeddingState EmbeddingStatus `bson:"embeddingStatus"`
	EmbeddingModel string          `bson:"embeddingModel,omitempty"`
	UpdatedAt      time.Time       `bson:"updatedAt"`
}

// StructuredDoc is one typed observation.
// _id is the composite "type:key:agentId".
type StructuredDoc struct {
	ID         string    `bson:"_id"`
	Type       string    `bson:"type"`
	Key        string    `bson:"key"`
	AgentID    string    `bson:"agentId"`
	Value      string    `bson:"value"`
	Context    string    `bson:"context,omitempty"`
	Confidence float64   `bson:"confidence"`
	Origin     string    `bson:"origin"` // agent, user, system
	Tags       []string  `bson:"tags,omitempty"`
	CreatedAt  time.Time `bson:"createdAt"`
	UpdatedAt  time.Time `bson:"updatedAt"`
}

// EmbeddingCacheDoc caches one embedding by text hash and model.
// _id is "hash:model".
type EmbeddingCacheDoc struct {
	ID        string    `bson:"_id"`
	Embedding []float32 `bson:"embedding"`
	Model     string    `bson:"model"`
	CreatedAt time.Time `bson:"createdAt"`
}

// MetaDoc is the per-agent singleton carrying the capability cache and
// change-stream resume state.
type MetaDoc struct {
	ID           string    `bson:"_id"` // agent id
	Capabilities []string  `bson:"capabilities,omitempty"`
	LastSyncAt   time.Time `bson:"lastSyncAt,omitempty"`
	ResumeToken  []byte    `bson:"resumeToken,omitempty"`
}
