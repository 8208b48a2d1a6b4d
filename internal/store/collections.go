package store

import (
	"fmt"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

// Logical collection names; the configured prefix scopes them on the wire.
const (
	NameFiles          = "files"
	NameChunks         = "chunks"
	NameKBDocuments    = "kb_documents"
	NameKBChunks       = "kb_chunks"
	NameStructured     = "structured_memory"
	NameEmbeddingCache = "embedding_cache"
	NameMeta           = "meta"
)

// IDSeparator joins the parts of composite _id values.
const IDSeparator = ":"

// Collections bundles the typed collection handles for one database scope.
// The mongo client is owned by the memory manager; Collections holds it by
// reference and must not close it.
type Collections struct {
	Files          *mongo.Collection
	Chunks         *mongo.Collection
	KBDocuments    *mongo.Collection
	KBChunks       *mongo.Collection
	Structured     *mongo.Collection
	EmbeddingCache *mongo.Collection
	Meta           *mongo.Collection
}

// NewCollections resolves all collection handles under the given prefix.
func NewCollections(db *mongo.Database, prefix string) *Collections {
	name := func(logical string) string { return prefix + logical }
	return &Collections{
		Files:          db.Collection(name(NameFiles)),
		Chunks:         db.Collection(name(NameChunks)),
		KBDocuments:    db.Collection(name(NameKBDocuments)),
		KBChunks:       db.Collection(name(NameKBChunks)),
		Structured:     db.Collection(name(NameStructured)),
		EmbeddingCache: db.Collection(name(NameEmbeddingCache)),
		Meta:           db.Collection(name(NameMeta)),
	}
}

// ChunkID builds the composite chunk _id "path:startLine:endLine".
func ChunkID(path string, startLine, endLine int) string {
	return path + IDSeparator + strconv.Itoa(startLine) + IDSeparator + strconv.Itoa(endLine)
}

// ParseChunkID splits a composite chunk _id back into its parts. The path
// itself may contain the separator, so the line numbers are taken from the
// right.
func ParseChunkID(id string) (path string, startLine, endLine int, err error) {
	last := strings.LastIndex(id, IDSeparator)
	if last < 0 {
		return "", 0, 0, fmt.Errorf("malformed chunk id %q", id)
	}
	secondLast := strings.LastIndex(id[:last], IDSeparator)
	if secondLast < 0 {
		return "", 0, 0, fmt.Errorf("malformed chunk id %q", id)
	}

	endLine, err = strconv.Atoi(id[last+1:])
	if err != nil {
		return "", 0, 0, fmt.Errorf("malformed chunk id %q: %w", id, err)
	}
	startLine, err = strconv.Atoi(id[secondLast+1 : last])
	if err != nil {
		return "", 0, 0, fmt.Errorf("malformed chunk id %q: %w", id, err)
	}
	return id[:secondLast], startLine, endLine, nil
}

// StructuredID builds the composite structured-memory _id "type:key:agentId".
func StructuredID(typ, key, agentID string) string {
	return typ + IDSeparator + key + IDSeparator + agentID
}

// CacheID builds the embedding-cache _id "textHash:model".
func CacheID(textHash, model string) string {
	return textHash + IDSeparator + model
}
