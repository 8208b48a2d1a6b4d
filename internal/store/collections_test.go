package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkID_RoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		start int
		end   int
	}{
		{"simple path", "MEMORY.md", 1, 40},
		{"nested path", "memory/decisions.md", 12, 90},
		{"path containing separator", "notes:draft.md", 5, 9},
		{"uuid doc id", "3f0b8a2e-1c44-4f6d-9a7e-0d1c2b3a4f5e", 1, 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := ChunkID(tt.path, tt.start, tt.end)

			path, start, end, err := ParseChunkID(id)
			require.NoError(t, err)
			assert.Equal(t, tt.path, path)
			assert.Equal(t, tt.start, start)
			assert.Equal(t, tt.end, end)
		})
	}
}

func TestParseChunkID_Malformed(t *testing.T) {
	for _, id := range []string{"", "noseparator", "only:one", "path:a:b"} {
		t.Run(id, func(t *testing.T) {
			_, _, _, err := ParseChunkID(id)
			assert.Error(t, err)
		})
	}
}

func TestStructuredID(t *testing.T) {
	assert.Equal(t, "decision:db-choice:agent-1", StructuredID("decision", "db-choice", "agent-1"))
}

func TestCacheID(t *testing.T) {
	assert.Equal(t, "abc123:mxbai-embed-large", CacheID("abc123", "mxbai-embed-large"))
}
