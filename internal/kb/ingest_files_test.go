package kb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadDocument(t *testing.T) {
	// Given
	dir := t.TempDir()
	path := filepath.Join(dir, "refund-policy.md")
	require.NoError(t, os.WriteFile(path, []byte("# Refunds\n\nWithin 30 days."), 0o644))

	opts := FileIngestOptions{
		Tags:       []string{"policy", "support"},
		Category:   "handbook",
		ImportedBy: "cli",
	}

	// When
	doc, err := readDocument(path, opts)
	require.NoError(t, err)

	// Then: title from the basename without extension, provenance recorded
	assert.Equal(t, "refund-policy", doc.Title)
	assert.Equal(t, "# Refunds\n\nWithin 30 days.", doc.Content)
	assert.Equal(t, "file", doc.SourceType)
	assert.Equal(t, path, doc.SourceRef)
	assert.Equal(t, "cli", doc.ImportedBy)
	assert.Equal(t, []string{"policy", "support"}, doc.Tags)
	assert.Equal(t, "handbook", doc.Category)
}

func TestReadDocument_MissingFile(t *testing.T) {
	_, err := readDocument(filepath.Join(t.TempDir(), "absent.md"), FileIngestOptions{})
	assert.Error(t, err)
}

func TestAcceptedExtensions(t *testing.T) {
	assert.True(t, acceptedExtensions[".md"])
	assert.True(t, acceptedExtensions[".txt"])
	assert.False(t, acceptedExtensions[".pdf"])
	assert.False(t, acceptedExtensions[".go"])
}
