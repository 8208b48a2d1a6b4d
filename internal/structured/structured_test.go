package structured

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/mongomem/internal/memerr"
)

func floatPtr(f float64) *float64 { return &f }

func TestWrite_RejectsInvalidInput(t *testing.T) {
	// Validation happens before any collection access, so a bare store
	// is enough for the rejection paths.
	s := &Store{}

	tests := []struct {
		name string
		in   WriteInput
	}{
		{"unknown type", WriteInput{Type: "opinion", Key: "k", Value: "v"}},
		{"empty type", WriteInput{Key: "k", Value: "v"}},
		{"missing key", WriteInput{Type: "decision", Value: "v"}},
		{"missing value", WriteInput{Type: "decision", Key: "k"}},
		{"confidence below zero", WriteInput{Type: "fact", Key: "k", Value: "v", Confidence: floatPtr(-0.1)}},
		{"confidence above one", WriteInput{Type: "fact", Key: "k", Value: "v", Confidence: floatPtr(1.5)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.Write(context.Background(), tt.in)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.Equal(t, memerr.KindIntegrity, memerr.KindOf(err))
		})
	}
}

func TestValidTypes_AcceptedSet(t *testing.T) {
	for _, typ := range []string{"decision", "preference", "person", "todo", "fact", "project", "architecture", "custom"} {
		assert.True(t, ValidTypes[typ], typ)
	}
	assert.False(t, ValidTypes["note"])
}

func TestSearch_ZeroMaxResultsShortCircuits(t *testing.T) {
	s := &Store{}
	results, err := s.Search(context.Background(), "anything", "default", 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}
