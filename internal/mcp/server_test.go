package mcp

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/mongomem/internal/memerr"
	"github.com/openclaw/mongomem/internal/search"
	"github.com/openclaw/mongomem/internal/store"
)

func TestNewServer_RequiresManager(t *testing.T) {
	s, err := NewServer(nil, nil)
	require.Error(t, err)
	assert.Nil(t, s)
}

func TestToResultOutputs(t *testing.T) {
	results := []search.Result{
		{
			Path:      "memory/decisions.md",
			Source:    store.SourceMemory,
			StartLine: 10,
			EndLine:   42,
			Text:      "chose mongodb",
			Score:     0.91,
		},
		{
			Path:   "structured/fact/deploy-day",
			Source: store.SourceStructured,
			Text:   "deploys happen on tuesdays",
			Score:  0.4,
		},
	}

	out := toResultOutputs(results)

	require.Len(t, out, 2)
	assert.Equal(t, "memory/decisions.md", out[0].Path)
	assert.Equal(t, "memory", out[0].Source)
	assert.Equal(t, 10, out[0].StartLine)
	assert.Equal(t, 42, out[0].EndLine)
	assert.Equal(t, 0.91, out[0].Score)
	assert.Equal(t, "structured", out[1].Source)
	assert.Zero(t, out[1].StartLine)
}

func TestToResultOutputs_EmptyStaysNonNil(t *testing.T) {
	out := toResultOutputs(nil)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestToolError(t *testing.T) {
	t.Run("plain error passes through", func(t *testing.T) {
		err := errors.New("boom")
		assert.Equal(t, err, toolError(err))
	})

	t.Run("remediation hint appended", func(t *testing.T) {
		inner := memerr.New(memerr.KindConnection, "search", errors.New("server selection timeout")).
			WithRemediation("run mongomem setup")
		err := toolError(inner)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "run mongomem setup")
		assert.True(t, errors.Is(err, inner))
	})

	t.Run("classified error without hint passes through", func(t *testing.T) {
		inner := memerr.New(memerr.KindIntegrity, "write", errors.New("bad input"))
		assert.Equal(t, error(inner), toolError(inner))
	})
}
