package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkResults(ids ...string) []Result {
	out := make([]Result, len(ids))
	for i, id := range ids {
		out[i] = Result{ID: id, Text: "text-" + id, Score: 1 - float64(i)*0.1}
	}
	return out
}

func TestMergeRRF_IdempotentOnVectorOnly(t *testing.T) {
	// Given: a vector-only result list
	vector := mkResults("a", "b", "c")

	// When
	merged := MergeRRF(vector, nil, DefaultWeights())

	// Then: order preserved, scores normalised and descending
	require.Len(t, merged, 3)
	assert.Equal(t, "a", merged[0].ID)
	assert.Equal(t, "b", merged[1].ID)
	assert.Equal(t, "c", merged[2].ID)
	for i := 1; i < len(merged); i++ {
		assert.GreaterOrEqual(t, merged[i-1].Score, merged[i].Score)
	}
}

func TestMergeRRF_IdempotentOnTextOnly(t *testing.T) {
	text := mkResults("x", "y")

	merged := MergeRRF(nil, text, DefaultWeights())

	require.Len(t, merged, 2)
	assert.Equal(t, "x", merged[0].ID)
	assert.Equal(t, "y", merged[1].ID)
}

func TestMergeRRF_EmptyInputs(t *testing.T) {
	assert.Empty(t, MergeRRF(nil, nil, DefaultWeights()))
}

func TestMergeRRF_UnionPrefersTextSnippet(t *testing.T) {
	// Given: "b" appears in both lists with different snippets
	vector := []Result{
		{ID: "a", Text: "vec-a"},
		{ID: "b", Text: "vec-b"},
	}
	text := []Result{
		{ID: "b", Text: "text-b"},
		{ID: "c", Text: "text-c"},
	}

	// When
	merged := MergeRRF(vector, text, DefaultWeights())

	// Then: union of three, the shared item carries the text snippet and
	// ranks first (it accumulated both legs)
	require.Len(t, merged, 3)
	assert.Equal(t, "b", merged[0].ID)
	assert.Equal(t, "text-b", merged[0].Text)
}

func TestMergeRRF_WeightsShiftRanking(t *testing.T) {
	// Given: disjoint lists with one item each
	vector := []Result{{ID: "v", Text: "v"}}
	text := []Result{{ID: "t", Text: "t"}}

	// When: text dominates
	merged := MergeRRF(vector, text, Weights{Vector: 0.1, Text: 0.9})

	// Then
	require.Len(t, merged, 2)
	assert.Equal(t, "t", merged[0].ID)
}

func TestMergeRRF_ScoresInUnitRange(t *testing.T) {
	vector := mkResults("a", "b", "c", "d")
	text := mkResults("c", "d", "e", "f")

	for _, r := range MergeRRF(vector, text, DefaultWeights()) {
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
	}
}

func TestCapResults_Boundaries(t *testing.T) {
	results := []Result{
		{ID: "a", Score: 0.9},
		{ID: "b", Score: 0.5},
		{ID: "c", Score: 0.1},
	}

	t.Run("min score zero keeps all", func(t *testing.T) {
		out := capResults(append([]Result(nil), results...), Options{MaxResults: 10, MinScore: 0})
		assert.Len(t, out, 3)
	})

	t.Run("min score filters", func(t *testing.T) {
		out := capResults(append([]Result(nil), results...), Options{MaxResults: 10, MinScore: 0.4})
		require.Len(t, out, 2)
		assert.Equal(t, "a", out[0].ID)
	})

	t.Run("max results truncates", func(t *testing.T) {
		out := capResults(append([]Result(nil), results...), Options{MaxResults: 1})
		require.Len(t, out, 1)
		assert.Equal(t, "a", out[0].ID)
	})
}
