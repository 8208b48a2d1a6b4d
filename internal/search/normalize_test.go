package search

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClampUnit(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"in range", 0.42, 0.42},
		{"negative clamps to zero", -0.3, 0},
		{"above one clamps", 1.7, 1},
		{"nan becomes zero", math.NaN(), 0},
		{"negative infinity becomes zero", math.Inf(-1), 0},
		{"positive infinity becomes one", math.Inf(1), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClampUnit(tt.in))
		})
	}
}

func TestSigmoidNorm_OrderPreserving(t *testing.T) {
	// Given: ascending raw BM25-like scores
	raw := []float64{0, 0.5, 1, 3, 8, 40, 1000}

	// When/Then: normalised values never decrease and stay in [0,1)
	prev := -1.0
	for _, x := range raw {
		n := SigmoidNorm(x, 5)
		assert.GreaterOrEqual(t, n, prev)
		assert.GreaterOrEqual(t, n, 0.0)
		assert.Less(t, n, 1.0)
		prev = n
	}
}

func TestSigmoidNorm_NonFinite(t *testing.T) {
	assert.Equal(t, 0.0, SigmoidNorm(math.NaN(), 5))
	assert.Equal(t, 1.0, SigmoidNorm(math.Inf(1), 5))
	assert.Equal(t, 0.0, SigmoidNorm(math.Inf(-1), 5))
	assert.Equal(t, 0.0, SigmoidNorm(-2, 5))
}

func TestNormalizeRRF(t *testing.T) {
	// A rank-1 single-list hit: 1/(k+1) raw, normalises to ~1.
	raw := 1.0 / float64(RRFConstant+1)
	assert.InDelta(t, 1.0, NormalizeRRF(raw, RRFConstant), 1e-9)

	// Deep ranks normalise below 1 and stay non-negative.
	deep := 1.0 / float64(RRFConstant+100)
	n := NormalizeRRF(deep, RRFConstant)
	assert.Greater(t, n, 0.0)
	assert.Less(t, n, 1.0)

	assert.Equal(t, 0.0, NormalizeRRF(math.NaN(), RRFConstant))
	assert.Equal(t, 1.0, NormalizeRRF(math.Inf(1), RRFConstant))
}
