package search

import "math"

// finite maps non-finite inputs to the documented boundary values:
// NaN and -Inf become 0, +Inf becomes 1.
func finite(x float64) (float64, bool) {
	switch {
	case math.IsNaN(x), math.IsInf(x, -1):
		return 0, false
	case math.IsInf(x, 1):
		return 1, false
	}
	return x, true
}

// ClampUnit maps vector cosine scores into [0,1] by clamping.
func ClampUnit(x float64) float64 {
	x, ok := finite(x)
	if !ok {
		return x
	}
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// SigmoidNorm maps an unbounded non-negative score into [0,1) with
// x/(x+k). Order-preserving for x >= 0.
func SigmoidNorm(x, k float64) float64 {
	x, ok := finite(x)
	if !ok {
		return x
	}
	if x <= 0 {
		return 0
	}
	return x / (x + k)
}

// NormalizeRRF maps a raw reciprocal-rank score into [0,1] by multiplying
// by (k+1): a rank-1 hit in a single list becomes ~1.
func NormalizeRRF(x float64, k int) float64 {
	x, ok := finite(x)
	if !ok {
		return x
	}
	return ClampUnit(x * float64(k+1))
}
