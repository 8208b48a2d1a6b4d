package search

import "sort"

// fusedResult tracks one item while merging ranked lists.
type fusedResult struct {
	result   Result
	rrfScore float64
	vecRank  int // 1-indexed, 0 if absent
	textRank int // 1-indexed, 0 if absent
	inBoth   bool
}

// MergeRRF combines vector and text result lists with Reciprocal Rank
// Fusion: rrf(d) = Σ weight_i / (k + rank_i) over the lists containing d,
// k = RRFConstant. The union is taken; for items present in both lists the
// text snippet wins (it carries highlighted keyword context). The merged
// scores are normalised into [0,1].
//
// Single-source merges are idempotent: MergeRRF(v, nil, w) preserves v's
// order, likewise for text-only input.
func MergeRRF(vector, text []Result, weights Weights) []Result {
	if len(vector) == 0 && len(text) == 0 {
		return []Result{}
	}
	if weights.Vector <= 0 && weights.Text <= 0 {
		weights = DefaultWeights()
	}

	fused := make(map[string]*fusedResult, len(vector)+len(text))

	for rank, r := range vector {
		fused[r.ID] = &fusedResult{
			result:   r,
			rrfScore: weights.Vector / float64(RRFConstant+rank+1),
			vecRank:  rank + 1,
		}
	}

	for rank, r := range text {
		if existing, ok := fused[r.ID]; ok {
			// Prefer the text snippet; keep the vector leg's line range
			// only if text lacks one.
			if r.Text != "" {
				existing.result.Text = r.Text
			}
			existing.rrfScore += weights.Text / float64(RRFConstant+rank+1)
			existing.textRank = rank + 1
			existing.inBoth = true
			continue
		}
		fused[r.ID] = &fusedResult{
			result:   r,
			rrfScore: weights.Text / float64(RRFConstant+rank+1),
			textRank: rank + 1,
		}
	}

	merged := make([]*fusedResult, 0, len(fused))
	for _, f := range fused {
		merged = append(merged, f)
	}

	sort.Slice(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.rrfScore != b.rrfScore {
			return a.rrfScore > b.rrfScore
		}
		if a.inBoth != b.inBoth {
			return a.inBoth
		}
		if a.result.Score != b.result.Score {
			return a.result.Score > b.result.Score
		}
		return a.result.ID < b.result.ID
	})

	out := make([]Result, len(merged))
	for i, f := range merged {
		f.result.Score = NormalizeRRF(f.rrfScore, RRFConstant)
		out[i] = f.result
	}
	return out
}
