package rag

import (
	"context"
	"fmt"
	"math"
)

// Retrieve runs q against s. Plain queries return the K nearest chunks;
// MMR queries fetch FetchK candidates and re-rank them with MMR.
func Retrieve(ctx context.Context, s Searcher, query []float32, q Query) ([]Scored, error) {
	if q.K <= 0 {
		return nil, fmt.Errorf("rag: k must be positive, got %d", q.K)
	}

	n := q.K
	if q.MMR && q.FetchK > n {
		n = q.FetchK
	}

	cands, err := s.Search(ctx, query, n)
	if err != nil {
		return nil, err
	}

	if !q.MMR {
		out := make([]Scored, 0, min(q.K, len(cands)))
		for i := 0; i < len(cands) && i < q.K; i++ {
			out = append(out, cands[i].Scored)
		}
		return out, nil
	}

	return MMR(cands, q.K, q.Lambda), nil
}

// MMR greedily selects k candidates maximising
//
//	lambda*sim(query, d) - (1-lambda)*max(sim(d, s) for s in selected)
//
// cands must be ordered by non-increasing query similarity; ties in the MMR
// objective resolve to the candidate with the better similarity rank.
func MMR(cands []Candidate, k int, lambda float64) []Scored {
	if k > len(cands) {
		k = len(cands)
	}
	if k <= 0 {
		return nil
	}

	lambda = math.Max(0, math.Min(1, lambda))

	picked := make([]bool, len(cands))
	// maxSim[i] tracks max similarity between candidate i and the selection.
	maxSim := make([]float64, len(cands))
	out := make([]Scored, 0, k)

	for len(out) < k {
		best := -1
		bestVal := math.Inf(-1)
		for i, c := range cands {
			if picked[i] {
				continue
			}
			redundancy := 0.0
			if len(out) > 0 {
				redundancy = maxSim[i]
			}
			val := lambda*float64(c.Score) - (1-lambda)*redundancy
			if val > bestVal {
				best, bestVal = i, val
			}
		}

		picked[best] = true
		out = append(out, cands[best].Scored)

		for i, c := range cands {
			if picked[i] {
				continue
			}
			sim := float64(Cosine(c.Vector, cands[best].Vector))
			if len(out) == 1 || sim > maxSim[i] {
				maxSim[i] = sim
			}
		}
	}

	return out
}

// Cosine returns the cosine similarity of a and b, or 0 when either vector
// is empty, zero, or the lengths differ.
func Cosine(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
