package rag

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

// sliceSearcher returns the first n of a pre-ranked candidate list.
type sliceSearcher struct {
	cands []Candidate
	err   error
	// lastN records the n of the most recent Search call.
	lastN int
}

func (s *sliceSearcher) Search(_ context.Context, _ []float32, n int) ([]Candidate, error) {
	s.lastN = n
	if s.err != nil {
		return nil, s.err
	}
	if n > len(s.cands) {
		n = len(s.cands)
	}
	return s.cands[:n], nil
}

// fixedEmbedder returns the same vector for every input.
type fixedEmbedder struct {
	vec []float32
	err error
}

func (f *fixedEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

func cand(id string, score float32, vec ...float32) Candidate {
	return Candidate{Scored: Scored{Chunk: Chunk{ID: id}, Score: score}, Vector: vec}
}

func ids(res []Scored) string {
	parts := make([]string, len(res))
	for i, r := range res {
		parts[i] = r.Chunk.ID
	}
	return strings.Join(parts, ",")
}

// ---------------------------------------------------------------------------
// Cosine
// ---------------------------------------------------------------------------

func TestCosine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"unnormalised", []float32{3, 4}, []float32{6, 8}, 1},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Cosine(tc.a, tc.b)
			if math.Abs(float64(got-tc.want)) > 1e-6 {
				t.Errorf("Cosine = %v, want %v", got, tc.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Retrieve
// ---------------------------------------------------------------------------

func TestRetrieve_PlainReturnsTopK(t *testing.T) {
	t.Parallel()

	s := &sliceSearcher{cands: []Candidate{
		cand("a", 0.9), cand("b", 0.8), cand("c", 0.8), cand("d", 0.1),
	}}
	got, err := Retrieve(context.Background(), s, []float32{1}, Query{K: 3})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if ids(got) != "a,b,c" {
		t.Errorf("got %s, want a,b,c", ids(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Score > got[i-1].Score {
			t.Errorf("scores not non-increasing at %d: %v > %v", i, got[i].Score, got[i-1].Score)
		}
	}
	if s.lastN != 3 {
		t.Errorf("plain search should request k=3, requested %d", s.lastN)
	}
}

func TestRetrieve_MMRFetchesPool(t *testing.T) {
	t.Parallel()

	s := &sliceSearcher{cands: []Candidate{cand("a", 0.9, 1, 0), cand("b", 0.5, 0, 1)}}
	if _, err := Retrieve(context.Background(), s, []float32{1, 0}, Query{K: 1, FetchK: 20, Lambda: 0.7, MMR: true}); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if s.lastN != 20 {
		t.Errorf("MMR search should request fetch_k=20, requested %d", s.lastN)
	}
}

func TestRetrieve_FewerCandidatesThanK(t *testing.T) {
	t.Parallel()

	s := &sliceSearcher{cands: []Candidate{cand("only", 0.4, 1)}}
	got, err := Retrieve(context.Background(), s, []float32{1}, Query{K: 5, FetchK: 10, MMR: true, Lambda: 0.5})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("want 1 result, got %d", len(got))
	}
}

func TestRetrieve_Errors(t *testing.T) {
	t.Parallel()

	if _, err := Retrieve(context.Background(), &sliceSearcher{}, nil, Query{K: 0}); err == nil {
		t.Error("expected error for k=0")
	}

	boom := errors.New("boom")
	_, err := Retrieve(context.Background(), &sliceSearcher{err: boom}, nil, Query{K: 1})
	if !errors.Is(err, boom) {
		t.Errorf("expected searcher error to propagate, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// MMR
// ---------------------------------------------------------------------------

// Two near-duplicates at the top and one distinct document slightly lower.
func mmrPool() []Candidate {
	return []Candidate{
		cand("dup1", 0.95, 1, 0, 0),
		cand("dup2", 0.94, 0.99, 0.14, 0),
		cand("other", 0.80, 0, 1, 0),
	}
}

func TestMMR_LambdaOneIsPureRelevance(t *testing.T) {
	t.Parallel()

	if got := ids(MMR(mmrPool(), 2, 1.0)); got != "dup1,dup2" {
		t.Errorf("got %s, want dup1,dup2", got)
	}
}

func TestMMR_PrefersDiversity(t *testing.T) {
	t.Parallel()

	if got := ids(MMR(mmrPool(), 2, 0.7)); got != "dup1,other" {
		t.Errorf("got %s, want dup1,other", got)
	}
}

func TestMMR_LambdaZeroFirstPickIsBestRank(t *testing.T) {
	t.Parallel()

	got := MMR(mmrPool(), 1, 0)
	if ids(got) != "dup1" {
		t.Errorf("got %s, want dup1", ids(got))
	}
}

func TestMMR_TiesBrokenBySimilarityRank(t *testing.T) {
	t.Parallel()

	pool := []Candidate{
		cand("first", 0.5, 1, 0),
		cand("second", 0.5, 1, 0),
	}
	if got := ids(MMR(pool, 1, 0.7)); got != "first" {
		t.Errorf("got %s, want first", got)
	}
}

func TestMMR_NoDuplicatesAndBoundedK(t *testing.T) {
	t.Parallel()

	got := MMR(mmrPool(), 10, 0.5)
	if len(got) != 3 {
		t.Fatalf("want 3 results, got %d", len(got))
	}
	seen := map[string]bool{}
	for _, r := range got {
		if seen[r.Chunk.ID] {
			t.Errorf("duplicate %s", r.Chunk.ID)
		}
		seen[r.Chunk.ID] = true
	}
	if MMR(nil, 3, 0.5) != nil {
		t.Error("empty pool should yield nil")
	}
}

// ---------------------------------------------------------------------------
// DefaultRetriever
// ---------------------------------------------------------------------------

func TestNewRetriever_Validation(t *testing.T) {
	t.Parallel()

	if _, err := NewRetriever(nil, &sliceSearcher{}, Query{}); err == nil {
		t.Error("expected error for nil embedder")
	}
	if _, err := NewRetriever(&fixedEmbedder{}, nil, Query{}); err == nil {
		t.Error("expected error for nil searcher")
	}
	r, err := NewRetriever(&fixedEmbedder{}, &sliceSearcher{}, Query{})
	if err != nil {
		t.Fatalf("NewRetriever: %v", err)
	}
	if r.Query().K != 4 {
		t.Errorf("default k: got %d, want 4", r.Query().K)
	}
}

func TestDefaultRetriever_Retrieve(t *testing.T) {
	t.Parallel()

	s := &sliceSearcher{cands: mmrPool()}
	r, err := NewRetriever(&fixedEmbedder{vec: []float32{1, 0, 0}}, s, Query{K: 2, FetchK: 3, Lambda: 0.7, MMR: true})
	if err != nil {
		t.Fatalf("NewRetriever: %v", err)
	}
	got, err := r.Retrieve(context.Background(), "question")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if ids(got) != "dup1,other" {
		t.Errorf("got %s, want dup1,other", ids(got))
	}
}

func TestDefaultRetriever_EmbedError(t *testing.T) {
	t.Parallel()

	r, _ := NewRetriever(&fixedEmbedder{err: errors.New("down")}, &sliceSearcher{}, Query{K: 1})
	if _, err := r.Retrieve(context.Background(), "q"); err == nil || !strings.Contains(err.Error(), "embedding query failed") {
		t.Errorf("expected wrapped embed error, got %v", err)
	}
}

func TestPointID_Deterministic(t *testing.T) {
	t.Parallel()

	a := PointID("docs/a.md", 3)
	if a != PointID("docs/a.md", 3) {
		t.Error("PointID not deterministic")
	}
	if a == PointID("docs/a.md", 4) {
		t.Error("PointID collides across chunk indexes")
	}
}
