package embedder

import (
	"context"
	"fmt"
	"math"

	"github.com/54b3r/docrag-go/internal/rag"
)

// DefaultBatchSize is the number of texts sent per upstream request.
const DefaultBatchSize = 32

// normalizing scales every vector from inner to unit length.
type normalizing struct {
	inner rag.Embedder
}

// Normalize wraps e so that every returned vector has L2 norm 1.
// Zero vectors are returned unchanged.
func Normalize(e rag.Embedder) rag.Embedder {
	if _, ok := e.(normalizing); ok {
		return e
	}
	return normalizing{inner: e}
}

func (n normalizing) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := n.inner.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	for _, v := range vecs {
		L2Normalize(v)
	}
	return vecs, nil
}

// L2Normalize scales v in place to unit length.
func L2Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

// batched splits large inputs into sequential requests of at most size texts.
type batched struct {
	inner rag.Embedder
	size  int
}

// Batched wraps e so that at most size texts are sent per call.
func Batched(e rag.Embedder, size int) rag.Embedder {
	if size <= 0 {
		size = DefaultBatchSize
	}
	return batched{inner: e, size: size}
}

func (b batched) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += b.size {
		end := min(start+b.size, len(texts))
		vecs, err := b.inner.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedder: batch %d-%d: %w", start, end, err)
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("embedder: batch %d-%d returned %d vectors", start, end, len(vecs))
		}
		out = append(out, vecs...)
	}
	return out, nil
}
