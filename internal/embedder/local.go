package embedder

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// DefaultLocalDimensions matches the vector size of all-MiniLM-L6-v2 so
// indexes built locally have the same shape as sentence-transformer ones.
const DefaultLocalDimensions = 384

// LocalEmbedder is a deterministic feature-hashing embedder. Lowercased word
// unigrams and bigrams are hashed into a fixed number of signed buckets.
// It needs no network or model files, which makes it the offline fallback
// and the embedder used in tests.
type LocalEmbedder struct {
	dims int
}

// NewLocalEmbedder returns a LocalEmbedder producing dims-sized vectors.
func NewLocalEmbedder(dims int) *LocalEmbedder {
	if dims <= 0 {
		dims = DefaultLocalDimensions
	}
	return &LocalEmbedder{dims: dims}
}

// Dimensions returns the vector size.
func (e *LocalEmbedder) Dimensions() int { return e.dims }

// Embed hashes each text into a vector. Output is not normalised; wrap with
// Normalize for unit vectors.
func (e *LocalEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *LocalEmbedder) vector(text string) []float32 {
	vec := make([]float32, e.dims)
	tokens := tokenize(text)
	for i, tok := range tokens {
		e.add(vec, tok, 1)
		if i > 0 {
			e.add(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}
	return vec
}

// add hashes feature into vec. The low bit of a second hash picks the sign
// so collisions tend to cancel instead of accumulate.
func (e *LocalEmbedder) add(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(e.dims)) //nolint:gosec // dims is positive
	if (sum>>63)&1 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

// tokenize lowercases text and splits it on anything that is not a letter
// or digit.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
