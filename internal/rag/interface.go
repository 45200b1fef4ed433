// Package rag defines the retrieval types shared by every docrag index
// backend: chunks, scored results, the Embedder and Searcher contracts, and
// the relevance/MMR ranking applied on top of any Searcher.
package rag

import (
	"context"
)

// Chunk is a contiguous slice of one source document, the unit that is
// embedded, indexed and placed into prompts.
type Chunk struct {
	// ID is a stable identifier derived from Source and Index.
	ID string

	// Source is the path of the document the chunk was cut from.
	Source string

	// Content is the chunk text.
	Content string

	// Index is the position of the chunk within its document (0-based).
	Index int

	// Start is the byte offset of Content within the document.
	Start int

	// Metadata holds derived labels (file name, title, heading).
	Metadata map[string]string
}

// Scored is a chunk returned by retrieval with its cosine similarity to the
// query.
type Scored struct {
	Chunk
	Score float32
}

// Candidate is a search hit that still carries its stored vector so that
// callers can re-rank it (MMR) without another round trip.
type Candidate struct {
	Scored
	Vector []float32
}

// Query configures a retrieval call.
type Query struct {
	// K is the number of results to return.
	K int
	// FetchK is the size of the candidate pool MMR selects from.
	// Ignored when MMR is false. Values below K are raised to K.
	FetchK int
	// Lambda weights relevance (1.0) against diversity (0.0) for MMR.
	Lambda float64
	// MMR selects maximal-marginal-relevance re-ranking.
	MMR bool
}

// Embedder converts text into dense vectors.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Searcher returns the n stored chunks nearest to a query vector.
// Results are ordered by non-increasing score; equal scores keep insertion
// order. Implementations must be safe to call from multiple goroutines.
type Searcher interface {
	Search(ctx context.Context, query []float32, n int) ([]Candidate, error)
}
