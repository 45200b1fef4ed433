package rag

import (
	"context"
	"fmt"
)

// DefaultRetriever combines an Embedder and a Searcher: it embeds the
// question at retrieval time and ranks the search results per its Query.
type DefaultRetriever struct {
	// embedder converts question text to a dense vector.
	embedder Embedder

	// searcher performs the vector similarity search.
	searcher Searcher

	// query holds the default retrieval parameters.
	query Query
}

// NewRetriever constructs a DefaultRetriever. q.K defaults to 4 when unset.
func NewRetriever(embedder Embedder, searcher Searcher, q Query) (*DefaultRetriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if searcher == nil {
		return nil, fmt.Errorf("rag: searcher must not be nil")
	}
	if q.K <= 0 {
		q.K = 4
	}
	return &DefaultRetriever{embedder: embedder, searcher: searcher, query: q}, nil
}

// Query returns the retrieval parameters used by Retrieve.
func (r *DefaultRetriever) Query() Query { return r.query }

// Retrieve returns the chunks most relevant to question using the default
// parameters.
func (r *DefaultRetriever) Retrieve(ctx context.Context, question string) ([]Scored, error) {
	return r.RetrieveWith(ctx, question, r.query)
}

// RetrieveWith is Retrieve with explicit parameters.
func (r *DefaultRetriever) RetrieveWith(ctx context.Context, question string, q Query) ([]Scored, error) {
	embeddings, err := r.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query failed: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("rag: embedder returned empty result for query")
	}

	results, err := Retrieve(ctx, r.searcher, embeddings[0], q)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search failed: %w", err)
	}
	return results, nil
}
