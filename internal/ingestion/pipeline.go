// Package ingestion turns a collection of markdown documents into a searchable
// vector index. It loads documents, chunks and annotates them, embeds every
// chunk, and hands the result to a Backend for persistence. Cache wraps the
// pipeline with the build-once, restore-afterwards policy used by sessions,
// the `docrag index` command, and the HTTP API.
package ingestion

import (
	"context"
	"fmt"

	"github.com/54b3r/docrag-go/internal/chunker"
	"github.com/54b3r/docrag-go/internal/collection"
	"github.com/54b3r/docrag-go/internal/rag"
)

// Built is the output of one pipeline run.
type Built struct {
	// Chunks are the annotated chunks of every document, in document order.
	Chunks []rag.Chunk
	// Vectors holds one embedding per chunk.
	Vectors [][]float32
	// Documents is the number of source documents.
	Documents int
}

// Pipeline orchestrates the chunk → embed flow for a set of documents.
type Pipeline struct {
	// chunker splits documents into overlapping chunks.
	chunker *chunker.Chunker

	// embedder converts chunk text into dense vectors.
	embedder rag.Embedder
}

// NewPipeline constructs a Pipeline from the provided dependencies.
func NewPipeline(c *chunker.Chunker, embedder rag.Embedder) (*Pipeline, error) {
	if c == nil {
		return nil, fmt.Errorf("ingestion: chunker must not be nil")
	}
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	return &Pipeline{chunker: c, embedder: embedder}, nil
}

// Run chunks and embeds docs. Progress is reported via the optional progress
// callback.
func (p *Pipeline) Run(ctx context.Context, docs []collection.Document, progress func(msg string)) (*Built, error) {
	if progress == nil {
		progress = func(string) {}
	}

	var chunks []rag.Chunk
	for _, doc := range docs {
		split := p.chunker.Split(doc)
		Annotate(doc, split)
		chunks = append(chunks, split...)
	}
	progress(fmt.Sprintf("chunked %d documents into %d chunks", len(docs), len(chunks)))

	if len(chunks) == 0 {
		return &Built{Documents: len(docs)}, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	progress(fmt.Sprintf("embedding %d chunks", len(chunks)))
	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ingestion: embedding failed: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("ingestion: embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	return &Built{Chunks: chunks, Vectors: vectors, Documents: len(docs)}, nil
}
