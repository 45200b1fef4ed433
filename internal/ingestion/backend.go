package ingestion

import (
	"context"
	"errors"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/docrag-go/internal/collection"
	"github.com/54b3r/docrag-go/internal/index"
	"github.com/54b3r/docrag-go/internal/rag"
)

// Backend persists and reopens the vector index of a collection.
type Backend interface {
	// Name identifies the backend in logs ("local", "qdrant").
	Name() string

	// Open returns the persisted index of name. found is false when nothing
	// has been persisted yet.
	Open(ctx context.Context, name string) (s rag.Searcher, meta index.Meta, found bool, err error)

	// Save persists chunks and vectors as the index of name, replacing any
	// previous index, and returns a searcher over it.
	Save(ctx context.Context, name string, chunks []rag.Chunk, vectors [][]float32, meta index.Meta) (rag.Searcher, index.Meta, error)

	// Drop deletes the persisted index of name.
	Drop(ctx context.Context, name string) error
}

// ---------------------------------------------------------------------------
// Local (gob file) backend
// ---------------------------------------------------------------------------

// LocalBackend stores each collection's index as a gob file under the
// collection's faiss_index directory.
type LocalBackend struct {
	layout collection.Layout
}

// NewLocalBackend returns a LocalBackend for layout.
func NewLocalBackend(layout collection.Layout) *LocalBackend {
	return &LocalBackend{layout: layout}
}

// Name implements Backend.
func (b *LocalBackend) Name() string { return "local" }

// Open implements Backend.
func (b *LocalBackend) Open(_ context.Context, name string) (rag.Searcher, index.Meta, bool, error) {
	ix, err := index.Restore(b.layout.IndexDir(name))
	if errors.Is(err, index.ErrIndexNotFound) {
		return nil, index.Meta{}, false, nil
	}
	if err != nil {
		return nil, index.Meta{}, false, err
	}
	return ix, ix.Meta(), true, nil
}

// Save implements Backend.
func (b *LocalBackend) Save(_ context.Context, name string, chunks []rag.Chunk, vectors [][]float32, meta index.Meta) (rag.Searcher, index.Meta, error) {
	ix, err := index.Build(chunks, vectors, meta)
	if err != nil {
		return nil, index.Meta{}, err
	}
	if err := ix.Persist(b.layout.IndexDir(name)); err != nil {
		return nil, index.Meta{}, err
	}
	return ix, ix.Meta(), nil
}

// Drop implements Backend.
func (b *LocalBackend) Drop(_ context.Context, name string) error {
	return index.Remove(b.layout.IndexDir(name))
}

// ---------------------------------------------------------------------------
// Qdrant backend
// ---------------------------------------------------------------------------

// upsertBatch bounds the points sent per Qdrant upsert request.
const upsertBatch = 256

// QdrantBackend stores each collection in a Qdrant collection named
// Prefix+name. Retrieval ranking (plain and MMR) still runs in-process.
type QdrantBackend struct {
	client *qdrant.Client
	base   rag.QdrantConfig
	prefix string
}

// NewQdrantBackend returns a backend sharing client. base supplies the
// connection settings recorded on each store; prefix namespaces collections.
func NewQdrantBackend(client *qdrant.Client, base rag.QdrantConfig, prefix string) *QdrantBackend {
	return &QdrantBackend{client: client, base: base, prefix: prefix}
}

// Name implements Backend.
func (b *QdrantBackend) Name() string { return "qdrant" }

// store returns the QdrantStore of name with the given vector size.
func (b *QdrantBackend) store(name string, dim int) *rag.QdrantStore {
	cfg := b.base
	cfg.Collection = b.prefix + name
	cfg.VectorSize = uint64(dim) //nolint:gosec // embedding dimensions are small positive ints
	return rag.NewQdrantStore(b.client, &cfg)
}

// Open implements Backend.
func (b *QdrantBackend) Open(ctx context.Context, name string) (rag.Searcher, index.Meta, bool, error) {
	s := b.store(name, 0)
	n, err := s.Count(ctx)
	if err != nil {
		return nil, index.Meta{}, false, err
	}
	if n == 0 {
		return nil, index.Meta{}, false, nil
	}
	return s, index.Meta{Collection: name}, true, nil
}

// Save implements Backend. The Qdrant collection is recreated so stale
// points from a previous build never survive a rebuild.
func (b *QdrantBackend) Save(ctx context.Context, name string, chunks []rag.Chunk, vectors [][]float32, meta index.Meta) (rag.Searcher, index.Meta, error) {
	if len(chunks) == 0 {
		return nil, index.Meta{}, index.ErrEmptyInput
	}
	if len(chunks) != len(vectors) {
		return nil, index.Meta{}, fmt.Errorf("ingestion: %d chunks but %d vectors", len(chunks), len(vectors))
	}

	s := b.store(name, len(vectors[0]))
	if err := s.DropCollection(ctx); err != nil {
		return nil, index.Meta{}, err
	}
	if err := s.EnsureCollection(ctx); err != nil {
		return nil, index.Meta{}, err
	}
	for start := 0; start < len(chunks); start += upsertBatch {
		end := min(start+upsertBatch, len(chunks))
		if err := s.Upsert(ctx, chunks[start:end], vectors[start:end]); err != nil {
			return nil, index.Meta{}, err
		}
	}

	meta.Dimension = len(vectors[0])
	return s, meta, nil
}

// Drop implements Backend.
func (b *QdrantBackend) Drop(ctx context.Context, name string) error {
	return b.store(name, 0).DropCollection(ctx)
}
