// Package index implements the on-disk vector index of a collection: an
// exact (flat) cosine index that is built once, persisted atomically with
// encoding/gob, and restored on later loads.
package index

import (
	"bufio"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/54b3r/docrag-go/internal/rag"
)

// FileName is the index file inside an index directory.
const FileName = "index.gob"

// formatVersion is bumped whenever the persisted layout changes.
const formatVersion = 1

var (
	// ErrEmptyInput is returned when building from zero chunks.
	ErrEmptyInput = errors.New("index: no chunks to index")
	// ErrCorruptIndex is returned when a persisted index cannot be decoded or
	// is internally inconsistent.
	ErrCorruptIndex = errors.New("index: corrupt index")
	// ErrIndexNotFound is returned when no persisted index exists.
	ErrIndexNotFound = errors.New("index: not found")
)

// Meta describes how an index was built.
type Meta struct {
	// Collection is the collection name.
	Collection string
	// EmbedderProvider and EmbedderModel identify the embedder.
	EmbedderProvider string
	EmbedderModel    string
	// Dimension is the vector length.
	Dimension int
	// Documents is the number of source documents.
	Documents int
	// BuiltAt is the build time (UTC).
	BuiltAt time.Time
}

// Index is an immutable flat vector index. Safe for concurrent reads.
type Index struct {
	meta    Meta
	chunks  []rag.Chunk
	vectors [][]float32
}

// persisted is the gob payload.
type persisted struct {
	Version int
	Meta    Meta
	Chunks  []rag.Chunk
	Vectors [][]float32
}

// Build creates an index over chunks. vectors[i] is the embedding of chunks[i].
// meta.Dimension is filled from the vectors.
func Build(chunks []rag.Chunk, vectors [][]float32, meta Meta) (*Index, error) {
	if len(chunks) == 0 {
		return nil, ErrEmptyInput
	}
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("index: %d chunks but %d vectors", len(chunks), len(vectors))
	}
	dim := len(vectors[0])
	if dim == 0 {
		return nil, fmt.Errorf("index: zero-length vectors")
	}
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("index: vector %d has dimension %d, want %d", i, len(v), dim)
		}
	}

	meta.Dimension = dim
	if meta.BuiltAt.IsZero() {
		meta.BuiltAt = time.Now().UTC()
	}
	return &Index{meta: meta, chunks: chunks, vectors: vectors}, nil
}

// Meta returns the build metadata.
func (ix *Index) Meta() Meta { return ix.meta }

// Len returns the number of indexed chunks.
func (ix *Index) Len() int { return len(ix.chunks) }

// Search scores every chunk against query and returns the n best, ordered by
// non-increasing score with ties kept in insertion order.
func (ix *Index) Search(ctx context.Context, query []float32, n int) ([]rag.Candidate, error) {
	if len(query) != ix.meta.Dimension {
		return nil, fmt.Errorf("index: query dimension %d, index dimension %d", len(query), ix.meta.Dimension)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cands := make([]rag.Candidate, len(ix.chunks))
	for i := range ix.chunks {
		cands[i] = rag.Candidate{
			Scored: rag.Scored{Chunk: ix.chunks[i], Score: rag.Cosine(query, ix.vectors[i])},
			Vector: ix.vectors[i],
		}
	}
	sort.SliceStable(cands, func(a, b int) bool { return cands[a].Score > cands[b].Score })

	if n < len(cands) {
		cands = cands[:n]
	}
	return cands, nil
}

// Path returns the index file inside dir.
func Path(dir string) string { return filepath.Join(dir, FileName) }

// Exists reports whether a persisted index file is present in dir.
func Exists(dir string) bool {
	info, err := os.Stat(Path(dir))
	return err == nil && info.Mode().IsRegular()
}

// Persist writes the index to dir. The file is written to a temporary name,
// synced, and renamed into place, so a crash leaves either the previous index
// or the new one, never a partial file.
func (ix *Index) Persist(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("index: create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, FileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("index: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // no-op after a successful rename

	bw := bufio.NewWriter(tmp)
	payload := persisted{Version: formatVersion, Meta: ix.meta, Chunks: ix.chunks, Vectors: ix.vectors}
	if err := gob.NewEncoder(bw).Encode(&payload); err != nil {
		tmp.Close()
		return fmt.Errorf("index: encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("index: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("index: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("index: close: %w", err)
	}
	if err := os.Rename(tmpName, Path(dir)); err != nil {
		return fmt.Errorf("index: rename into place: %w", err)
	}
	return syncDir(dir)
}

// syncDir flushes the directory entry so a completed rename survives a crash.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("index: open %s: %w", dir, err)
	}
	defer d.Close()
	if runtime.GOOS == "windows" {
		// Directory handles cannot be synced there.
		return nil
	}
	if err := d.Sync(); err != nil {
		return fmt.Errorf("index: sync %s: %w", dir, err)
	}
	return nil
}

// Restore loads the index persisted in dir.
func Restore(dir string) (*Index, error) {
	f, err := os.Open(Path(dir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, dir)
	}
	if err != nil {
		return nil, fmt.Errorf("index: open %s: %w", dir, err)
	}
	defer f.Close()

	var p persisted
	if err := gob.NewDecoder(bufio.NewReader(f)).Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrCorruptIndex, Path(dir), err)
	}
	if p.Version != formatVersion {
		return nil, fmt.Errorf("%w: format version %d, want %d", ErrCorruptIndex, p.Version, formatVersion)
	}
	if len(p.Chunks) == 0 || len(p.Chunks) != len(p.Vectors) {
		return nil, fmt.Errorf("%w: %d chunks, %d vectors", ErrCorruptIndex, len(p.Chunks), len(p.Vectors))
	}
	for i, v := range p.Vectors {
		if len(v) != p.Meta.Dimension {
			return nil, fmt.Errorf("%w: vector %d has dimension %d, want %d", ErrCorruptIndex, i, len(v), p.Meta.Dimension)
		}
	}

	return &Index{meta: p.Meta, chunks: p.Chunks, vectors: p.Vectors}, nil
}

// Remove deletes the persisted index in dir. A missing index is not an error.
func Remove(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("index: remove %s: %w", dir, err)
	}
	return nil
}
