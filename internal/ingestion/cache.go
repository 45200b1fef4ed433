package ingestion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/54b3r/docrag-go/internal/collection"
	"github.com/54b3r/docrag-go/internal/embedder"
	"github.com/54b3r/docrag-go/internal/index"
	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/rag"
)

// Load results reported to CacheConfig.Observe.
const (
	ResultRestored = "restored"
	ResultBuilt    = "built"
	ResultFailed   = "failed"
)

// Result is a loaded collection index.
type Result struct {
	// Collection is the collection name.
	Collection string
	// Searcher answers vector queries over the collection.
	Searcher rag.Searcher
	// Meta describes how the index was built.
	Meta index.Meta
	// Restored is true when the index came from persistence rather than a
	// fresh build.
	Restored bool
	// Documents and Chunks count what a fresh build processed. Both are zero
	// for restored indexes.
	Documents int
	Chunks    int
}

// CacheConfig holds the dependencies of a Cache.
type CacheConfig struct {
	// Layout resolves collection directories.
	Layout collection.Layout
	// Backend persists indexes. Defaults to a LocalBackend over Layout.
	Backend Backend
	// Pipeline chunks and embeds documents on a cache miss.
	Pipeline *Pipeline
	// Embedder identifies the embedder recorded in built indexes and checked
	// against restored ones.
	Embedder embedder.Info
	// Observe, when set, is called once per Load with ResultRestored,
	// ResultBuilt or ResultFailed.
	Observe func(result string)
}

// Cache loads collection indexes with a build-once policy: a persisted index
// is restored without recomputation, otherwise the pipeline runs once and its
// output is persisted before first use. Loaded indexes are also kept in
// memory so sessions sharing a process share one copy.
type Cache struct {
	cfg CacheConfig

	mu     sync.Mutex
	loaded map[string]*Result
}

// NewCache constructs a Cache.
func NewCache(cfg CacheConfig) (*Cache, error) {
	if cfg.Pipeline == nil {
		return nil, fmt.Errorf("ingestion: pipeline must not be nil")
	}
	if cfg.Layout.Root == "" {
		cfg.Layout = collection.NewLayout("")
	}
	if cfg.Backend == nil {
		cfg.Backend = NewLocalBackend(cfg.Layout)
	}
	if cfg.Observe == nil {
		cfg.Observe = func(string) {}
	}
	return &Cache{cfg: cfg, loaded: make(map[string]*Result)}, nil
}

// Layout returns the collection layout the cache reads from.
func (c *Cache) Layout() collection.Layout { return c.cfg.Layout }

// Load returns the index of the named collection, building and persisting it
// on first use. A collection with no documents fails with
// collection.ErrNoDocuments and leaves nothing persisted.
func (c *Cache) Load(ctx context.Context, name string, progress func(msg string)) (*Result, error) {
	res, err := c.load(ctx, name, false, progress)
	c.observe(res, err)
	return res, err
}

// Rebuild builds the index of name again and replaces the persisted one. On
// failure the previous index is kept, unless the collection no longer has
// any documents.
func (c *Cache) Rebuild(ctx context.Context, name string, progress func(msg string)) (*Result, error) {
	res, err := c.load(ctx, name, true, progress)
	c.observe(res, err)
	return res, err
}

// Forget drops the in-memory copy of name. The persisted index is untouched.
func (c *Cache) Forget(name string) {
	c.mu.Lock()
	delete(c.loaded, name)
	c.mu.Unlock()
}

func (c *Cache) observe(res *Result, err error) {
	switch {
	case err != nil:
		c.cfg.Observe(ResultFailed)
	case res.Restored:
		c.cfg.Observe(ResultRestored)
	default:
		c.cfg.Observe(ResultBuilt)
	}
}

func (c *Cache) load(ctx context.Context, name string, rebuild bool, progress func(string)) (*Result, error) {
	if progress == nil {
		progress = func(string) {}
	}
	log := logging.FromContext(ctx).With("collection", name, "backend", c.cfg.Backend.Name())

	if err := collection.ValidateName(name); err != nil {
		return nil, err
	}
	dir := c.cfg.Layout.Dir(name)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", collection.ErrCollectionNotFound, dir)
	}

	if !rebuild {
		c.mu.Lock()
		res, ok := c.loaded[name]
		c.mu.Unlock()
		if ok {
			cached := *res
			cached.Restored = true
			return &cached, nil
		}
		if res, err := c.open(ctx, name); res != nil || err != nil {
			return res, err
		}
	}

	unlock, err := index.Lock(ctx, c.cfg.Layout.LockPath(name))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := unlock(); err != nil {
			log.Warn("ingestion: release build lock", "error", err)
		}
	}()

	if !rebuild {
		if res, err := c.open(ctx, name); res != nil || err != nil {
			// Another builder finished while we waited for the lock.
			return res, err
		}
	}

	// The previous index stays in place until the new one is saved, so a
	// failed rebuild leaves it usable.
	progress(fmt.Sprintf("building index for %q", name))
	start := time.Now()

	docs, err := c.cfg.Layout.Load(name)
	if err != nil {
		if rebuild && errors.Is(err, collection.ErrNoDocuments) {
			c.drop(ctx, name)
		}
		return nil, err
	}
	progress(fmt.Sprintf("loaded %d documents", len(docs)))

	built, err := c.cfg.Pipeline.Run(ctx, docs, progress)
	if err != nil {
		return nil, err
	}
	if len(built.Chunks) == 0 {
		if rebuild {
			c.drop(ctx, name)
		}
		return nil, fmt.Errorf("%w: %s has only blank documents", collection.ErrNoDocuments, dir)
	}

	meta := index.Meta{
		Collection:       name,
		EmbedderProvider: c.cfg.Embedder.Provider,
		EmbedderModel:    c.cfg.Embedder.Model,
		Documents:        built.Documents,
		BuiltAt:          time.Now().UTC(),
	}
	searcher, meta, err := c.cfg.Backend.Save(ctx, name, built.Chunks, built.Vectors, meta)
	if err != nil {
		return nil, fmt.Errorf("ingestion: save %s: %w", name, err)
	}

	log.Info("ingestion: index built",
		"documents", built.Documents,
		"chunks", len(built.Chunks),
		"dimension", meta.Dimension,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	progress(fmt.Sprintf("indexed %d chunks", len(built.Chunks)))

	res := &Result{
		Collection: name,
		Searcher:   searcher,
		Meta:       meta,
		Documents:  built.Documents,
		Chunks:     len(built.Chunks),
	}
	c.remember(res)
	return res, nil
}

// open restores a persisted index. It returns (nil, nil) when none exists.
func (c *Cache) open(ctx context.Context, name string) (*Result, error) {
	searcher, meta, found, err := c.cfg.Backend.Open(ctx, name)
	if err != nil {
		if errors.Is(err, index.ErrCorruptIndex) {
			return nil, fmt.Errorf("%w (run `docrag index --rebuild %s`)", err, name)
		}
		return nil, fmt.Errorf("ingestion: open %s: %w", name, err)
	}
	if !found {
		return nil, nil
	}

	built := embedder.Info{Provider: meta.EmbedderProvider, Model: meta.EmbedderModel}
	embedder.CheckCompatible(logging.FromContext(ctx), name, built, c.cfg.Embedder)

	logging.FromContext(ctx).Info("ingestion: index restored",
		"collection", name,
		"backend", c.cfg.Backend.Name(),
		"built_at", meta.BuiltAt,
	)

	res := &Result{Collection: name, Searcher: searcher, Meta: meta, Restored: true}
	c.remember(res)
	return res, nil
}

// drop removes the persisted index of a collection whose documents are gone.
func (c *Cache) drop(ctx context.Context, name string) {
	c.Forget(name)
	if err := c.cfg.Backend.Drop(ctx, name); err != nil {
		logging.FromContext(ctx).Warn("ingestion: drop stale index", "collection", name, "error", err)
	}
}

func (c *Cache) remember(res *Result) {
	c.mu.Lock()
	c.loaded[res.Collection] = res
	c.mu.Unlock()
}
