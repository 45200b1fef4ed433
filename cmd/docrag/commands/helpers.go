package commands

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/cloudwego/eino/components/model"
	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/docrag-go/internal/chunker"
	"github.com/54b3r/docrag-go/internal/collection"
	"github.com/54b3r/docrag-go/internal/embedder"
	"github.com/54b3r/docrag-go/internal/ingestion"
	"github.com/54b3r/docrag-go/internal/pipeline"
	"github.com/54b3r/docrag-go/internal/rag"
	"github.com/54b3r/docrag-go/internal/session"
	"github.com/54b3r/docrag-go/internal/store"
)

// defaultQdrantPrefix prefixes Qdrant collection names.
const defaultQdrantPrefix = "docrag-"

// runtime bundles the process-wide dependencies every command that loads a
// collection needs.
type runtime struct {
	// layout resolves collection directories.
	layout collection.Layout
	// variant selects the simple or advanced pipeline.
	variant pipeline.Variant
	// embedder embeds chunks and questions.
	embedder rag.Embedder
	// embedderInfo identifies the embedder.
	embedderInfo embedder.Info
	// cache loads collection indexes.
	cache *ingestion.Cache
	// qdrant is the Qdrant client when DOCRAG_INDEX_BACKEND=qdrant.
	qdrant *qdrant.Client
}

// newRuntime builds the embedder, chunker and index cache from the
// environment. observe, when non-nil, receives every collection load result.
func newRuntime(log *slog.Logger, simple bool, observe func(string)) (*runtime, error) {
	variant, err := variantFromEnv(simple)
	if err != nil {
		return nil, err
	}

	layout := layoutFromEnv()

	emb, info, err := embedder.NewFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	log.Info("embedder initialised",
		slog.String("embedder", info.String()),
		slog.Int("dimensions", info.Dimensions),
	)

	ch, err := chunker.New(chunkerConfig(variant))
	if err != nil {
		return nil, err
	}
	pipe, err := ingestion.NewPipeline(ch, emb)
	if err != nil {
		return nil, err
	}

	rt := &runtime{layout: layout, variant: variant, embedder: emb, embedderInfo: info}

	var backend ingestion.Backend
	switch b := getEnvOrDefault("DOCRAG_INDEX_BACKEND", "local"); b {
	case "local":
		backend = ingestion.NewLocalBackend(layout)
	case "qdrant":
		base := qdrantConfigFromEnv()
		client, err := rag.NewQdrantClient(&base)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", base.Host, base.Port, err)
		}
		rt.qdrant = client
		backend = ingestion.NewQdrantBackend(client, base, getEnvOrDefault("QDRANT_COLLECTION_PREFIX", defaultQdrantPrefix))
		log.Info("qdrant index backend", slog.String("host", base.Host), slog.Int("port", base.Port))
	default:
		return nil, fmt.Errorf("unsupported DOCRAG_INDEX_BACKEND %q (want local or qdrant)", b)
	}

	cache, err := ingestion.NewCache(ingestion.CacheConfig{
		Layout:   layout,
		Backend:  backend,
		Pipeline: pipe,
		Embedder: info,
		Observe:  observe,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.cache = cache
	return rt, nil
}

// Close releases the Qdrant connection, if any.
func (rt *runtime) Close() {
	if rt.qdrant != nil {
		_ = rt.qdrant.Close()
	}
}

// query returns the variant's retrieval parameters with environment
// overrides applied.
func (rt *runtime) query() rag.Query {
	q := pipeline.DefaultQuery(rt.variant)
	q.K = getEnvInt("DOCRAG_RETRIEVAL_K", q.K)
	if q.MMR {
		q.FetchK = getEnvInt("DOCRAG_RETRIEVAL_FETCH_K", q.FetchK)
		q.Lambda = getEnvFloat("DOCRAG_RETRIEVAL_LAMBDA", q.Lambda)
	}
	return q
}

// sessionDeps returns the dependencies shared by every session of this
// process.
func (rt *runtime) sessionDeps(chatModel model.BaseChatModel, log store.Log) session.Deps {
	return session.Deps{
		Cache:        rt.cache,
		Embedder:     rt.embedder,
		ChatModel:    chatModel,
		Variant:      rt.variant,
		Query:        rt.query(),
		MemoryTokens: getEnvInt("DOCRAG_MEMORY_TOKENS", 0),
		Log:          log,
	}
}

// variantFromEnv resolves the pipeline variant. --simple wins over
// DOCRAG_VARIANT.
func variantFromEnv(simple bool) (pipeline.Variant, error) {
	if simple {
		return pipeline.VariantSimple, nil
	}
	return pipeline.ParseVariant(os.Getenv("DOCRAG_VARIANT"))
}

// layoutFromEnv returns the collections layout rooted at
// DOCRAG_COLLECTIONS_DIR.
func layoutFromEnv() collection.Layout {
	return collection.NewLayout(getEnvOrDefault("DOCRAG_COLLECTIONS_DIR", collection.DefaultRoot))
}

// chunkerConfig returns the variant's chunking preset with
// DOCRAG_CHUNK_SIZE and DOCRAG_CHUNK_OVERLAP applied.
func chunkerConfig(v pipeline.Variant) chunker.Config {
	cfg := chunker.Advanced()
	if v == pipeline.VariantSimple {
		cfg = chunker.Simple()
	}
	cfg.ChunkSize = getEnvInt("DOCRAG_CHUNK_SIZE", cfg.ChunkSize)
	cfg.ChunkOverlap = getEnvInt("DOCRAG_CHUNK_OVERLAP", cfg.ChunkOverlap)
	return cfg
}

// qdrantConfigFromEnv reads the Qdrant connection settings. Collection and
// VectorSize are filled per docrag collection by the backend.
func qdrantConfigFromEnv() rag.QdrantConfig {
	return rag.QdrantConfig{
		Host:   getEnvOrDefault("QDRANT_HOST", "localhost"),
		Port:   getEnvInt("QDRANT_PORT", 6334),
		APIKey: os.Getenv("QDRANT_API_KEY"),
		UseTLS: os.Getenv("QDRANT_TLS") == "true",
	}
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the named environment variable parsed as an int, or
// fallback if it is unset or not a valid integer.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// getEnvFloat returns the named environment variable parsed as a float64,
// or fallback if it is unset or invalid.
func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
