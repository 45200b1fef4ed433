package embedder

import (
	"fmt"
	"os"
	"strconv"

	"github.com/54b3r/docrag-go/internal/rag"
)

// Default embedding models per backend.
const (
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-small"
	localModelName     = "local-hash-v1"

	// defaultOllamaDimensions is the output dimension of nomic-embed-text.
	defaultOllamaDimensions = 768
	// defaultOpenAIDimensions is the output dimension of text-embedding-3-small.
	defaultOpenAIDimensions = 1536
)

// Info describes the embedder an index was built with. It is persisted with
// the index so a restore can detect an embedder change.
type Info struct {
	// Provider is the backend name (local, ollama, openai, azure).
	Provider string
	// Model is the embedding model name.
	Model string
	// Dimensions is the expected vector size.
	Dimensions int
}

// String renders Info as provider/model.
func (i Info) String() string { return i.Provider + "/" + i.Model }

// NewFromEnv constructs the configured embedder, wrapped so its output is
// L2-normalised and sent in batches of EMBEDDING_BATCH_SIZE.
//
// Environment variables:
//
//	EMBEDDING_PROVIDER   = local | ollama | openai | azure (default: local)
//	EMBEDDING_MODEL      overrides the backend's default model
//	EMBEDDING_DIMENSIONS overrides the vector size (local default: 384)
//	EMBEDDING_API_KEY    overrides OPENAI_API_KEY / AZURE_OPENAI_API_KEY
//	EMBEDDING_ENDPOINT   overrides OLLAMA_HOST / AZURE_OPENAI_ENDPOINT / the OpenAI base URL
//	EMBEDDING_BATCH_SIZE texts per request (default: 32)
func NewFromEnv() (rag.Embedder, Info, error) {
	raw, info, err := newBackend()
	if err != nil {
		return nil, Info{}, err
	}
	return Batched(Normalize(raw), getEnvInt("EMBEDDING_BATCH_SIZE", DefaultBatchSize)), info, nil
}

// newBackend constructs the unwrapped backend selected by EMBEDDING_PROVIDER.
func newBackend() (rag.Embedder, Info, error) {
	backend := getEnvOrDefault("EMBEDDING_PROVIDER", "local")

	switch backend {
	case "local":
		dims := getEnvInt("EMBEDDING_DIMENSIONS", DefaultLocalDimensions)
		return NewLocalEmbedder(dims), Info{Provider: backend, Model: localModelName, Dimensions: dims}, nil

	case "ollama":
		host := getEnv("EMBEDDING_ENDPOINT")
		if host == "" {
			host = getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434")
		}
		model := getEnvOrDefault("EMBEDDING_MODEL", defaultOllamaModel)
		dims := getEnvInt("EMBEDDING_DIMENSIONS", defaultOllamaDimensions)
		return NewOllamaEmbedder(&OllamaConfig{Host: host, Model: model}),
			Info{Provider: backend, Model: model, Dimensions: dims}, nil

	case "openai":
		apiKey := getEnv("EMBEDDING_API_KEY")
		if apiKey == "" {
			apiKey = getEnv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, Info{}, fmt.Errorf("embedder: openai requires OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		model := getEnvOrDefault("EMBEDDING_MODEL", defaultOpenAIModel)
		dims := getEnvInt("EMBEDDING_DIMENSIONS", defaultOpenAIDimensions)
		return NewOpenAIEmbedder(&OpenAIConfig{
				BaseURL:    getEnv("EMBEDDING_ENDPOINT"),
				APIKey:     apiKey,
				Model:      model,
				Dimensions: getEnvInt("EMBEDDING_DIMENSIONS", 0),
			}),
			Info{Provider: backend, Model: model, Dimensions: dims}, nil

	case "azure":
		apiKey := getEnv("EMBEDDING_API_KEY")
		if apiKey == "" {
			apiKey = getEnv("AZURE_OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, Info{}, fmt.Errorf("embedder: azure requires AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		endpoint := getEnv("EMBEDDING_ENDPOINT")
		if endpoint == "" {
			endpoint = getEnv("AZURE_OPENAI_ENDPOINT")
		}
		if endpoint == "" {
			return nil, Info{}, fmt.Errorf("embedder: azure requires AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
		model := getEnvOrDefault("EMBEDDING_MODEL", defaultOpenAIModel)
		dims := getEnvInt("EMBEDDING_DIMENSIONS", defaultOpenAIDimensions)
		return NewOpenAIEmbedder(&OpenAIConfig{
				BaseURL:    endpoint,
				APIKey:     apiKey,
				Model:      model,
				Dimensions: getEnvInt("EMBEDDING_DIMENSIONS", 0),
				Azure:      true,
				APIVersion: getEnvOrDefault("AZURE_OPENAI_API_VERSION", "2024-02-01"),
			}),
			Info{Provider: backend, Model: model, Dimensions: dims}, nil

	default:
		return nil, Info{}, fmt.Errorf("embedder: unknown backend %q, valid values: local, ollama, openai, azure", backend)
	}
}

// getEnv returns the value of the named environment variable, or empty string.
func getEnv(key string) string {
	return os.Getenv(key)
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
