package embedder

import (
	"log/slog"
	"strings"
)

// knownChatModelPrefixes contains name fragments of chat/completion models
// that are not suitable for embedding.
var knownChatModelPrefixes = []string{
	"gpt-4",
	"gpt-3.5",
	"gpt-35",
	"o1",
	"o3",
	"llama3",
	"llama-3",
	"mistral",
	"mixtral",
	"gemma",
	"phi3",
	"claude",
	"deepseek",
	"qwen",
}

// looksLikeChatModel reports whether model resembles a chat model name
// rather than a dedicated embedding model.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	for _, prefix := range knownChatModelPrefixes {
		if strings.Contains(lower, prefix) {
			return true
		}
	}
	return false
}

// CheckCompatible compares the embedder an index was built with against the
// current one. A mismatch means query vectors live in a different space than
// the stored ones, so retrieval quality silently collapses; the caller is
// warned and told how to rebuild. Returns true when they match.
func CheckCompatible(log *slog.Logger, collection string, built, current Info) bool {
	if built.Provider == "" {
		return true
	}
	ok := built.Provider == current.Provider && built.Model == current.Model
	if !ok {
		log.Warn("embedder: index was built with a different embedder",
			slog.String("collection", collection),
			slog.String("built_with", built.String()),
			slog.String("current", current.String()),
			slog.String("hint", "run `docrag index --rebuild "+collection+"`"),
		)
	}
	if looksLikeChatModel(current.Model) {
		log.Warn("embedder: EMBEDDING_MODEL looks like a chat model, not an embedding model",
			slog.String("model", current.Model),
			slog.String("hint", "use a dedicated embedding model e.g. nomic-embed-text, text-embedding-3-small"),
		)
	}
	return ok
}
