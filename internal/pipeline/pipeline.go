// Package pipeline answers questions over a loaded collection: it retrieves
// the most relevant chunks, formats them into a prompt together with the
// conversation history, and calls the chat model either atomically (Ask) or
// as a stream of fragments (AskStream).
//
// Two variants exist. The simple variant retrieves 3 chunks by plain
// similarity and keeps no history. The advanced variant retrieves 7 chunks
// re-ranked with MMR out of 20, labels each chunk with its file, and feeds
// the conversation memory into the prompt.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docrag-go/internal/budget"
	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/memory"
	"github.com/54b3r/docrag-go/internal/rag"
)

// Variant selects the prompt, retrieval parameters and memory use.
type Variant string

const (
	// VariantSimple is the stateless k=3 pipeline.
	VariantSimple Variant = "simple"
	// VariantAdvanced is the MMR pipeline with citations and memory.
	VariantAdvanced Variant = "advanced"
)

// ParseVariant maps a config value to a Variant. Empty means advanced.
func ParseVariant(s string) (Variant, error) {
	switch Variant(strings.ToLower(strings.TrimSpace(s))) {
	case "", VariantAdvanced:
		return VariantAdvanced, nil
	case VariantSimple:
		return VariantSimple, nil
	default:
		return "", fmt.Errorf("pipeline: unknown variant %q; valid values: simple, advanced", s)
	}
}

// DefaultQuery returns the retrieval parameters of v.
func DefaultQuery(v Variant) rag.Query {
	if v == VariantSimple {
		return rag.Query{K: 3}
	}
	return rag.Query{K: 7, FetchK: 20, Lambda: 0.7, MMR: true}
}

// DefaultSourcesK is the default number of documents RelevantDocuments returns.
const DefaultSourcesK = 5

// Config holds the dependencies of a Pipeline.
type Config struct {
	// Searcher is the loaded collection index. A nil Searcher makes every
	// question fail with ErrNotLoaded.
	Searcher rag.Searcher

	// Embedder embeds questions. Must match the embedder the index was
	// built with.
	Embedder rag.Embedder

	// ChatModel generates answers.
	ChatModel model.BaseChatModel

	// Memory holds the conversation history. Used by the advanced variant
	// only; may be nil.
	Memory *memory.Memory

	// Variant selects simple or advanced behaviour. Defaults to advanced.
	Variant Variant

	// Query overrides the variant's retrieval parameters when Query.K > 0.
	Query rag.Query

	// MaxContextTokens bounds the prompt; history is trimmed oldest-first to
	// fit. Defaults to budget.DefaultMaxContextTokens.
	MaxContextTokens int
}

// Document is a retrieved chunk as shown to users.
type Document struct {
	// Content is the chunk text.
	Content string `json:"content"`
	// Source is the base name of the source file.
	Source string `json:"source"`
	// Score is the cosine similarity to the question.
	Score float32 `json:"score"`
	// Metadata carries the chunk metadata (title, heading, doc type).
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Answer is the result of Ask.
type Answer struct {
	// Text is the generated answer.
	Text string
	// Sources are the chunks the answer was grounded on, in prompt order.
	Sources []Document
}

// Pipeline answers questions. Safe for concurrent use; callers that need one
// question at a time per conversation serialise themselves.
type Pipeline struct {
	cfg       Config
	query     rag.Query
	retriever *rag.DefaultRetriever
	template prompt.ChatTemplate
	chain    compose.Runnable[map[string]any, *schema.Message]
}

// New constructs a Pipeline. ctx is used to compile the prompt → model chain.
func New(ctx context.Context, cfg Config) (*Pipeline, error) {
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("pipeline: embedder must not be nil")
	}
	if cfg.ChatModel == nil {
		return nil, fmt.Errorf("pipeline: chat model must not be nil")
	}
	if cfg.Variant == "" {
		cfg.Variant = VariantAdvanced
	}
	if cfg.Variant != VariantSimple && cfg.Variant != VariantAdvanced {
		return nil, fmt.Errorf("pipeline: unknown variant %q", cfg.Variant)
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = budget.DefaultMaxContextTokens
	}

	q := cfg.Query
	if q.K <= 0 {
		q = DefaultQuery(cfg.Variant)
	}

	tmpl := newTemplate(cfg.Variant)
	chain, err := compose.NewChain[map[string]any, *schema.Message]().
		AppendChatTemplate(tmpl).
		AppendChatModel(cfg.ChatModel).
		Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("pipeline: compile chain: %w", err)
	}

	p := &Pipeline{cfg: cfg, query: q, template: tmpl, chain: chain}
	if cfg.Searcher != nil {
		if p.retriever, err = rag.NewRetriever(cfg.Embedder, cfg.Searcher, q); err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
	}
	return p, nil
}

// Variant returns the pipeline variant.
func (p *Pipeline) Variant() Variant { return p.cfg.Variant }

// Query returns the retrieval parameters.
func (p *Pipeline) Query() rag.Query { return p.query }

// Loaded reports whether a collection index is attached.
func (p *Pipeline) Loaded() bool { return p.cfg.Searcher != nil }

// Ask answers question atomically and records the turn in memory.
func (p *Pipeline) Ask(ctx context.Context, question string) (Answer, error) {
	start := time.Now()
	vars, docs, err := p.prepare(ctx, question)
	if err != nil {
		return Answer{}, err
	}

	msg, err := p.chain.Invoke(ctx, vars)
	if err != nil {
		return Answer{}, upstream(ctx, fmt.Errorf("generate: %w", err))
	}
	text := msg.Content

	p.remember(question, text)
	logging.FromContext(ctx).Info("pipeline: answered",
		slog.String("variant", string(p.cfg.Variant)),
		slog.Int("sources", len(docs)),
		slog.Int("answer_chars", len(text)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return Answer{Text: text, Sources: toDocuments(docs)}, nil
}

// AskStream starts answering question and returns a Stream of fragments.
// The turn is recorded in memory once the stream is read to the end.
func (p *Pipeline) AskStream(ctx context.Context, question string) (*Stream, error) {
	vars, docs, err := p.prepare(ctx, question)
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithCancel(ctx)
	sr, err := p.chain.Stream(sctx, vars)
	if err != nil {
		cancel()
		return nil, upstream(ctx, fmt.Errorf("stream: %w", err))
	}

	return newStream(sctx, cancel, sr, toDocuments(docs), func(full string) {
		p.remember(question, full)
	}), nil
}

// RelevantDocuments returns the k chunks most similar to question without
// calling the chat model. k <= 0 uses DefaultSourcesK.
func (p *Pipeline) RelevantDocuments(ctx context.Context, question string, k int) ([]Document, error) {
	if p.cfg.Searcher == nil {
		return nil, &Error{Kind: KindNotLoaded}
	}
	if strings.TrimSpace(question) == "" {
		return nil, &Error{Kind: KindInvalidInput}
	}
	if k <= 0 {
		k = DefaultSourcesK
	}
	docs, err := p.retrieve(ctx, question, k)
	if err != nil {
		return nil, err
	}
	return toDocuments(docs), nil
}

// prepare retrieves context and builds the template variables.
func (p *Pipeline) prepare(ctx context.Context, question string) (map[string]any, []rag.Scored, error) {
	if p.cfg.Searcher == nil {
		return nil, nil, &Error{Kind: KindNotLoaded}
	}
	if strings.TrimSpace(question) == "" {
		return nil, nil, &Error{Kind: KindInvalidInput}
	}

	docs, err := p.retrieve(ctx, question, 0)
	if err != nil {
		return nil, nil, err
	}

	vars := map[string]any{
		varContext:  formatContext(p.cfg.Variant, docs),
		varQuestion: question,
	}
	if p.cfg.Variant == VariantAdvanced {
		history, err := p.history(ctx, vars)
		if err != nil {
			return nil, nil, err
		}
		vars[varHistory] = history
	}
	return vars, docs, nil
}

// retrieve embeds question and ranks the index with the pipeline's query, or
// plain top-k when k > 0. Callers check that a collection is loaded first.
func (p *Pipeline) retrieve(ctx context.Context, question string, k int) ([]rag.Scored, error) {
	q := p.retriever.Query()
	var docs []rag.Scored
	var err error
	if k > 0 {
		q = rag.Query{K: k}
		docs, err = p.retriever.RetrieveWith(ctx, question, q)
	} else {
		docs, err = p.retriever.Retrieve(ctx, question)
	}
	if err != nil {
		return nil, upstream(ctx, err)
	}
	logging.FromContext(ctx).Debug("pipeline: retrieved",
		slog.Int("k", q.K),
		slog.Bool("mmr", q.MMR),
		slog.Int("hits", len(docs)),
	)
	return docs, nil
}

// history returns the memory messages trimmed to the prompt budget.
func (p *Pipeline) history(ctx context.Context, vars map[string]any) ([]*schema.Message, error) {
	if p.cfg.Memory == nil {
		return []*schema.Message{}, nil
	}
	history := p.cfg.Memory.Messages()
	if len(history) == 0 {
		return history, nil
	}

	fixedVars := map[string]any{varContext: vars[varContext], varQuestion: vars[varQuestion], varHistory: []*schema.Message{}}
	fixed, err := p.template.Format(ctx, fixedVars)
	if err != nil {
		return nil, fmt.Errorf("pipeline: format prompt: %w", err)
	}

	before := len(history)
	history = budget.TrimHistory(fixed, history, p.cfg.MaxContextTokens)
	if dropped := before - len(history); dropped > 0 {
		logging.FromContext(ctx).Warn("budget: dropped history messages to fit context window",
			slog.Int("dropped", dropped),
			slog.Int("retained", len(history)),
			slog.Int("max_tokens", p.cfg.MaxContextTokens),
		)
	}
	return history, nil
}

// remember appends a completed turn to memory (advanced variant only).
func (p *Pipeline) remember(question, answer string) {
	if p.cfg.Variant == VariantAdvanced && p.cfg.Memory != nil {
		p.cfg.Memory.Append(question, answer)
	}
}

func toDocuments(docs []rag.Scored) []Document {
	out := make([]Document, len(docs))
	for i, d := range docs {
		out[i] = Document{
			Content:  d.Chunk.Content,
			Source:   fileName(d.Chunk),
			Score:    d.Score,
			Metadata: d.Chunk.Metadata,
		}
	}
	return out
}
