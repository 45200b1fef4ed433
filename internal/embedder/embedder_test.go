package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/54b3r/docrag-go/internal/rag"
)

// norm returns the L2 norm of v.
func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

// ---------------------------------------------------------------------------
// LocalEmbedder
// ---------------------------------------------------------------------------

func TestLocalEmbedder_DeterministicAndSized(t *testing.T) {
	t.Parallel()

	e := NewLocalEmbedder(64)
	a, err := e.Embed(context.Background(), []string{"Install the CLI", "install the cli"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(a) != 2 || len(a[0]) != 64 {
		t.Fatalf("unexpected shape: %d x %d", len(a), len(a[0]))
	}
	if rag.Cosine(a[0], a[1]) < 0.999 {
		t.Errorf("case-insensitive tokens should embed identically, cosine=%v", rag.Cosine(a[0], a[1]))
	}
}

func TestLocalEmbedder_RelatedTextsAreCloser(t *testing.T) {
	t.Parallel()

	e := NewLocalEmbedder(DefaultLocalDimensions)
	v, _ := e.Embed(context.Background(), []string{
		"configure the database connection pool size",
		"database connection pool configuration",
		"bake sourdough bread at home",
	})
	related := rag.Cosine(v[0], v[1])
	unrelated := rag.Cosine(v[0], v[2])
	if related <= unrelated {
		t.Errorf("related=%v should exceed unrelated=%v", related, unrelated)
	}
}

func TestLocalEmbedder_DefaultDimensions(t *testing.T) {
	t.Parallel()

	if NewLocalEmbedder(0).Dimensions() != DefaultLocalDimensions {
		t.Error("zero dims should fall back to default")
	}
}

func TestLocalEmbedder_HonoursCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewLocalEmbedder(8).Embed(ctx, []string{"x"}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Wrappers
// ---------------------------------------------------------------------------

// countingEmbedder records batch sizes and returns constant vectors.
type countingEmbedder struct {
	batches []int
	vec     []float32
}

func (c *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	c.batches = append(c.batches, len(texts))
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = append([]float32(nil), c.vec...)
	}
	return out, nil
}

func TestNormalize_UnitLength(t *testing.T) {
	t.Parallel()

	e := Normalize(&countingEmbedder{vec: []float32{3, 4}})
	v, err := e.Embed(context.Background(), []string{"a"})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(norm(v[0])-1) > 1e-6 {
		t.Errorf("norm = %v, want 1", norm(v[0]))
	}
	if math.Abs(float64(v[0][0])-0.6) > 1e-6 {
		t.Errorf("v[0] = %v, want 0.6", v[0][0])
	}
}

func TestL2Normalize_ZeroVectorUnchanged(t *testing.T) {
	t.Parallel()

	v := []float32{0, 0, 0}
	L2Normalize(v)
	for _, x := range v {
		if x != 0 {
			t.Fatalf("zero vector modified: %v", v)
		}
	}
}

func TestBatched_SplitsRequests(t *testing.T) {
	t.Parallel()

	inner := &countingEmbedder{vec: []float32{1}}
	texts := make([]string, 70)
	out, err := Batched(inner, 32).Embed(context.Background(), texts)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 70 {
		t.Errorf("want 70 vectors, got %d", len(out))
	}
	want := []int{32, 32, 6}
	if len(inner.batches) != len(want) {
		t.Fatalf("batches = %v, want %v", inner.batches, want)
	}
	for i := range want {
		if inner.batches[i] != want[i] {
			t.Errorf("batch %d = %d, want %d", i, inner.batches[i], want[i])
		}
	}
}

// ---------------------------------------------------------------------------
// HTTP backends
// ---------------------------------------------------------------------------

func TestOllamaEmbedder_Embed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := ollamaEmbedResponse{}
		for range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float32{1, 2})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	e := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "nomic-embed-text"})
	out, err := e.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(out) != 2 || len(out[1]) != 2 {
		t.Errorf("unexpected output: %v", out)
	}
}

func TestOllamaEmbedder_ErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model \"nope\" not found"}`))
	}))
	t.Cleanup(srv.Close)

	_, err := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "nope"}).Embed(context.Background(), []string{"a"})
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected upstream error message, got %v", err)
	}
}

func TestOpenAIEmbedder_OrdersByIndex(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			http.Error(w, "bad auth "+got, http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"text-embedding-3-small","data":[
			{"object":"embedding","index":1,"embedding":[0,1]},
			{"object":"embedding","index":0,"embedding":[1,0]}
		]}`))
	}))
	t.Cleanup(srv.Close)

	e := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL + "/v1", APIKey: "sk-test", Model: "text-embedding-3-small"})
	out, err := e.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if out[0][0] != 1 || out[1][1] != 1 {
		t.Errorf("vectors not placed by index: %v", out)
	}
}

// ---------------------------------------------------------------------------
// Factory and compatibility
// ---------------------------------------------------------------------------

func TestNewFromEnv(t *testing.T) {
	tests := []struct {
		name     string
		env      map[string]string
		wantErr  string
		wantInfo Info
	}{
		{
			name:     "default is local",
			env:      map[string]string{},
			wantInfo: Info{Provider: "local", Model: localModelName, Dimensions: 384},
		},
		{
			name:     "local with dimensions",
			env:      map[string]string{"EMBEDDING_PROVIDER": "local", "EMBEDDING_DIMENSIONS": "128"},
			wantInfo: Info{Provider: "local", Model: localModelName, Dimensions: 128},
		},
		{
			name:     "ollama",
			env:      map[string]string{"EMBEDDING_PROVIDER": "ollama"},
			wantInfo: Info{Provider: "ollama", Model: "nomic-embed-text", Dimensions: 768},
		},
		{
			name:    "openai without key",
			env:     map[string]string{"EMBEDDING_PROVIDER": "openai"},
			wantErr: "OPENAI_API_KEY",
		},
		{
			name:    "azure without endpoint",
			env:     map[string]string{"EMBEDDING_PROVIDER": "azure", "AZURE_OPENAI_API_KEY": "k"},
			wantErr: "AZURE_OPENAI_ENDPOINT",
		},
		{
			name:    "unknown",
			env:     map[string]string{"EMBEDDING_PROVIDER": "word2vec"},
			wantErr: "unknown backend",
		},
	}

	keys := []string{"EMBEDDING_PROVIDER", "EMBEDDING_DIMENSIONS", "EMBEDDING_MODEL", "EMBEDDING_API_KEY",
		"EMBEDDING_ENDPOINT", "OPENAI_API_KEY", "AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT"}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for _, k := range keys {
				t.Setenv(k, tc.env[k])
			}
			e, info, err := NewFromEnv()
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("want error containing %q, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewFromEnv: %v", err)
			}
			if e == nil {
				t.Fatal("nil embedder")
			}
			if info != tc.wantInfo {
				t.Errorf("info = %+v, want %+v", info, tc.wantInfo)
			}
		})
	}
}

func TestNewFromEnv_LocalOutputIsNormalised(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "local")
	t.Setenv("EMBEDDING_DIMENSIONS", "")

	e, _, err := NewFromEnv()
	if err != nil {
		t.Fatal(err)
	}
	v, err := e.Embed(context.Background(), []string{"retrieval augmented generation"})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(norm(v[0])-1) > 1e-5 {
		t.Errorf("norm = %v, want 1", norm(v[0]))
	}
}

func TestCheckCompatible(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	local := Info{Provider: "local", Model: localModelName}

	if !CheckCompatible(log, "demo", Info{}, local) {
		t.Error("unknown build info should be treated as compatible")
	}
	if !CheckCompatible(log, "demo", local, local) {
		t.Error("identical info should be compatible")
	}
	if CheckCompatible(log, "demo", Info{Provider: "ollama", Model: "nomic-embed-text"}, local) {
		t.Error("different provider should be incompatible")
	}
	if !strings.Contains(buf.String(), "index --rebuild demo") {
		t.Errorf("expected rebuild hint, got %q", buf.String())
	}
}

func TestLooksLikeChatModel(t *testing.T) {
	t.Parallel()

	for model, want := range map[string]bool{
		"nomic-embed-text":       false,
		"text-embedding-3-small": false,
		"llama3":                 true,
		"gpt-4o":                 true,
	} {
		if got := looksLikeChatModel(model); got != want {
			t.Errorf("looksLikeChatModel(%q) = %v, want %v", model, got, want)
		}
	}
}
