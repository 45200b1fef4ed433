package rag

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// pointNamespace seeds deterministic point IDs so rebuilding a collection
// overwrites points instead of duplicating them.
var pointNamespace = uuid.MustParse("6f1c64a2-5f0e-4d8e-9a53-3b0d2f7c1e4a")

// QdrantConfig holds connection parameters for a Qdrant instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection backing one docrag collection.
	Collection string

	// VectorSize is the embedding dimension. Required to create a collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore is a Searcher backed by one Qdrant collection.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this store.
	cfg *QdrantConfig
}

// NewQdrantClient dials Qdrant with cfg's connection settings.
func NewQdrantClient(cfg *QdrantConfig) (*qdrant.Client, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}
	return client, nil
}

// NewQdrantStore wraps an existing client for cfg.Collection. The store does
// not own the client; several stores may share one connection. The
// collection is not created until EnsureCollection is called.
func NewQdrantStore(client *qdrant.Client, cfg *QdrantConfig) *QdrantStore {
	return &QdrantStore{client: client, cfg: cfg}
}

// Count returns the number of points in the collection, or 0 when the
// collection does not exist.
func (s *QdrantStore) Count(ctx context.Context) (uint64, error) {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return 0, fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if !exists {
		return 0, nil
	}
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.cfg.Collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: count %q: %w", s.cfg.Collection, err)
	}
	return n, nil
}

// EnsureCollection creates the collection with cosine distance if needed.
func (s *QdrantStore) EnsureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}
	if s.cfg.VectorSize == 0 {
		return fmt.Errorf("qdrant: vector size required to create collection %q", s.cfg.Collection)
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", s.cfg.Collection, err)
	}
	return nil
}

// DropCollection deletes the collection if it exists.
func (s *QdrantStore) DropCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if !exists {
		return nil
	}
	if err := s.client.DeleteCollection(ctx, s.cfg.Collection); err != nil {
		return fmt.Errorf("qdrant: delete collection %q: %w", s.cfg.Collection, err)
	}
	return nil
}

// Upsert stores chunks with their embeddings. vectors[i] belongs to chunks[i].
func (s *QdrantStore) Upsert(ctx context.Context, chunks []Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("qdrant: %d chunks but %d vectors", len(chunks), len(vectors))
	}

	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for i, c := range chunks {
		payload := map[string]any{
			"content": c.Content,
			"source":  c.Source,
			"index":   int64(c.Index),
			"start":   int64(c.Start),
			"seq":     int64(i),
		}
		for k, v := range c.Metadata {
			payload["meta_"+k] = v
		}

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(c.Source, c.Index)),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}
	return nil
}

// Search returns the n nearest points with their stored vectors so the
// caller can apply MMR in-process.
func (s *QdrantStore) Search(ctx context.Context, query []float32, n int) ([]Candidate, error) {
	limit := uint64(n) //nolint:gosec // n is a small positive retrieval size
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	out := make([]Candidate, 0, len(results))
	for _, r := range results {
		c := Candidate{
			Scored: Scored{
				Chunk: Chunk{ID: r.GetId().GetUuid(), Metadata: make(map[string]string)},
				Score: r.GetScore(),
			},
			Vector: r.GetVectors().GetVector().GetData(),
		}
		for k, v := range r.GetPayload() {
			switch k {
			case "content":
				c.Chunk.Content = v.GetStringValue()
			case "source":
				c.Chunk.Source = v.GetStringValue()
			case "index":
				c.Chunk.Index = int(v.GetIntegerValue())
			case "start":
				c.Chunk.Start = int(v.GetIntegerValue())
			default:
				if len(k) > 5 && k[:5] == "meta_" {
					c.Chunk.Metadata[k[5:]] = v.GetStringValue()
				}
			}
		}
		out = append(out, c)
	}
	return out, nil
}

// PointID derives the deterministic point UUID for a chunk.
func PointID(source string, index int) string {
	return uuid.NewSHA1(pointNamespace, fmt.Appendf(nil, "%s#%d", source, index)).String()
}
