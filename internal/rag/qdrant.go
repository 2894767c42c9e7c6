package rag

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig holds connection parameters for a Qdrant vector index.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to search.
	Collection string

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantGateway implements Gateway backed by a Qdrant instance. It only
// reads: document ingestion is handled by external tooling.
type QdrantGateway struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this gateway.
	cfg *QdrantConfig
}

// NewQdrantGateway creates a QdrantGateway and verifies the target collection
// exists, so operators get a clear startup error instead of empty search
// results on every request.
func NewQdrantGateway(ctx context.Context, cfg *QdrantConfig) (*QdrantGateway, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("qdrant: collection name is required")
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

	g := &QdrantGateway{client: client, cfg: cfg}

	exists, err := client.CollectionExists(ctx, cfg.Collection)
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to check collection %q: %w", cfg.Collection, err)
	}
	if !exists {
		return nil, fmt.Errorf("qdrant: collection %q does not exist — ingest documents first", cfg.Collection)
	}

	return g, nil
}

// Search performs a similarity query and maps each hit into a Candidate.
// Recognised payload keys: "text" (alias "content"), "title", "source".
// Everything else lands in Payload.Extra.
func (g *QdrantGateway) Search(ctx context.Context, vector []float32, limit int) ([]Candidate, error) {
	lim := uint64(limit)
	results, err := g.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: g.cfg.Collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &lim,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	hits := make([]Candidate, 0, len(results))
	for _, r := range results {
		c := Candidate{
			RawScore: float64(r.Score),
			Payload:  Payload{Extra: make(map[string]string)},
		}
		for k, v := range r.Payload {
			switch k {
			case "text", "content":
				if c.Payload.Text == "" {
					c.Payload.Text = v.GetStringValue()
				}
			case "title":
				c.Payload.Title = v.GetStringValue()
			case "source":
				c.Payload.SourceKey = v.GetStringValue()
			default:
				c.Payload.Extra[k] = v.GetStringValue()
			}
		}
		c.ID = Identify(c.Payload)
		hits = append(hits, c)
	}
	return hits, nil
}

// Ping calls the Qdrant HealthCheck RPC. Used by the readiness endpoint.
func (g *QdrantGateway) Ping(ctx context.Context) error {
	if _, err := g.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check failed: %w", err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (g *QdrantGateway) Close() error {
	return g.client.Close()
}
