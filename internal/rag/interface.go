// Package rag implements the retrieval core: candidate types, deduplication,
// composite relevance scoring, the score-relative dynamic filter, diversity
// reranking, and context assembly. Concrete backends (Qdrant, embedding
// services) satisfy the interfaces here so the pipeline layer never depends
// on a specific vendor.
package rag

import (
	"context"
)

// Gateway is the interface for nearest-neighbour search against the external
// vector index. Implementations must be safe to call from multiple goroutines.
type Gateway interface {
	// Search returns at most limit candidates ordered by the store's own
	// ranking (descending similarity). The input vector is never mutated.
	Search(ctx context.Context, vector []float32, limit int) ([]Candidate, error)
}

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
