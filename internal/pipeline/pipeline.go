package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ragkit/ragkit-go/internal/logging"
	"github.com/ragkit/ragkit-go/internal/rag"
)

// Pipeline drives retrieval and context assembly for one request at a time.
// It holds no per-request state; every method is safe for concurrent use.
type Pipeline struct {
	// gateway performs nearest-neighbour search against the vector index.
	gateway rag.Gateway

	// embedder converts query text into dense vectors.
	embedder rag.Embedder

	// gen performs the expansion sub-calls (rewrite, HyDE, judge, rerank).
	gen Generator

	// defaultTopK is the per-channel result count when the caller passes 0.
	defaultTopK int

	// metrics records per-run observations; nil disables recording.
	metrics *Metrics
}

// Config holds the dependencies required to construct a Pipeline.
type Config struct {
	// Gateway is the vector index search gateway.
	Gateway rag.Gateway
	// Embedder is the query embedding service.
	Embedder rag.Embedder
	// Generator runs the expansion LLM sub-calls.
	Generator Generator
	// DefaultTopK is the per-channel result count when a request passes 0.
	// Defaults to 5 if zero.
	DefaultTopK int
	// Metrics records per-run observations. May be nil.
	Metrics *Metrics
}

// New constructs a Pipeline from the given Config.
func New(cfg *Config) (*Pipeline, error) {
	if cfg.Gateway == nil {
		return nil, fmt.Errorf("pipeline: gateway must not be nil")
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("pipeline: embedder must not be nil")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("pipeline: generator must not be nil")
	}
	topK := cfg.DefaultTopK
	if topK <= 0 {
		topK = 5
	}
	return &Pipeline{
		gateway:     cfg.Gateway,
		embedder:    cfg.Embedder,
		gen:         cfg.Generator,
		defaultTopK: topK,
		metrics:     cfg.Metrics,
	}, nil
}

// Result is the outcome of one retrieval run. Pool carries every deduplicated
// post-expansion candidate (for attribution); Selected is the filtered subset
// whose text forms Context.
type Result struct {
	// Query is the retrieval query that produced the final pool — the
	// rewritten or refined query, not necessarily the display query.
	Query string

	// Pool is the full scored candidate pool, sorted by combined score.
	Pool []rag.ScoredCandidate

	// Selected are the candidates included in the assembled context.
	Selected []rag.ScoredCandidate

	// Context is the assembled context blob; empty when nothing was retrieved.
	Context string

	// Threshold is the relative acceptance cutoff that was applied.
	Threshold float64

	// TopKUsed is the per-channel limit that was applied.
	TopKUsed int

	// Fallback is true when the minimal-context fallback engaged.
	Fallback bool
}

// Retrieve runs the full retrieval pipeline for req. Retrieval and expansion
// failures are absorbed: the worst case is an empty-context Result, never an
// error. The only returned error is context cancellation.
func (p *Pipeline) Retrieve(ctx context.Context, req rag.Request) (*Result, error) {
	log := logging.FromContext(ctx)
	start := time.Now()

	topK := req.TopK
	if topK <= 0 {
		topK = p.defaultTopK
	}

	// Channel 1 of expansion: derive the retrieval query.
	retrievalQuery := req.Query
	if req.Flags.CRAG {
		retrievalQuery = rewriteQuery(ctx, p.gen, req.Query)
	}

	pool := p.retrieveChannels(ctx, retrievalQuery, topK, req.Flags.HyDE)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	// Corrective loop: judge once, refine at most once.
	if req.Flags.CRAG {
		pool, retrievalQuery = p.correct(ctx, retrievalQuery, pool, topK)
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
	}

	scored := rag.Score(retrievalQuery, pool, req.Flags.Hybrid)
	fr := rag.Filter(scored, req.SimilarityFloor, topK, req.Flags.Hybrid)

	selected := fr.Selected
	if req.Flags.MMR {
		selected = rag.MMRRerank(selected)
	}
	if req.Flags.CrossEncoder {
		selected = p.crossEncoderRerank(ctx, req.Query, selected)
	}

	result := &Result{
		Query:     retrievalQuery,
		Pool:      scored,
		Selected:  selected,
		Context:   rag.Assemble(selected, fr.Fallback),
		Threshold: fr.Threshold,
		TopKUsed:  topK,
		Fallback:  fr.Fallback,
	}

	p.metrics.observe(result, time.Since(start).Seconds())
	log.Debug("pipeline: retrieval complete",
		slog.Int("pool", len(scored)),
		slog.Int("selected", len(selected)),
		slog.Bool("fallback", fr.Fallback),
	)
	return result, nil
}

// retrieveChannels embeds the retrieval query (and, when hyde is enabled, a
// hypothetical answer passage), searches each channel, and merges the hits
// HyDE-first before deduplication. The channel order is fixed so the
// first-occurrence-wins merge stays deterministic. Embedding or search
// failures degrade to an empty pool.
func (p *Pipeline) retrieveChannels(ctx context.Context, query string, topK int, hyde bool) []rag.Candidate {
	log := logging.FromContext(ctx)

	texts := []string{query}
	if hyde {
		if passage := hypothesize(ctx, p.gen, query); passage != "" {
			// HyDE channel embeds first so its hits lead the merge.
			texts = []string{passage, query}
		}
	}

	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil || len(vectors) != len(texts) {
		log.Warn("pipeline: query embedding failed, proceeding without context",
			slog.Any("error", err))
		return nil
	}

	// Channel searches are independent; issue them concurrently and join.
	hits := make([][]rag.Candidate, len(vectors))
	var wg sync.WaitGroup
	for i, vec := range vectors {
		wg.Add(1)
		go func(i int, vec []float32) {
			defer wg.Done()
			chHits, err := p.gateway.Search(ctx, vec, topK)
			if err != nil {
				log.Warn("pipeline: vector search failed for channel",
					slog.Int("channel", i), slog.Any("error", err))
				return
			}
			hits[i] = chHits
		}(i, vec)
	}
	wg.Wait()

	var merged []rag.Candidate
	for _, chHits := range hits {
		merged = append(merged, chHits...)
	}
	return rag.Dedupe(merged)
}

// correct runs the single corrective cycle: judge the pool, and on a refine
// verdict re-retrieve with the refined query, merging the new hits ahead of
// the previous pool. An empty refinement rewrite keeps the current query and
// skips the second retrieval. Returns the (possibly updated) pool and query.
func (p *Pipeline) correct(ctx context.Context, query string, pool []rag.Candidate, topK int) ([]rag.Candidate, string) {
	log := logging.FromContext(ctx)

	j := judgeCandidates(ctx, p.gen, query, pool)
	if j.Action != actionRefine {
		return pool, query
	}

	refined := refineQuery(ctx, p.gen, query, j.Hint)
	if refined == "" || refined == query {
		return pool, query
	}

	vectors, err := p.embedder.Embed(ctx, []string{refined})
	if err != nil || len(vectors) != 1 {
		log.Warn("pipeline: refined query embedding failed, keeping original pool",
			slog.Any("error", err))
		return pool, query
	}
	newHits, err := p.gateway.Search(ctx, vectors[0], topK)
	if err != nil {
		log.Warn("pipeline: refined retrieval failed, keeping original pool",
			slog.Any("error", err))
		return pool, query
	}

	log.Debug("pipeline: corrective retrieval merged refined results",
		slog.Int("new_hits", len(newHits)),
		slog.String("hint", truncate(j.Hint, 80)),
	)

	// New hits merge ahead of the previous pool; the refined query becomes
	// the active retrieval query for scoring.
	merged := rag.Dedupe(append(newHits, pool...))
	return merged, refined
}
