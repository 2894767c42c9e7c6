package rag

import (
	"fmt"
	"hash/fnv"
	"sort"
)

// Payload is the typed view of a candidate's stored key/value bag.
// Text is required; everything else is optional. Unrecognised fields land in
// Extra so scoring code never has to type-assert raw payload values.
type Payload struct {
	// Text is the passage content used for scoring and context assembly.
	Text string

	// Title is the optional document or section title.
	Title string

	// SourceKey is the stable origin identifier (URI, file path, doc ID).
	// Candidates sharing a SourceKey are the same candidate for dedup.
	SourceKey string

	// Extra holds unrecognised payload fields verbatim.
	Extra map[string]string
}

// Candidate is a single raw hit returned by the vector index. Candidates are
// request-scoped: created from a gateway response, never persisted, and
// discarded once the response is sent.
type Candidate struct {
	// ID identifies the candidate for deduplication and attribution. It is
	// the SourceKey when present, otherwise a structural hash of the payload.
	ID string

	// RawScore is the store's own similarity score (cosine, [0,1] range for
	// normalised embeddings). It is the only score compared against the
	// caller's similarity floor.
	RawScore float64

	// Payload is the typed content and metadata bag.
	Payload Payload
}

// ScoredCandidate is a Candidate annotated with the composite relevance
// signals computed by Score. Combined is deterministic given the candidate
// and the query.
type ScoredCandidate struct {
	Candidate

	// Combined is the weighted composite relevance score used for ranking
	// and filtering. It never replaces RawScore for floor comparisons.
	Combined float64

	// KeywordOverlap is the query-term overlap fraction, retained because the
	// dynamic filter applies a minimum lexical-overlap requirement.
	KeywordOverlap float64

	// UsedInContext is true iff the candidate survived the dynamic filter.
	// Fallback-selected candidates keep false for attribution purposes even
	// though their text is included in the assembled context.
	UsedInContext bool
}

// Flags holds the per-request retrieval feature toggles.
type Flags struct {
	// HyDE enables hypothetical-document expansion as a second search channel.
	HyDE bool `json:"hyde"`
	// CRAG enables the corrective retrieve-judge-refine loop.
	CRAG bool `json:"crag"`
	// Hybrid enables the bm25-like lexical term in the composite score.
	Hybrid bool `json:"hybrid"`
	// MMR enables diversity-aware reranking of the passing set.
	MMR bool `json:"mmr"`
	// CrossEncoder enables best-effort LLM reranking of the passing set.
	CrossEncoder bool `json:"crossEncoder"`
}

// Request describes one retrieval invocation. TopK bounds the per-channel
// request size; the merged pool before filtering may be larger.
type Request struct {
	// Query is the user's question as displayed; the pipeline may derive a
	// distinct retrieval query from it.
	Query string

	// TopK is the per-channel nearest-neighbour limit. Must be > 0.
	TopK int

	// SimilarityFloor is the caller-supplied minimum raw similarity. The
	// filter applies max(SimilarityFloor, 0.10).
	SimilarityFloor float64

	// Flags are the retrieval feature toggles.
	Flags Flags
}

// Identify returns the dedup identity for a raw hit: the payload SourceKey
// when present, otherwise a structural hash over the payload fields.
func Identify(p Payload) string {
	if p.SourceKey != "" {
		return p.SourceKey
	}
	h := fnv.New64a()
	h.Write([]byte(p.Text))
	h.Write([]byte{0})
	h.Write([]byte(p.Title))
	keys := make([]string, 0, len(p.Extra))
	for k := range p.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(p.Extra[k]))
	}
	return fmt.Sprintf("hash:%016x", h.Sum64())
}
