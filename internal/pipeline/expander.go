// Package pipeline orchestrates retrieval for one request: optional query
// expansion (rewrite + HyDE), multi-channel vector search, the corrective
// retrieve-judge-refine loop, composite scoring, dynamic filtering, and
// context assembly. All expansion sub-steps degrade gracefully — a failed
// LLM call falls back to the next-simpler strategy and never fails the
// request.
package pipeline

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ragkit/ragkit-go/internal/logging"
)

// Generator is the single-shot LLM call used for expansion sub-steps
// (query rewriting, HyDE synthesis, retrieval judgment, reranking).
// *llm.Client satisfies it; tests inject fakes.
type Generator interface {
	// Generate sends one prompt and returns the model's full text response.
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// rewriteSystem instructs the model to produce a retrieval-optimised query.
const rewriteSystem = "You rewrite user questions into short search queries optimised for " +
	"semantic retrieval. Reply with the rewritten query only — no quotes, no explanation."

// hydeSystem instructs the model to synthesise a hypothetical answer passage.
const hydeSystem = "Write a short factual passage (3-5 sentences) that would plausibly answer " +
	"the user's question, as if excerpted from reference documentation. " +
	"Reply with the passage only."

// maxExpansionChars bounds rewrite and HyDE outputs; anything longer is a
// runaway generation and is discarded.
const maxExpansionChars = 2000

// rewriteQuery derives a retrieval query distinct from the display query.
// Any failure or empty result falls back to the original query — this
// never returns an error.
func rewriteQuery(ctx context.Context, gen Generator, query string) string {
	out, err := gen.Generate(ctx, rewriteSystem, query)
	if err != nil {
		logging.FromContext(ctx).Warn("pipeline: query rewrite failed, using original query",
			slog.Any("error", err))
		return query
	}
	out = sanitizeExpansion(out)
	if out == "" {
		return query
	}
	return out
}

// hypothesize synthesises a HyDE passage for the query. Returns an empty
// string on any failure, which silently degrades retrieval to the literal
// query channel only.
func hypothesize(ctx context.Context, gen Generator, query string) string {
	out, err := gen.Generate(ctx, hydeSystem, query)
	if err != nil {
		logging.FromContext(ctx).Warn("pipeline: hyde synthesis failed, using literal query only",
			slog.Any("error", err))
		return ""
	}
	return sanitizeExpansion(out)
}

// sanitizeExpansion trims whitespace and wrapping quotes from an expansion
// output and discards runaway generations.
func sanitizeExpansion(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"'")
	s = strings.TrimSpace(s)
	if len(s) > maxExpansionChars {
		return ""
	}
	return s
}
