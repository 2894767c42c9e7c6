package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ragkit/ragkit-go/internal/logging"
	"github.com/ragkit/ragkit-go/internal/rag"
)

// judgeSampleSize is the number of top candidates shown to the judgment step.
const judgeSampleSize = 8

// judgeSnippetChars truncates each candidate's text in the judgment prompt.
const judgeSnippetChars = 400

// Judgment actions returned by the corrective-retrieval judge.
const (
	actionKeep   = "keep"
	actionRefine = "refine"
)

// judgment is the parsed verdict of the corrective-retrieval judge.
type judgment struct {
	// Action is "keep" when the candidates sufficiently answer the query,
	// "refine" when another retrieval pass with a refined query is warranted.
	Action string `json:"action"`
	// Hint describes what is missing; used to derive the refined query.
	Hint string `json:"hint,omitempty"`
}

// judgeSystem instructs the model to assess retrieval sufficiency.
const judgeSystem = `You assess whether retrieved passages can answer a question.
Reply with a single JSON object and nothing else:
{"action":"keep"} when the passages are sufficient, or
{"action":"refine","hint":"<what is missing>"} when they are not.`

// refineSystem instructs the model to rewrite the query from a judge hint.
const refineSystem = "Rewrite the search query to also cover the missing aspect described " +
	"in the hint. Reply with the new query only."

// judgeCandidates asks the external judgment step whether the top candidates
// sufficiently answer the query. Any failure — transport, malformed JSON,
// unknown action — is treated as keep so judgment can never block the
// pipeline.
func judgeCandidates(ctx context.Context, gen Generator, query string, pool []rag.Candidate) judgment {
	if len(pool) == 0 {
		// Nothing retrieved: refining is the only move that can help.
		return judgment{Action: actionRefine, Hint: "no passages were retrieved for the query"}
	}

	sample := pool
	if len(sample) > judgeSampleSize {
		sample = sample[:judgeSampleSize]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n\nPassages:\n", query)
	for i, c := range sample {
		text := c.Payload.Text
		if len(text) > judgeSnippetChars {
			text = text[:judgeSnippetChars]
		}
		fmt.Fprintf(&sb, "%d. %s\n", i+1, text)
	}

	out, err := gen.Generate(ctx, judgeSystem, sb.String())
	if err != nil {
		logging.FromContext(ctx).Warn("pipeline: retrieval judgment failed, keeping candidates",
			slog.Any("error", err))
		return judgment{Action: actionKeep}
	}

	var j judgment
	if err := json.Unmarshal([]byte(extractJSONObject(out)), &j); err != nil {
		logging.FromContext(ctx).Warn("pipeline: judgment response was not valid JSON, keeping candidates",
			slog.String("response", truncate(out, 120)))
		return judgment{Action: actionKeep}
	}
	if j.Action != actionRefine {
		return judgment{Action: actionKeep}
	}
	return j
}

// refineQuery derives a new retrieval query from the judge's hint. Returns an
// empty string on any failure; the caller must then keep the current query
// and skip re-retrieval.
func refineQuery(ctx context.Context, gen Generator, query, hint string) string {
	prompt := fmt.Sprintf("Query: %s\nHint: %s", query, hint)
	out, err := gen.Generate(ctx, refineSystem, prompt)
	if err != nil {
		logging.FromContext(ctx).Warn("pipeline: query refinement failed, keeping current query",
			slog.Any("error", err))
		return ""
	}
	return sanitizeExpansion(out)
}

// extractJSONObject returns the first {...} span in s, or s unchanged when no
// braces are found. Models often wrap JSON in prose or code fences.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

// truncate shortens s to at most n bytes for log output.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
