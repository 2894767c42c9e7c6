package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/ragkit/ragkit-go/internal/logging"
	"github.com/ragkit/ragkit-go/internal/rag"
)

// crossEncoderSystem instructs the model to score query/passage relevance.
const crossEncoderSystem = `You score how well each passage answers a question.
Reply with one line per passage in the form "<index>: <score>" where score is
a number from 0 to 10. No other output.`

// crossEncoderSnippetChars truncates each passage in the rerank prompt.
const crossEncoderSnippetChars = 600

// crossEncoderRerank reorders the selected candidates by an LLM relevance
// score of each query/passage pair. Best-effort: any failure — transport,
// unparseable output, missing indices — keeps the composite-score ordering.
// Roughly doubles token usage per query when enabled; reach for it when
// accuracy matters more than latency.
func (p *Pipeline) crossEncoderRerank(ctx context.Context, query string, selected []rag.ScoredCandidate) []rag.ScoredCandidate {
	if len(selected) <= 1 {
		return selected
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n\nPassages:\n", query)
	for i, c := range selected {
		text := c.Payload.Text
		if len(text) > crossEncoderSnippetChars {
			text = text[:crossEncoderSnippetChars]
		}
		fmt.Fprintf(&sb, "%d: %s\n", i, text)
	}

	out, err := p.gen.Generate(ctx, crossEncoderSystem, sb.String())
	if err != nil {
		logging.FromContext(ctx).Warn("pipeline: cross-encoder rerank failed, keeping composite ordering",
			slog.Any("error", err))
		return selected
	}

	scores, ok := parseCrossEncoderScores(out, len(selected))
	if !ok {
		logging.FromContext(ctx).Warn("pipeline: cross-encoder output unparseable, keeping composite ordering",
			slog.String("response", truncate(out, 120)))
		return selected
	}

	order := make([]int, len(selected))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	out2 := make([]rag.ScoredCandidate, 0, len(selected))
	for _, i := range order {
		out2 = append(out2, selected[i])
	}
	return out2
}

// parseCrossEncoderScores parses "<index>: <score>" lines. Returns ok=false
// unless every index in [0,n) received a score.
func parseCrossEncoderScores(out string, n int) ([]float64, bool) {
	scores := make([]float64, n)
	seen := make([]bool, n)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		idxStr, scoreStr, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimSpace(idxStr))
		if err != nil || idx < 0 || idx >= n {
			continue
		}
		score, err := strconv.ParseFloat(strings.TrimSpace(scoreStr), 64)
		if err != nil {
			continue
		}
		scores[idx] = score
		seen[idx] = true
	}
	for _, s := range seen {
		if !s {
			return nil, false
		}
	}
	return scores, true
}
