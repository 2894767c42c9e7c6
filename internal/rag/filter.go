package rag

import "sort"

// Dynamic filter constants: the acceptance cutoff is relative to the top
// combined score rather than a fixed global threshold.
const (
	// relativeCutoffRatio scales the top combined score into the cutoff.
	relativeCutoffRatio = 0.85

	// absoluteRawFloor is the hard minimum raw similarity applied even when
	// the caller supplies a lower floor.
	absoluteRawFloor = 0.10

	// keywordFloorDefault and keywordFloorHybrid are the minimum lexical
	// overlap requirements per mode.
	keywordFloorDefault = 0.05
	keywordFloorHybrid  = 0.15

	// maxPassing caps the passing set regardless of the requested TopK.
	maxPassing = 10

	// minPassingWhenAvailable keeps the cap from starving a rich pool: when
	// at least this many candidates pass, the cap never drops below it.
	minPassingWhenAvailable = 8

	// fallbackSize is the size of the minimal context selected by raw store
	// score when the strict filter passes nothing.
	fallbackSize = 3
)

// FilterResult is the outcome of applying the dynamic filter to a scored pool.
type FilterResult struct {
	// Selected are the candidates whose text enters the assembled context,
	// in ranking order.
	Selected []ScoredCandidate

	// Threshold is the relative cutoff that was applied (0 for empty pools).
	Threshold float64

	// Fallback is true when the strict filter passed nothing and the minimal
	// fixed-size context was force-included instead.
	Fallback bool
}

// Filter applies the score-relative acceptance cutoff to a pool sorted by
// Combined descending. A candidate passes iff its combined score clears
// relativeCutoffRatio times the top score, its raw similarity clears
// max(floor, absoluteRawFloor), and its keyword overlap clears the per-mode
// lexical floor. The passing set is capped at min(maxPassing, topK), never
// below minPassingWhenAvailable when that many pass.
//
// Degenerate case: a non-empty pool with zero passing candidates yields the
// top fallbackSize candidates by raw store score, flagged UsedInContext=false.
// For any non-empty pool the selected set is therefore never empty.
//
// Filter marks UsedInContext on the pool entries in place so attribution
// reflects the final selection.
func Filter(pool []ScoredCandidate, floor float64, topK int, hybrid bool) FilterResult {
	if len(pool) == 0 {
		return FilterResult{}
	}

	threshold := relativeCutoffRatio * pool[0].Combined

	rawFloor := floor
	if rawFloor < absoluteRawFloor {
		rawFloor = absoluteRawFloor
	}
	kwFloor := keywordFloorDefault
	if hybrid {
		kwFloor = keywordFloorHybrid
	}

	var passingIdx []int
	for i := range pool {
		c := &pool[i]
		if c.Combined >= threshold && c.RawScore >= rawFloor && c.KeywordOverlap >= kwFloor {
			passingIdx = append(passingIdx, i)
		}
	}

	if len(passingIdx) == 0 {
		return FilterResult{
			Selected:  fallbackSelection(pool),
			Threshold: threshold,
			Fallback:  true,
		}
	}

	limit := maxPassing
	if topK > 0 && topK < limit {
		limit = topK
	}
	if len(passingIdx) >= minPassingWhenAvailable && limit < minPassingWhenAvailable {
		limit = minPassingWhenAvailable
	}
	if len(passingIdx) > limit {
		passingIdx = passingIdx[:limit]
	}

	selected := make([]ScoredCandidate, 0, len(passingIdx))
	for _, i := range passingIdx {
		pool[i].UsedInContext = true
		selected = append(selected, pool[i])
	}
	return FilterResult{Selected: selected, Threshold: threshold}
}

// fallbackSelection returns the top fallbackSize candidates by raw store
// score. UsedInContext stays false: these are below-threshold grounding
// material, included for availability rather than precision.
func fallbackSelection(pool []ScoredCandidate) []ScoredCandidate {
	byRaw := make([]ScoredCandidate, len(pool))
	copy(byRaw, pool)
	sort.SliceStable(byRaw, func(i, j int) bool {
		return byRaw[i].RawScore > byRaw[j].RawScore
	})
	if len(byRaw) > fallbackSize {
		byRaw = byRaw[:fallbackSize]
	}
	return byRaw
}
