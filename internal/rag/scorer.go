package rag

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// Composite score weights. The vector/keyword/bm25 triple switches with
// hybrid mode; title, acronym, and reference-penalty weights are fixed.
const (
	weightVector       = 0.75
	weightKeyword      = 0.18
	weightVectorHybrid = 0.65
	weightKeywordHybrid = 0.35
	weightBM25Hybrid   = 0.20

	weightTitle     = 0.25
	weightAcronym   = 0.10
	weightRefPenalty = 0.35
)

// bm25 shape parameters. Without corpus statistics the term is a saturated
// per-document lexical signal normalised to [0,1], not a true BM25.
const (
	bm25K1          = 1.2
	bm25B           = 0.75
	bm25PivotLength = 400
)

// citationPattern matches common citation markers: numeric brackets ([12],
// [3,4]), parenthesised years ((2021)), and "et al." tokens.
var citationPattern = regexp.MustCompile(`\[\d+(?:\s*,\s*\d+)*\]|\(\d{4}\)|\bet\s+al\.`)

// Score computes the composite relevance score for every candidate against
// the retrieval query and returns the pool sorted by Combined descending.
// The computation is pure: identical inputs always yield identical scores.
func Score(query string, pool []Candidate, hybrid bool) []ScoredCandidate {
	wVec, wKw, wBM := weightVector, weightKeyword, 0.0
	if hybrid {
		wVec, wKw, wBM = weightVectorHybrid, weightKeywordHybrid, weightBM25Hybrid
	}

	queryTokens := tokenize(query)
	queryAcronyms := acronyms(query)

	scored := make([]ScoredCandidate, 0, len(pool))
	for _, c := range pool {
		textTokens := tokenize(c.Payload.Text)
		kw := overlap(queryTokens, textTokens)

		combined := wVec*c.RawScore + wKw*kw
		if hybrid {
			combined += wBM * bm25Like(queryTokens, textTokens)
		}
		combined += weightTitle * overlap(queryTokens, tokenize(c.Payload.Title))
		combined += weightAcronym * acronymHit(queryAcronyms, c.Payload.Text)
		combined -= weightRefPenalty * ReferencePenalty(c.Payload.Text)

		scored = append(scored, ScoredCandidate{
			Candidate:      c,
			Combined:       combined,
			KeywordOverlap: kw,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Combined > scored[j].Combined
	})
	return scored
}

// KeywordOverlap returns the fraction of query terms present in text.
func KeywordOverlap(query, text string) float64 {
	return overlap(tokenize(query), tokenize(text))
}

// overlap returns |queryTokens ∩ textTokens| / |unique queryTokens|.
func overlap(queryTokens, textTokens []string) float64 {
	if len(queryTokens) == 0 || len(textTokens) == 0 {
		return 0
	}
	present := make(map[string]struct{}, len(textTokens))
	for _, t := range textTokens {
		present[t] = struct{}{}
	}
	unique := make(map[string]struct{}, len(queryTokens))
	for _, t := range queryTokens {
		unique[t] = struct{}{}
	}
	hits := 0
	for t := range unique {
		if _, ok := present[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(unique))
}

// bm25Like computes a saturated term-frequency score over the query terms,
// length-normalised against bm25PivotLength, averaged into [0,1].
func bm25Like(queryTokens, textTokens []string) float64 {
	if len(queryTokens) == 0 || len(textTokens) == 0 {
		return 0
	}
	tf := make(map[string]int, len(textTokens))
	for _, t := range textTokens {
		tf[t]++
	}
	norm := bm25K1 * (1 - bm25B + bm25B*float64(len(textTokens))/bm25PivotLength)

	unique := make(map[string]struct{}, len(queryTokens))
	for _, t := range queryTokens {
		unique[t] = struct{}{}
	}
	var sum float64
	for t := range unique {
		f := float64(tf[t])
		if f == 0 {
			continue
		}
		sum += f * (bm25K1 + 1) / (f + norm)
	}
	// Each term contributes at most (k1+1)/(1+norm*...) ≈ slightly above 1;
	// dividing by the term count keeps the average in a stable [0,1] band.
	score := sum / float64(len(unique))
	if score > 1 {
		score = 1
	}
	return score
}

// acronyms extracts the all-uppercase tokens (length ≥ 2) from the query,
// e.g. "EKS", "IAM", "HTTP2".
func acronyms(query string) []string {
	var out []string
	for _, f := range strings.Fields(query) {
		f = strings.Trim(f, ".,;:!?()[]\"'")
		if len(f) < 2 {
			continue
		}
		upper := true
		hasLetter := false
		for _, r := range f {
			if unicode.IsLetter(r) {
				hasLetter = true
				if !unicode.IsUpper(r) {
					upper = false
					break
				}
			}
		}
		if upper && hasLetter {
			out = append(out, f)
		}
	}
	return out
}

// acronymHit returns the fraction of query acronyms that appear verbatim
// (case-sensitive) in text. Zero when the query carries no acronyms.
func acronymHit(queryAcronyms []string, text string) float64 {
	if len(queryAcronyms) == 0 {
		return 0
	}
	hits := 0
	for _, a := range queryAcronyms {
		if strings.Contains(text, a) {
			hits++
		}
	}
	return float64(hits) / float64(len(queryAcronyms))
}

// ReferencePenalty estimates how citation-dense a passage is: the ratio of
// citation-marker matches to total whitespace tokens, clamped to [0,1].
// Prose-dense passages score near zero; reference lists approach one.
func ReferencePenalty(text string) float64 {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return 0
	}
	markers := len(citationPattern.FindAllString(text, -1))
	p := float64(markers) / float64(len(fields))
	// A marker roughly every third token already reads as a citation list.
	p *= 3
	if p > 1 {
		p = 1
	}
	return p
}

// tokenize lowercases s and splits it into alphanumeric runs.
func tokenize(s string) []string {
	s = strings.ToLower(s)
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
