package rag

// mmrLambda balances relevance against diversity in the MMR objective.
// 0.7 keeps ranking mostly relevance-driven while breaking up near-duplicate
// passages.
const mmrLambda = 0.7

// MMRRerank reorders the selected candidates by Maximal Marginal Relevance:
// each step greedily picks the candidate maximising
//
//	mmrLambda·Combined − (1−mmrLambda)·maxSimilarityToPicked
//
// where similarity is the Jaccard overlap of passage token sets. The result
// is deterministic: ties resolve to the earlier candidate.
func MMRRerank(selected []ScoredCandidate) []ScoredCandidate {
	if len(selected) <= 2 {
		return selected
	}

	tokenSets := make([]map[string]struct{}, len(selected))
	for i, c := range selected {
		set := make(map[string]struct{})
		for _, t := range tokenize(c.Payload.Text) {
			set[t] = struct{}{}
		}
		tokenSets[i] = set
	}

	picked := make([]ScoredCandidate, 0, len(selected))
	pickedSets := make([]map[string]struct{}, 0, len(selected))
	remaining := make([]int, len(selected))
	for i := range remaining {
		remaining[i] = i
	}

	for len(remaining) > 0 {
		best := -1
		bestScore := 0.0
		for pos, idx := range remaining {
			maxSim := 0.0
			for _, ps := range pickedSets {
				if s := jaccard(tokenSets[idx], ps); s > maxSim {
					maxSim = s
				}
			}
			score := mmrLambda*selected[idx].Combined - (1-mmrLambda)*maxSim
			if best == -1 || score > bestScore {
				best = pos
				bestScore = score
			}
		}
		idx := remaining[best]
		picked = append(picked, selected[idx])
		pickedSets = append(pickedSets, tokenSets[idx])
		remaining = append(remaining[:best], remaining[best+1:]...)
	}
	return picked
}

// jaccard returns |a ∩ b| / |a ∪ b| for two token sets.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
