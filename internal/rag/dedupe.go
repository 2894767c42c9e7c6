package rag

// Dedupe collapses candidates that share an identity, keeping the first
// occurrence of each. The merge is stable: surviving candidates keep their
// input order. Candidates without an ID are identified structurally via
// [Identify]. Deduplicating an already-deduplicated slice is a no-op.
func Dedupe(hits []Candidate) []Candidate {
	if len(hits) <= 1 {
		return hits
	}

	seen := make(map[string]struct{}, len(hits))
	out := make([]Candidate, 0, len(hits))
	for _, h := range hits {
		id := h.ID
		if id == "" {
			id = Identify(h.Payload)
			h.ID = id
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, h)
	}
	return out
}
