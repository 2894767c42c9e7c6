package rag

import (
	"strings"
	"testing"
)

func selectedWith(texts ...string) []ScoredCandidate {
	out := make([]ScoredCandidate, 0, len(texts))
	for _, txt := range texts {
		out = append(out, ScoredCandidate{Candidate: Candidate{Payload: Payload{Text: txt}}})
	}
	return out
}

func Test_Assemble_JoinsWithSeparator(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("a relevant sentence. ", 10)
	blob := Assemble(selectedWith(long, long), false)

	if !strings.Contains(blob, ContextSeparator) {
		t.Error("passages not separated")
	}
	if strings.Contains(blob, BelowThresholdMarker) {
		t.Error("marker present without fallback")
	}
	if strings.Contains(blob, ThinContextNote) {
		t.Error("thin-context note on a long blob")
	}
}

func Test_Assemble_TitlePrecedesText(t *testing.T) {
	t.Parallel()

	sel := []ScoredCandidate{{Candidate: Candidate{Payload: Payload{
		Title: "Retry Policy",
		Text:  strings.Repeat("the policy covers transient failures. ", 8),
	}}}}
	blob := Assemble(sel, false)
	if !strings.HasPrefix(blob, "Retry Policy\n") {
		t.Errorf("title must lead its passage, got %q", blob[:40])
	}
}

func Test_Assemble_FallbackMarkerLeadsBlob(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("weak but present content. ", 10)
	blob := Assemble(selectedWith(long), true)
	if !strings.HasPrefix(blob, BelowThresholdMarker) {
		t.Error("below-threshold marker must lead the fallback context")
	}
}

func Test_Assemble_ThinContextNoteIdempotent(t *testing.T) {
	t.Parallel()

	blob := Assemble(selectedWith("short"), false)
	if !strings.Contains(blob, ThinContextNote) {
		t.Fatal("thin context must get the guidance note")
	}

	// Re-assembling content that already carries the note must not duplicate it.
	again := Assemble(selectedWith(blob), false)
	if strings.Count(again, ThinContextNote) != 1 {
		t.Errorf("note duplicated: %d occurrences", strings.Count(again, ThinContextNote))
	}
}

func Test_Assemble_EmptyInputs(t *testing.T) {
	t.Parallel()

	if blob := Assemble(nil, false); blob != "" {
		t.Errorf("nil selection: want empty blob, got %q", blob)
	}
	if blob := Assemble(selectedWith("", "   "), false); blob != "" {
		t.Errorf("whitespace-only passages: want empty blob, got %q", blob)
	}
}

func Test_MMRRerank_PromotesDiversity(t *testing.T) {
	t.Parallel()

	near1 := "failover regions are documented in the failover guide for all regions"
	near2 := "failover regions are documented in the failover guide for all regions today"
	diverse := "billing cycles are reconciled monthly against invoices"

	sel := []ScoredCandidate{
		{Candidate: Candidate{ID: "n1", Payload: Payload{Text: near1}}, Combined: 0.90},
		{Candidate: Candidate{ID: "n2", Payload: Payload{Text: near2}}, Combined: 0.89},
		{Candidate: Candidate{ID: "d", Payload: Payload{Text: diverse}}, Combined: 0.70},
	}

	out := MMRRerank(sel)
	if len(out) != 3 {
		t.Fatalf("rerank must preserve the set, got %d", len(out))
	}
	if out[0].ID != "n1" {
		t.Errorf("top candidate must stay first, got %s", out[0].ID)
	}
	// The near-duplicate of the leader is demoted below the diverse passage.
	if out[1].ID != "d" {
		t.Errorf("diverse passage should be picked second, got %s", out[1].ID)
	}
}

func Test_MMRRerank_SmallSetsPassThrough(t *testing.T) {
	t.Parallel()

	sel := selectedWith("one", "two")
	out := MMRRerank(sel)
	if len(out) != 2 || out[0].Payload.Text != "one" {
		t.Error("sets of ≤2 must pass through unchanged")
	}
}
