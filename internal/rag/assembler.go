package rag

import "strings"

// ContextSeparator visibly delimits passages in the assembled context blob.
const ContextSeparator = "\n\n---\n\n"

// BelowThresholdMarker prefixes the assembled context when the minimal-context
// fallback engaged, so the generation step knows the grounding is weak.
const BelowThresholdMarker = "[note: the passages below scored under the retrieval confidence threshold]"

// ThinContextNote is appended when the assembled context is shorter than
// minContextChars. It instructs the generation step to lean on general
// domain knowledge instead of fabricating specificity.
const ThinContextNote = "\n\nNote: the retrieved context above is limited. " +
	"Prefer general domain knowledge over inventing specifics that the context does not support."

// minContextChars is the assembled length below which ThinContextNote is added.
const minContextChars = 200

// Assemble joins the selected candidates' text into a single context blob.
// When fallback is true the below-threshold marker leads the blob. A thin
// assembled context gets the guidance note appended; the append is idempotent
// because presence is checked first.
func Assemble(selected []ScoredCandidate, fallback bool) string {
	if len(selected) == 0 {
		return ""
	}

	parts := make([]string, 0, len(selected))
	for _, c := range selected {
		text := strings.TrimSpace(c.Payload.Text)
		if text == "" {
			continue
		}
		if c.Payload.Title != "" {
			text = c.Payload.Title + "\n" + text
		}
		parts = append(parts, text)
	}
	if len(parts) == 0 {
		return ""
	}

	blob := strings.Join(parts, ContextSeparator)
	if fallback {
		blob = BelowThresholdMarker + "\n\n" + blob
	}
	if len(blob) < minContextChars && !strings.Contains(blob, ThinContextNote) {
		blob += ThinContextNote
	}
	return blob
}
