package budget

import (
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
)

func Test_Estimate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"ab", 1},        // short non-empty rounds up to 1
		{"abcd", 1},      // exactly one token's worth
		{"abcdefgh", 2},  // two tokens
		{strings.Repeat("x", 400), 100},
	}
	for _, tt := range tests {
		if got := Estimate(tt.in); got != tt.want {
			t.Errorf("Estimate(%d chars) = %d, want %d", len(tt.in), got, tt.want)
		}
	}
}

func Test_EstimateMessages_IncludesOverhead(t *testing.T) {
	t.Parallel()

	msgs := []*schema.Message{
		schema.UserMessage(strings.Repeat("x", 40)), // 10 tokens content
	}
	got := EstimateMessages(msgs)
	// 4 overhead + 1 role + 10 content.
	if got != 15 {
		t.Errorf("EstimateMessages = %d, want 15", got)
	}
}

func Test_TrimHistory_DropsOldestFirst(t *testing.T) {
	t.Parallel()

	fixed := []*schema.Message{schema.SystemMessage(strings.Repeat("s", 400))}
	history := []*schema.Message{
		schema.UserMessage(strings.Repeat("a", 400)),
		schema.AssistantMessage(strings.Repeat("b", 400), nil),
		schema.UserMessage(strings.Repeat("c", 400)),
	}

	// Budget fits fixed plus roughly two history messages.
	fixedTokens := EstimateMessages(fixed)
	twoTokens := EstimateMessages(history[1:])
	trimmed := TrimHistory(fixed, history, fixedTokens+twoTokens)

	if len(trimmed) != 2 {
		t.Fatalf("want 2 surviving messages, got %d", len(trimmed))
	}
	if !strings.HasPrefix(trimmed[0].Content, "b") {
		t.Error("oldest message must be dropped first")
	}
}

func Test_TrimHistory_NeverDropsFixed(t *testing.T) {
	t.Parallel()

	fixed := []*schema.Message{schema.SystemMessage(strings.Repeat("s", 4000))}
	history := []*schema.Message{schema.UserMessage("q")}

	trimmed := TrimHistory(fixed, history, 10)
	if len(trimmed) != 0 {
		t.Errorf("over-budget fixed set: history must empty, got %d", len(trimmed))
	}
}

func Test_TrimHistory_NoTrimWhenUnderBudget(t *testing.T) {
	t.Parallel()

	history := []*schema.Message{schema.UserMessage("q"), schema.AssistantMessage("a", nil)}
	trimmed := TrimHistory(nil, history, DefaultMaxContextTokens)
	if len(trimmed) != 2 {
		t.Errorf("under-budget history trimmed: %d left", len(trimmed))
	}
}
