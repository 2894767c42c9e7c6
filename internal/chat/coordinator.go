package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/ragkit/ragkit-go/internal/budget"
	"github.com/ragkit/ragkit-go/internal/logging"
	"github.com/ragkit/ragkit-go/internal/pipeline"
	"github.com/ragkit/ragkit-go/internal/rag"
)

// ErrGeneration marks a failed answer-generation call. It is one of the two
// error classes that escape to the caller (the other being configuration
// errors raised before any retrieval work); everything else is absorbed with
// a degraded-but-successful response.
var ErrGeneration = errors.New("chat: answer generation failed")

// historyWindow is the number of trailing conversation turns forwarded to
// generation.
const historyWindow = 10

// summarizeAfterTurns is the history length at which the trailing window is
// summarised (best-effort) instead of being forwarded verbatim.
const summarizeAfterTurns = 6

// summarizeSystem instructs the model to compress the conversation so far.
const summarizeSystem = "Summarise the conversation below in at most five sentences, " +
	"preserving names, facts, and open questions. Reply with the summary only."

// Role identifies the author of a conversation turn.
type Role string

const (
	// RoleUser is a turn sent by the human.
	RoleUser Role = "user"
	// RoleAssistant is a turn produced by the model.
	RoleAssistant Role = "assistant"
)

// Turn is a single message in the submitted conversation.
type Turn struct {
	// Role is the author of the turn.
	Role Role `json:"role"`
	// Content is the text of the turn.
	Content string `json:"content"`
}

// Request describes one answer-generation invocation. The final turn must be
// the user's current question; everything before it is history.
type Request struct {
	// Turns is the ordered conversation; the last turn is the question.
	Turns []Turn
	// TopK is the per-channel retrieval limit (0 = pipeline default).
	TopK int
	// SimilarityFloor is the caller-supplied minimum raw similarity.
	SimilarityFloor float64
	// Flags are the retrieval feature toggles.
	Flags rag.Flags
	// SystemPrompt overrides the default system prompt when UseSystemPrompt
	// is set and the value is non-empty.
	SystemPrompt string
	// UseSystemPrompt gates the SystemPrompt override.
	UseSystemPrompt bool
}

// Outcome reports what a completed stream produced, for best-effort session
// persistence by the caller.
type Outcome struct {
	// Answer is the full generated text.
	Answer string
	// Final is the terminal attribution payload that was emitted.
	Final SourcesFinal
}

// Streamer starts a streaming completion. *llm.Client satisfies it; tests
// inject fakes built on schema.StreamReaderFromArray.
type Streamer interface {
	Stream(ctx context.Context, msgs []*schema.Message) (*schema.StreamReader[*schema.Message], error)
}

// Coordinator drives one request end to end: retrieval, prompt construction,
// streamed generation, and terminal attribution. It holds no per-request
// state and is safe for concurrent use.
type Coordinator struct {
	// pipe runs retrieval and context assembly.
	pipe *pipeline.Pipeline

	// streamer produces the answer token stream.
	streamer Streamer

	// gen performs the best-effort history summarisation call.
	gen pipeline.Generator

	// maxContextTokens bounds the estimated prompt size; history is trimmed
	// oldest-first to fit.
	maxContextTokens int
}

// Config holds the dependencies required to construct a Coordinator.
type Config struct {
	// Pipeline is the retrieval pipeline.
	Pipeline *pipeline.Pipeline
	// Streamer produces the answer token stream.
	Streamer Streamer
	// Generator runs the history summarisation call. May be nil to disable
	// summarisation.
	Generator pipeline.Generator
	// MaxContextTokens bounds the estimated prompt size. Defaults to
	// budget.DefaultMaxContextTokens if zero.
	MaxContextTokens int
}

// New constructs a Coordinator from the given Config.
func New(cfg *Config) (*Coordinator, error) {
	if cfg.Pipeline == nil {
		return nil, fmt.Errorf("chat: pipeline must not be nil")
	}
	if cfg.Streamer == nil {
		return nil, fmt.Errorf("chat: streamer must not be nil")
	}
	maxCtx := cfg.MaxContextTokens
	if maxCtx <= 0 {
		maxCtx = budget.DefaultMaxContextTokens
	}
	return &Coordinator{
		pipe:             cfg.Pipeline,
		streamer:         cfg.Streamer,
		gen:              cfg.Generator,
		maxContextTokens: maxCtx,
	}, nil
}

// Answer runs retrieval for the final turn, streams the generated answer
// through em, and terminates the stream with the source-attribution payload.
// On client cancellation it stops forwarding deltas, releases the model
// stream, and emits no terminal event. Generation failures are reported
// in-band via em.Error and returned wrapped in ErrGeneration.
func (c *Coordinator) Answer(ctx context.Context, req Request, em Emitter) (*Outcome, error) {
	log := logging.FromContext(ctx)

	if len(req.Turns) == 0 {
		return nil, fmt.Errorf("chat: empty conversation")
	}
	question := req.Turns[len(req.Turns)-1].Content
	history := req.Turns[:len(req.Turns)-1]

	result, err := c.pipe.Retrieve(ctx, rag.Request{
		Query:           question,
		TopK:            req.TopK,
		SimilarityFloor: req.SimilarityFloor,
		Flags:           req.Flags,
	})
	if err != nil {
		// Retrieve only errors on cancellation.
		return nil, err
	}

	historyMsgs := c.historyMessages(ctx, history)

	system := defaultSystemPrompt
	if req.UseSystemPrompt && strings.TrimSpace(req.SystemPrompt) != "" {
		system = req.SystemPrompt
	}

	msgs := buildMessages(system, result.Context, question, historyMsgs)

	// Trim history oldest-first if the estimated prompt exceeds the budget.
	// The fixed set is everything except the history block: the system
	// message up front and the final user prompt at the end.
	fixed := append(msgs[:1:1], msgs[1+len(historyMsgs):]...)
	trimmed := budget.TrimHistory(fixed, historyMsgs, c.maxContextTokens)
	if len(trimmed) < len(historyMsgs) {
		log.Warn("chat: dropped history messages to fit context budget",
			slog.Int("dropped", len(historyMsgs)-len(trimmed)))
		msgs = buildMessages(system, result.Context, question, trimmed)
	}

	sr, err := c.streamer.Stream(ctx, msgs)
	if err != nil {
		_ = em.Error(err.Error())
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	defer sr.Close()

	var answer strings.Builder
	for {
		select {
		case <-ctx.Done():
			// Client abort: stop forwarding, no terminal event.
			return nil, fmt.Errorf("chat: %w", ctx.Err())
		default:
		}

		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("chat: %w", ctx.Err())
			}
			_ = em.Error(err.Error())
			return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
		}
		if msg == nil || msg.Content == "" {
			continue
		}
		answer.WriteString(msg.Content)
		if err := em.Delta(msg.Content); err != nil {
			// The client went away mid-write; treat like an abort.
			return nil, err
		}
	}

	final := SourcesFinal{
		Sources:       attribution(result.Pool),
		TopKUsed:      result.TopKUsed,
		ThresholdUsed: result.Threshold,
		Flags:         req.Flags,
	}
	if err := em.Final(final); err != nil {
		return nil, err
	}

	return &Outcome{Answer: answer.String(), Final: final}, nil
}

// historyMessages converts the trailing window of prior turns into schema
// messages. When the window is long, a best-effort summarisation call
// replaces it with a single system message; summarisation failure falls back
// to the verbatim window, never an error.
func (c *Coordinator) historyMessages(ctx context.Context, history []Turn) []*schema.Message {
	if len(history) == 0 {
		return nil
	}
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}

	if c.gen != nil && len(history) >= summarizeAfterTurns {
		if summary := c.summarize(ctx, history); summary != "" {
			return []*schema.Message{
				schema.SystemMessage("Conversation summary: " + summary),
			}
		}
	}

	msgs := make([]*schema.Message, 0, len(history))
	for _, t := range history {
		switch t.Role {
		case RoleUser:
			msgs = append(msgs, schema.UserMessage(t.Content))
		case RoleAssistant:
			msgs = append(msgs, schema.AssistantMessage(t.Content, nil))
		}
	}
	return msgs
}

// summarize compresses the history window into a short summary. Returns an
// empty string on any failure.
func (c *Coordinator) summarize(ctx context.Context, history []Turn) string {
	var sb strings.Builder
	for _, t := range history {
		fmt.Fprintf(&sb, "%s: %s\n", t.Role, t.Content)
	}
	summary, err := c.gen.Generate(ctx, summarizeSystem, sb.String())
	if err != nil {
		logging.FromContext(ctx).Warn("chat: history summarisation failed, forwarding turns verbatim",
			slog.Any("error", err))
		return ""
	}
	return strings.TrimSpace(summary)
}

// attribution maps the full scored pool into the terminal sources list.
func attribution(pool []rag.ScoredCandidate) []SourceRef {
	refs := make([]SourceRef, 0, len(pool))
	for _, c := range pool {
		refs = append(refs, SourceRef{
			ID:    c.ID,
			Score: c.Combined,
			Used:  c.UsedInContext,
		})
	}
	return refs
}
