package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Client wraps a ChatModel with the two call shapes the rest of the system
// needs: a blocking single-shot Generate for expansion sub-calls and a
// token Stream for answer generation.
type Client struct {
	// model is the eino chat model constructed by the backend factory.
	model model.ChatModel //nolint:staticcheck // SA1019: model.ChatModel deprecated upstream; migration tracked separately
}

// NewClient wraps the given chat model.
func NewClient(m model.ChatModel) (*Client, error) { //nolint:staticcheck // SA1019: model.ChatModel deprecated upstream; migration tracked separately
	if m == nil {
		return nil, fmt.Errorf("llm: chat model must not be nil")
	}
	return &Client{model: m}, nil
}

// Generate sends a single-turn request and returns the model's full text
// response, trimmed. system may be empty.
func (c *Client) Generate(ctx context.Context, system, prompt string) (string, error) {
	var msgs []*schema.Message
	if system != "" {
		msgs = append(msgs, schema.SystemMessage(system))
	}
	msgs = append(msgs, schema.UserMessage(prompt))

	resp, err := c.model.Generate(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("llm: generate failed: %w", err)
	}
	if resp == nil {
		return "", fmt.Errorf("llm: generate returned nil response")
	}
	return strings.TrimSpace(resp.Content), nil
}

// Stream starts a streaming completion for the given message list. The
// caller owns the returned reader and must Close it.
func (c *Client) Stream(ctx context.Context, msgs []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
	sr, err := c.model.Stream(ctx, msgs)
	if err != nil {
		return nil, fmt.Errorf("llm: stream failed: %w", err)
	}
	return sr, nil
}
