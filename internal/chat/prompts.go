package chat

import (
	"fmt"

	"github.com/cloudwego/eino/schema"
)

// defaultSystemPrompt frames the assistant when the caller does not supply
// an override.
const defaultSystemPrompt = "You are a helpful assistant. Answer the user's question accurately " +
	"and concisely. When reference passages are provided, ground your answer in them and do not " +
	"invent details they do not support."

// ragPromptSingle wraps the retrieved context and the question for a
// single-turn answer.
const ragPromptSingle = `Use the following reference passages to answer the question.

Reference passages:
%s

Question: %s`

// ragPromptConversational additionally situates the question in an ongoing
// conversation; the prior turns travel as real messages, not inlined text.
const ragPromptConversational = `Use the following reference passages to answer the user's latest question, taking the conversation so far into account.

Reference passages:
%s

Latest question: %s`

// buildMessages constructs the final message slice for generation.
// Prompt selection:
//   - non-empty context + history → conversation-aware RAG prompt
//   - non-empty context, no history → single-turn RAG prompt
//   - empty context → plain conversational prompt
//
// history is already windowed/summarised and budget-trimmed by the caller.
func buildMessages(system, context, question string, history []*schema.Message) []*schema.Message {
	msgs := make([]*schema.Message, 0, len(history)+2)
	msgs = append(msgs, schema.SystemMessage(system))
	msgs = append(msgs, history...)

	switch {
	case context != "" && len(history) > 0:
		msgs = append(msgs, schema.UserMessage(fmt.Sprintf(ragPromptConversational, context, question)))
	case context != "":
		msgs = append(msgs, schema.UserMessage(fmt.Sprintf(ragPromptSingle, context, question)))
	default:
		msgs = append(msgs, schema.UserMessage(question))
	}
	return msgs
}
