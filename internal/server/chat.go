package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ragkit/ragkit-go/internal/chat"
	"github.com/ragkit/ragkit-go/internal/logging"
	"github.com/ragkit/ragkit-go/internal/rag"
	"github.com/ragkit/ragkit-go/internal/store"
)

// handleChat handles POST /api/chat. It validates the conversation, selects
// the wire format from flags.structuredStream, and streams the answer:
// NDJSON events (delta* then exactly one sources_final) or plain text with a
// trailing attribution block. When a sessionId is supplied, stored history is
// replayed into the conversation before retrieval and the new turns are
// persisted asynchronously after the stream completes.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Messages) == 0 {
		http.Error(w, "messages is required", http.StatusBadRequest)
		return
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != string(chat.RoleUser) || strings.TrimSpace(last.Content) == "" {
		http.Error(w, "last message must be a non-empty user message", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	var em chat.Emitter
	if req.Flags.StructuredStream {
		w.Header().Set("Content-Type", "application/x-ndjson")
		em = chat.NewNDJSONEmitter(w, flusher)
	} else {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		em = chat.NewPlainEmitter(w, flusher)
	}
	w.Header().Set("Cache-Control", "no-cache")

	turns := toTurns(req.Messages)
	// A session request carrying only the current question gets its history
	// from the store; a client that sends its own history keeps it. Read
	// failures degrade to an ephemeral session.
	if req.SessionID != "" && s.sessions != nil && len(turns) == 1 {
		if prior, err := s.sessions.Recent(r.Context(), req.SessionID, sessionHistoryLimit); err != nil {
			log.Warn("chat: could not load session history",
				slog.String("session_id", req.SessionID),
				slog.Any("error", err),
			)
		} else {
			turns = append(priorTurns(prior), turns...)
		}
	}

	creq := chat.Request{
		Turns:           turns,
		TopK:            req.TopK,
		SimilarityFloor: req.SimilarityThreshold,
		Flags: rag.Flags{
			HyDE:         req.Flags.HyDE,
			CRAG:         req.Flags.CRAG,
			Hybrid:       req.Flags.Hybrid,
			MMR:          req.Flags.MMR,
			CrossEncoder: req.Flags.CrossEncoder,
		},
		SystemPrompt:    req.SystemPrompt,
		UseSystemPrompt: req.Flags.UseSystemPrompt,
	}

	s.metrics.chatActiveStreams.Inc()
	start := time.Now()

	outcome, err := s.coordinator.Answer(r.Context(), creq, em)

	s.metrics.chatActiveStreams.Dec()
	result := outcomeLabel(r.Context(), err)
	s.metrics.chatRequestsTotal.WithLabelValues(result).Inc()
	s.metrics.chatDurationSeconds.WithLabelValues(result).Observe(time.Since(start).Seconds())

	if err != nil {
		// Errors and cancellations were already reported in-band (or the
		// client is gone); headers are committed, so just log.
		log.Warn("chat: stream ended without completion",
			slog.String("result", result),
			slog.Any("error", err),
		)
		return
	}

	if req.SessionID != "" && s.sessions != nil {
		s.persist(req.SessionID, last.Content, outcome, log)
	}
}

// persist queues the final user turn and the generated answer for background
// session storage. Encoding failures degrade to a warning.
func (s *Server) persist(sessionID, question string, outcome *chat.Outcome, log *slog.Logger) {
	s.sessions.Enqueue(sessionID, store.Message{
		Role:    store.RoleUser,
		Content: question,
	})

	sources, err := store.EncodeSources(outcome.Final.Sources)
	if err != nil {
		log.Warn("chat: could not encode sources for persistence", slog.Any("error", err))
		sources = ""
	}
	s.sessions.Enqueue(sessionID, store.Message{
		Role:    store.RoleAssistant,
		Content: outcome.Answer,
		Sources: sources,
	})
}

// sessionHistoryLimit caps how many stored turns are replayed into a
// session request's conversation.
const sessionHistoryLimit = 10

// priorTurns converts stored session messages into coordinator turns.
func priorTurns(msgs []store.Message) []chat.Turn {
	turns := make([]chat.Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, chat.Turn{Role: chat.Role(m.Role), Content: m.Content})
	}
	return turns
}

// toTurns converts the wire messages into coordinator turns.
func toTurns(msgs []chatMessage) []chat.Turn {
	turns := make([]chat.Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, chat.Turn{Role: chat.Role(m.Role), Content: m.Content})
	}
	return turns
}

// outcomeLabel classifies how a chat request ended for metrics.
func outcomeLabel(ctx context.Context, err error) string {
	switch {
	case err == nil:
		return "ok"
	case ctx.Err() != nil:
		return "canceled"
	case errors.Is(err, chat.ErrGeneration):
		return "error"
	default:
		return "error"
	}
}
