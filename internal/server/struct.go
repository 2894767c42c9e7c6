package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ragkit/ragkit-go/internal/chat"
	"github.com/ragkit/ragkit-go/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// AllowedOrigins lists browser origins permitted to call the API. An
	// empty list allows any origin; a request bearing an Origin header not in
	// a non-empty list is rejected with 403 before any work is done.
	AllowedOrigins []string
	// Registry receives the server's Prometheus metrics. If nil, a fresh
	// registry is created (and served by GET /metrics).
	Registry *prometheus.Registry
	// Sessions is the async session writer for chat persistence. May be nil
	// to disable persistence.
	Sessions *store.AsyncWriter
}

// answerer is the interface handleChat calls to stream a response.
// *chat.Coordinator satisfies it; tests inject a fake.
type answerer interface {
	// Answer streams the generated answer through em and terminates the
	// stream with source attribution.
	Answer(ctx context.Context, req chat.Request, em chat.Emitter) (*chat.Outcome, error)
}

// Server is the HTTP server that exposes the question-answering API.
type Server struct {
	// coordinator streams answers for /api/chat.
	coordinator answerer
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus instruments owned by this server.
	metrics *serverMetrics
	// registry is the Prometheus registry served by GET /metrics.
	registry *prometheus.Registry
	// sessions is the async session writer; nil disables persistence.
	sessions *store.AsyncWriter
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// chatFlags is the feature-toggle object in the /api/chat request body. The
// retrieval toggles are forwarded to the pipeline; structuredStream and
// useSystemPrompt are consumed by the handler itself.
type chatFlags struct {
	// HyDE enables hypothetical-document query expansion.
	HyDE bool `json:"hyde"`
	// CRAG enables the corrective retrieve-judge-refine cycle.
	CRAG bool `json:"crag"`
	// Hybrid switches scoring to the hybrid weight profile.
	Hybrid bool `json:"hybrid"`
	// MMR enables the diversity rerank of the selected set.
	MMR bool `json:"mmr"`
	// CrossEncoder enables the best-effort LLM rerank.
	CrossEncoder bool `json:"crossEncoder"`
	// StructuredStream selects the NDJSON event stream over plain text.
	StructuredStream bool `json:"structuredStream"`
	// UseSystemPrompt gates the systemPrompt override in the request body.
	UseSystemPrompt bool `json:"useSystemPrompt"`
}

// chatMessage is one conversation turn in the /api/chat request body.
type chatMessage struct {
	// Role is "user" or "assistant".
	Role string `json:"role"`
	// Content is the text of the turn.
	Content string `json:"content"`
}

// chatRequest is the JSON body for POST /api/chat.
type chatRequest struct {
	// SessionID optionally names the session for best-effort persistence.
	SessionID string `json:"sessionId,omitempty"`
	// Messages is the ordered conversation; the last turn must be the
	// user's current question.
	Messages []chatMessage `json:"messages"`
	// TopK is the per-channel retrieval limit (0 = server default).
	TopK int `json:"topK,omitempty"`
	// SimilarityThreshold is the caller's minimum raw similarity score.
	SimilarityThreshold float64 `json:"similarityThreshold,omitempty"`
	// Flags are the per-request feature toggles.
	Flags chatFlags `json:"flags"`
	// SystemPrompt overrides the default system prompt when
	// flags.useSystemPrompt is set.
	SystemPrompt string `json:"systemPrompt,omitempty"`
}
