package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ragkit/ragkit-go/internal/embedder"
	"github.com/ragkit/ragkit-go/internal/llm"
	"github.com/ragkit/ragkit-go/internal/pipeline"
	"github.com/ragkit/ragkit-go/internal/rag"
)

// qdrantConfigFromEnv resolves the vector store connection from environment
// variables. QDRANT_HOST and QDRANT_COLLECTION are the only ones most
// deployments need to set.
func qdrantConfigFromEnv() *rag.QdrantConfig {
	port := 0
	if v := os.Getenv("QDRANT_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			port = n
		}
	}
	return &rag.QdrantConfig{
		Host:       os.Getenv("QDRANT_HOST"),
		Port:       port,
		Collection: getEnvOrDefault("QDRANT_COLLECTION", "documents"),
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     os.Getenv("QDRANT_TLS") == "true",
	}
}

// stack bundles the components shared by the ask and serve commands.
type stack struct {
	// llm is the streaming chat client.
	llm *llm.Client
	// gateway is the vector store search gateway.
	gateway *rag.QdrantGateway
	// pipeline is the retrieval pipeline.
	pipeline *pipeline.Pipeline
}

// close releases the stack's connections.
func (s *stack) close() {
	if s.gateway != nil {
		_ = s.gateway.Close()
	}
}

// buildStack wires the model provider, embedder, vector gateway, and
// retrieval pipeline from the environment. Missing credentials or an absent
// collection surface here as startup errors, before any request is served.
// metrics may be nil to skip instrument registration (e.g. in `ask`).
func buildStack(ctx context.Context, log *slog.Logger, reg *prometheus.Registry) (*stack, error) {
	modelCfg := llm.ConfigFromEnv()
	chatModel, err := llm.New(ctx, modelCfg)
	if err != nil {
		return nil, fmt.Errorf("initialise model provider: %w", err)
	}
	client, err := llm.NewClient(chatModel)
	if err != nil {
		return nil, fmt.Errorf("initialise chat client: %w", err)
	}
	log.Info("model provider initialised", slog.String("provider", string(modelCfg.Backend)))

	if err := embedder.ValidateForRetrieval(log); err != nil {
		return nil, fmt.Errorf("embedding configuration: %w", err)
	}
	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, fmt.Errorf("initialise embedder: %w", err)
	}

	gateway, err := rag.NewQdrantGateway(ctx, qdrantConfigFromEnv())
	if err != nil {
		return nil, fmt.Errorf("connect to qdrant: %w", err)
	}

	var metrics *pipeline.Metrics
	if reg != nil {
		metrics = pipeline.NewMetrics(reg)
	}

	pipe, err := pipeline.New(&pipeline.Config{
		Gateway:     gateway,
		Embedder:    emb,
		Generator:   client,
		DefaultTopK: getEnvInt("RAG_TOP_K", 5),
		Metrics:     metrics,
	})
	if err != nil {
		_ = gateway.Close()
		return nil, fmt.Errorf("initialise pipeline: %w", err)
	}

	return &stack{llm: client, gateway: gateway, pipeline: pipe}, nil
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt parses the named environment variable as an int, or returns
// fallback when unset or malformed.
func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
