package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/ragkit/ragkit-go/internal/budget"
	"github.com/ragkit/ragkit-go/internal/chat"
	"github.com/ragkit/ragkit-go/internal/logging"
	"github.com/ragkit/ragkit-go/internal/server"
	"github.com/ragkit/ragkit-go/internal/store"
	"github.com/ragkit/ragkit-go/internal/tracing"
)

// NewServeCmd constructs the `ragkit serve` command, which starts the HTTP
// server exposing the streaming question-answering API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ragkit HTTP server",
		Long: `Start the ragkit HTTP server.

The server exposes POST /api/chat (streaming answers with source
attribution), GET /api/health, GET /api/ready, and GET /metrics.

Examples:
  ragkit serve
  ragkit serve --port 9090
  MODEL_PROVIDER=azure ragkit serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			// Setup Langfuse tracing — opt-in, no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			registry := prometheus.NewRegistry()
			registry.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			stk, err := buildStack(ctx, log, registry)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer stk.close()

			coordinator, err := chat.New(&chat.Config{
				Pipeline:         stk.pipeline,
				Streamer:         stk.llm,
				Generator:        stk.llm,
				MaxContextTokens: getEnvInt("RAG_MAX_CONTEXT_TOKENS", budget.DefaultMaxContextTokens),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to initialise coordinator: %w", err)
			}

			// Open the session store. RAGKIT_SESSIONS_DB overrides the
			// default path (~/.ragkit/sessions.db); "disabled" turns it off.
			var sessions *store.AsyncWriter
			dbPath := os.Getenv("RAGKIT_SESSIONS_DB")
			if dbPath != "disabled" {
				if dbPath == "" {
					dbPath, err = store.DefaultDBPath()
					if err != nil {
						log.Warn("sessions: could not resolve default DB path, disabling", slog.Any("error", err))
					}
				}
				if dbPath != "" {
					ss, ssErr := store.Open(dbPath)
					if ssErr != nil {
						log.Warn("sessions: failed to open store, disabling", slog.Any("error", ssErr))
					} else {
						sessions = store.NewAsyncWriter(ss, log)
						defer func() {
							sessions.Close()
							_ = ss.Close()
						}()
						log.Info("sessions: store opened", slog.String("path", dbPath))
					}
				}
			} else {
				log.Info("sessions: disabled via RAGKIT_SESSIONS_DB=disabled")
			}

			pingers := []server.Pinger{server.NewQdrantPinger(stk.gateway)}
			if os.Getenv("MODEL_PROVIDER") == "" || os.Getenv("MODEL_PROVIDER") == "ollama" {
				pingers = append(pingers, server.NewHTTPPinger("ollama",
					getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434")))
			}

			srv, err := server.New(coordinator, &server.Config{
				Host:           host,
				Port:           port,
				Logger:         log,
				Pingers:        pingers,
				RateLimit:      float64(getEnvInt("SERVER_RATE_LIMIT", 0)),
				RateBurst:      getEnvInt("SERVER_RATE_BURST", 0),
				APIKey:         os.Getenv("RAGKIT_API_KEY"),
				AllowedOrigins: splitOrigins(os.Getenv("SERVER_ALLOWED_ORIGINS")),
				Registry:       registry,
				Sessions:       sessions,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", getEnvOrDefault("SERVER_HOST", "127.0.0.1"), "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", getEnvInt("SERVER_PORT", 8080), "TCP port to listen on")

	return cmd
}

// splitOrigins parses the comma-separated allowed-origins list, dropping
// empty entries.
func splitOrigins(s string) []string {
	if s == "" {
		return nil
	}
	var origins []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
