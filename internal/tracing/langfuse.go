// Package tracing wires the optional Langfuse callback handler into the
// eino model call path so every generation, expansion, and judgment call
// is traced end to end.
package tracing

import (
	"os"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"
)

// defaultHost is the Langfuse endpoint used when LANGFUSE_HOST is unset,
// matching a local docker-compose deployment.
const defaultHost = "http://localhost:3000"

// Setup builds the Langfuse callback handler from LANGFUSE_PUBLIC_KEY,
// LANGFUSE_SECRET_KEY, and LANGFUSE_HOST. The third return value reports
// whether tracing is active; when either key is missing it is false and
// tracing stays off without any log noise. The flush function must run
// before process exit so buffered traces are delivered.
func Setup() (callbacks.Handler, func(), bool) {
	cfg := langfuse.Config{
		Host:      os.Getenv("LANGFUSE_HOST"),
		PublicKey: os.Getenv("LANGFUSE_PUBLIC_KEY"),
		SecretKey: os.Getenv("LANGFUSE_SECRET_KEY"),
	}
	if cfg.PublicKey == "" || cfg.SecretKey == "" {
		return nil, nil, false
	}
	if cfg.Host == "" {
		cfg.Host = defaultHost
	}

	handler, flush := langfuse.NewLangfuseHandler(&cfg)
	return handler, flush, true
}
