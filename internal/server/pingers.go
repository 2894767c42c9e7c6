package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ragkit/ragkit-go/internal/rag"
)

// QdrantPinger probes the vector store through the retrieval gateway's
// native health check. It satisfies the Pinger interface and is used by
// GET /api/ready.
type QdrantPinger struct {
	// gateway is the retrieval gateway to probe.
	gateway *rag.QdrantGateway
}

// NewQdrantPinger constructs a QdrantPinger for the given gateway.
func NewQdrantPinger(gw *rag.QdrantGateway) *QdrantPinger {
	return &QdrantPinger{gateway: gw}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC through the gateway.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	if err := p.gateway.Ping(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// HTTPPinger probes an HTTP endpoint with a GET request. It is used for
// model backends that expose a cheap liveness URL (e.g. the Ollama root
// endpoint), avoiding token-consuming generate calls in readiness probes.
type HTTPPinger struct {
	// name identifies the backend in readiness responses (e.g. "ollama").
	name string
	// url is the endpoint to probe.
	url string
	// client is the HTTP client used for probes.
	client *http.Client
}

// NewHTTPPinger constructs an HTTPPinger for the given backend name and URL.
func NewHTTPPinger(name, url string) *HTTPPinger {
	return &HTTPPinger{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: probeTimeout},
	}
}

// Name returns the backend label used in readiness responses.
func (p *HTTPPinger) Name() string { return p.name }

// Ping issues a GET to the probe URL. Any response below 500 counts as
// reachable; auth failures still prove the backend is up.
func (p *HTTPPinger) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", p.url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("probe %s: status %d", p.url, resp.StatusCode)
	}
	return nil
}

var (
	_ Pinger = (*QdrantPinger)(nil)
	_ Pinger = (*HTTPPinger)(nil)
	_ Pinger = (*MultiPinger)(nil)
)
