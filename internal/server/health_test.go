package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

// fakePinger implements Pinger with a fixed result.
type fakePinger struct {
	name string
	err  error
}

func (f *fakePinger) Ping(_ context.Context) error { return f.err }
func (f *fakePinger) Name() string                 { return f.name }

func newHealthTestServer(pingers ...Pinger) *Server {
	return &Server{
		cfg:     &Config{Port: 8080},
		log:     slog.Default(),
		pingers: pingers,
	}
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()

	s := newHealthTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()

	s.handleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status: got %q, want ok", body["status"])
	}
	if _, ok := body["version"]; !ok {
		t.Error("version missing from health response")
	}
}

func TestHandleReady_AllHealthy(t *testing.T) {
	t.Parallel()

	s := newHealthTestServer(
		&fakePinger{name: "qdrant"},
		&fakePinger{name: "model"},
	)
	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	w := httptest.NewRecorder()

	s.handleReady(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp readyResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if !resp.Ready {
		t.Error("expected ready=true")
	}
	if len(resp.Checks) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(resp.Checks))
	}
	for _, c := range resp.Checks {
		if !c.OK {
			t.Errorf("check %s: expected ok", c.Name)
		}
	}
}

func TestHandleReady_DependencyDown(t *testing.T) {
	t.Parallel()

	s := newHealthTestServer(
		&fakePinger{name: "qdrant"},
		&fakePinger{name: "model", err: errors.New("connection refused")},
	)
	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	w := httptest.NewRecorder()

	s.handleReady(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	var resp readyResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if resp.Ready {
		t.Error("expected ready=false")
	}
	var failed *readyCheck
	for i := range resp.Checks {
		if resp.Checks[i].Name == "model" {
			failed = &resp.Checks[i]
		}
	}
	if failed == nil || failed.OK {
		t.Fatalf("expected failing model check, got %+v", resp.Checks)
	}
	if failed.Error == "" {
		t.Error("expected error detail on failing check")
	}
}

func TestHandleReady_NoPingers(t *testing.T) {
	t.Parallel()

	s := newHealthTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	w := httptest.NewRecorder()

	s.handleReady(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200 in liveness-only mode, got %d", w.Code)
	}
}

func TestMultiPinger_FirstErrorWins(t *testing.T) {
	t.Parallel()

	mp := NewMultiPinger(
		&fakePinger{name: "a"},
		&fakePinger{name: "b", err: errors.New("down")},
		&fakePinger{name: "c", err: errors.New("also down")},
	)

	err := mp.Ping(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); got != "b: down" {
		t.Errorf("error: got %q, want %q", got, "b: down")
	}
}

func TestMultiPinger_AllHealthy(t *testing.T) {
	t.Parallel()

	mp := NewMultiPinger(&fakePinger{name: "a"}, &fakePinger{name: "b"})
	if err := mp.Ping(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
