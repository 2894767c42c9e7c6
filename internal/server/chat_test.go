package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ragkit/ragkit-go/internal/chat"
	"github.com/ragkit/ragkit-go/internal/store"
)

// ---------------------------------------------------------------------------
// Fake answerer for chat handler tests
// ---------------------------------------------------------------------------

// fakeAnswerer implements the answerer interface for tests. It emits the
// configured deltas and final payload through the emitter, mirroring the
// coordinator's event sequence.
type fakeAnswerer struct {
	// deltas are emitted in order before the terminal event.
	deltas []string
	// final is the terminal attribution payload.
	final chat.SourcesFinal
	// err, when set, is reported in-band and returned instead of an outcome.
	err error
	// gotReq records the request the handler built.
	gotReq chat.Request
}

func (f *fakeAnswerer) Answer(_ context.Context, req chat.Request, em chat.Emitter) (*chat.Outcome, error) {
	f.gotReq = req
	if f.err != nil {
		_ = em.Error(f.err.Error())
		return nil, f.err
	}
	var answer strings.Builder
	for _, d := range f.deltas {
		if err := em.Delta(d); err != nil {
			return nil, err
		}
		answer.WriteString(d)
	}
	if err := em.Final(f.final); err != nil {
		return nil, err
	}
	return &chat.Outcome{Answer: answer.String(), Final: f.final}, nil
}

// newChatTestServer builds a *Server wired with the given answerer fake.
func newChatTestServer(a answerer) *Server {
	return &Server{
		coordinator: a,
		cfg:         &Config{Port: 8080},
		log:         slog.Default(),
		metrics:     newServerMetrics(prometheus.NewRegistry()),
	}
}

// ---------------------------------------------------------------------------
// POST /api/chat — validation error paths (no coordinator needed)
// ---------------------------------------------------------------------------

func TestHandleChat_InvalidJSON(t *testing.T) {
	t.Parallel()

	s := newChatTestServer(nil)
	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`not-json`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	s.handleChat(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHandleChat_MissingMessages(t *testing.T) {
	t.Parallel()

	s := newChatTestServer(nil)
	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"messages":[]}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	s.handleChat(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHandleChat_LastTurnNotUser(t *testing.T) {
	t.Parallel()

	s := newChatTestServer(nil)
	body := `{"messages":[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	s.handleChat(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHandleChat_BlankQuestion(t *testing.T) {
	t.Parallel()

	s := newChatTestServer(nil)
	body := `{"messages":[{"role":"user","content":"   "}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	s.handleChat(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// POST /api/chat — happy path, both wire formats
// ---------------------------------------------------------------------------

func TestHandleChat_PlainStream(t *testing.T) {
	t.Parallel()

	fake := &fakeAnswerer{
		deltas: []string{"The SLA ", "is 99.9%."},
		final: chat.SourcesFinal{
			Sources:       []chat.SourceRef{{ID: "doc-1", Score: 0.9, Used: true}},
			TopKUsed:      5,
			ThresholdUsed: 0.765,
		},
	}
	s := newChatTestServer(fake)

	body := `{"messages":[{"role":"user","content":"What is the SLA?"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	s.handleChat(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type: got %q, want text/plain", ct)
	}

	out := w.Body.String()
	if !strings.HasPrefix(out, "The SLA is 99.9%.") {
		t.Errorf("answer text missing from response: %q", out)
	}

	// The attribution block follows the answer after a blank line.
	idx := strings.Index(out, "\n\n")
	if idx < 0 {
		t.Fatalf("expected trailing metadata block, got %q", out)
	}
	var block chat.SourcesFinal
	if err := json.Unmarshal([]byte(out[idx+2:]), &block); err != nil {
		t.Fatalf("metadata block is not valid JSON: %v", err)
	}
	if len(block.Sources) != 1 || block.Sources[0].ID != "doc-1" {
		t.Errorf("unexpected sources in metadata block: %+v", block.Sources)
	}
}

func TestHandleChat_StructuredStream(t *testing.T) {
	t.Parallel()

	fake := &fakeAnswerer{
		deltas: []string{"chunk-1", "chunk-2"},
		final: chat.SourcesFinal{
			Sources:  []chat.SourceRef{{ID: "doc-1", Score: 0.8, Used: true}},
			TopKUsed: 5,
		},
	}
	s := newChatTestServer(fake)

	body := `{"messages":[{"role":"user","content":"hi"}],"flags":{"structuredStream":true}}`
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	s.handleChat(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("Content-Type: got %q, want application/x-ndjson", ct)
	}

	var types []string
	sc := bufio.NewScanner(strings.NewReader(w.Body.String()))
	for sc.Scan() {
		var ev struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("line is not valid JSON: %q: %v", sc.Text(), err)
		}
		types = append(types, ev.Type)
	}
	want := []string{"delta", "delta", "sources_final"}
	if len(types) != len(want) {
		t.Fatalf("event types: got %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event %d: got %q, want %q", i, types[i], want[i])
		}
	}
}

func TestHandleChat_ForwardsFlagsAndOverrides(t *testing.T) {
	t.Parallel()

	fake := &fakeAnswerer{final: chat.SourcesFinal{}}
	s := newChatTestServer(fake)

	body := `{
		"messages":[{"role":"assistant","content":"earlier"},{"role":"user","content":"next"}],
		"topK": 7,
		"similarityThreshold": 0.25,
		"systemPrompt": "You are terse.",
		"flags":{"hyde":true,"crag":true,"hybrid":true,"mmr":true,"crossEncoder":true,"useSystemPrompt":true}
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	s.handleChat(w, req)

	got := fake.gotReq
	if len(got.Turns) != 2 || got.Turns[1].Content != "next" {
		t.Errorf("turns not forwarded: %+v", got.Turns)
	}
	if got.TopK != 7 {
		t.Errorf("TopK: got %d, want 7", got.TopK)
	}
	if got.SimilarityFloor != 0.25 {
		t.Errorf("SimilarityFloor: got %v, want 0.25", got.SimilarityFloor)
	}
	if !got.Flags.HyDE || !got.Flags.CRAG || !got.Flags.Hybrid || !got.Flags.MMR || !got.Flags.CrossEncoder {
		t.Errorf("retrieval flags not forwarded: %+v", got.Flags)
	}
	if !got.UseSystemPrompt || got.SystemPrompt != "You are terse." {
		t.Errorf("system prompt override not forwarded: %+v", got)
	}
}

func TestHandleChat_GenerationError(t *testing.T) {
	t.Parallel()

	fake := &fakeAnswerer{err: errors.New("model unreachable")}
	s := newChatTestServer(fake)

	body := `{"messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	s.handleChat(w, req)

	// Headers are committed before generation starts, so the status stays 200
	// and the failure is reported in-band.
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "ERROR: model unreachable") {
		t.Errorf("expected in-band error indicator, got %q", w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// POST /api/chat — session persistence
// ---------------------------------------------------------------------------

func TestHandleChat_PersistsSession(t *testing.T) {
	t.Parallel()

	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()
	writer := store.NewAsyncWriter(st, slog.Default())

	fake := &fakeAnswerer{
		deltas: []string{"persisted answer"},
		final: chat.SourcesFinal{
			Sources: []chat.SourceRef{{ID: "doc-1", Score: 0.9, Used: true}},
		},
	}
	s := newChatTestServer(fake)
	s.sessions = writer

	body := `{"sessionId":"sess-42","messages":[{"role":"user","content":"remember me"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	s.handleChat(w, req)

	// Close flushes the queue so the writes are visible.
	writer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msgs, err := st.Recent(ctx, "sess-42", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 persisted messages, got %d", len(msgs))
	}
	if msgs[0].Role != store.RoleUser || msgs[0].Content != "remember me" {
		t.Errorf("user turn: %+v", msgs[0])
	}
	if msgs[1].Role != store.RoleAssistant || msgs[1].Content != "persisted answer" {
		t.Errorf("assistant turn: %+v", msgs[1])
	}
	if !strings.Contains(msgs[1].Sources, "doc-1") {
		t.Errorf("assistant sources not persisted: %q", msgs[1].Sources)
	}
}

func TestHandleChat_ReplaysSessionHistory(t *testing.T) {
	t.Parallel()

	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	seed := []store.Message{
		{Role: store.RoleUser, Content: "what is the SLA?"},
		{Role: store.RoleAssistant, Content: "99.9% monthly."},
	}
	for _, m := range seed {
		if err := st.Append(ctx, "sess-7", m); err != nil {
			t.Fatalf("seed append: %v", err)
		}
	}
	writer := store.NewAsyncWriter(st, slog.Default())
	defer writer.Close()

	fake := &fakeAnswerer{deltas: []string{"ok"}, final: chat.SourcesFinal{}}
	s := newChatTestServer(fake)
	s.sessions = writer

	body := `{"sessionId":"sess-7","messages":[{"role":"user","content":"and the penalty?"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	s.handleChat(w, req)

	got := fake.gotReq.Turns
	if len(got) != 3 {
		t.Fatalf("expected 3 turns (2 replayed + question), got %d: %+v", len(got), got)
	}
	if got[0].Content != "what is the SLA?" || got[1].Content != "99.9% monthly." {
		t.Errorf("history not replayed in order: %+v", got)
	}
	if got[2].Content != "and the penalty?" {
		t.Errorf("question must stay last: %+v", got)
	}
}

func TestHandleChat_ClientHistoryWinsOverStore(t *testing.T) {
	t.Parallel()

	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := st.Append(ctx, "sess-8", store.Message{Role: store.RoleUser, Content: "stored turn"}); err != nil {
		t.Fatalf("seed append: %v", err)
	}
	writer := store.NewAsyncWriter(st, slog.Default())
	defer writer.Close()

	fake := &fakeAnswerer{deltas: []string{"ok"}, final: chat.SourcesFinal{}}
	s := newChatTestServer(fake)
	s.sessions = writer

	// Multi-turn body: the client supplied its own history.
	body := `{"sessionId":"sess-8","messages":[
		{"role":"user","content":"client turn"},
		{"role":"assistant","content":"client answer"},
		{"role":"user","content":"next"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	s.handleChat(w, req)

	got := fake.gotReq.Turns
	if len(got) != 3 || got[0].Content != "client turn" {
		t.Errorf("client-supplied history should be used verbatim: %+v", got)
	}
}

func TestHandleChat_NoSessionIDSkipsPersistence(t *testing.T) {
	t.Parallel()

	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()
	writer := store.NewAsyncWriter(st, slog.Default())

	fake := &fakeAnswerer{deltas: []string{"ok"}, final: chat.SourcesFinal{}}
	s := newChatTestServer(fake)
	s.sessions = writer

	body := `{"messages":[{"role":"user","content":"no session"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	s.handleChat(w, req)
	writer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msgs, err := st.Recent(ctx, "", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected no persisted messages, got %d", len(msgs))
	}
}

// ---------------------------------------------------------------------------
// outcomeLabel
// ---------------------------------------------------------------------------

func TestOutcomeLabel(t *testing.T) {
	t.Parallel()

	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name string
		ctx  context.Context
		err  error
		want string
	}{
		{"success", context.Background(), nil, "ok"},
		{"canceled", canceled, context.Canceled, "canceled"},
		{"generation", context.Background(), chat.ErrGeneration, "error"},
		{"other", context.Background(), errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		if got := outcomeLabel(tt.ctx, tt.err); got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, got, tt.want)
		}
	}
}
