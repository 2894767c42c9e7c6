package store

import (
	"context"
	"testing"
)

// openTestStore opens an in-memory SQLiteStore for use in tests.
func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func Test_Store_AppendAndRecent(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, "sess-a", Message{Role: RoleUser, Content: "hello"}); err != nil {
		t.Fatalf("append user: %v", err)
	}
	if err := s.Append(ctx, "sess-a", Message{
		Role:    RoleAssistant,
		Content: "world",
		Sources: `[{"id":"doc-1","score":0.9,"used":true}]`,
	}); err != nil {
		t.Fatalf("append assistant: %v", err)
	}

	msgs, err := s.Recent(ctx, "sess-a", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("want 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[0].Content != "hello" {
		t.Errorf("msg[0]: want user/hello, got %s/%s", msgs[0].Role, msgs[0].Content)
	}
	if msgs[1].Role != RoleAssistant || msgs[1].Sources == "" {
		t.Errorf("msg[1]: assistant sources not persisted: %+v", msgs[1])
	}
}

func Test_Store_SessionsIsolated(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, "sess-a", Message{Role: RoleUser, Content: "a"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(ctx, "sess-b", Message{Role: RoleUser, Content: "b"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	msgs, err := s.Recent(ctx, "sess-a", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "a" {
		t.Errorf("session leakage: %+v", msgs)
	}
}

func Test_Store_RecentLimitRespected(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for i := range 6 {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		if err := s.Append(ctx, "sess-c", Message{Role: role, Content: "msg"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	msgs, err := s.Recent(ctx, "sess-c", 4)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 4 {
		t.Errorf("want 4 messages, got %d", len(msgs))
	}
}

func Test_Store_RecentEmptySession(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	msgs, err := s.Recent(context.Background(), "nope", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("want no messages, got %d", len(msgs))
	}
}

func Test_Store_InvalidRoleRejected(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	if err := s.Append(context.Background(), "sess-d", Message{Role: "robot", Content: "x"}); err == nil {
		t.Error("schema CHECK must reject unknown roles")
	}
}

func Test_EncodeSources(t *testing.T) {
	t.Parallel()

	if got, err := EncodeSources(nil); err != nil || got != "" {
		t.Errorf("nil: want empty, got %q err %v", got, err)
	}
	got, err := EncodeSources(map[string]int{"n": 1})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if got != `{"n":1}` {
		t.Errorf("encode: got %q", got)
	}
}
