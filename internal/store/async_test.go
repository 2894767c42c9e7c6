package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
)

// failingStore counts Append calls and optionally fails them.
type failingStore struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *failingStore) Append(_ context.Context, _ string, _ Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *failingStore) Recent(_ context.Context, _ string, _ int) ([]Message, error) {
	return nil, nil
}

func (f *failingStore) Close() error { return nil }

func (f *failingStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func Test_AsyncWriter_FlushesOnClose(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	w := NewAsyncWriter(s, slog.Default())

	w.Enqueue("sess-a", Message{Role: RoleUser, Content: "q"})
	w.Enqueue("sess-a", Message{Role: RoleAssistant, Content: "a"})
	w.Close()

	msgs, err := s.Recent(context.Background(), "sess-a", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("queued writes not flushed: got %d messages", len(msgs))
	}
}

func Test_AsyncWriter_WriteFailuresAreAbsorbed(t *testing.T) {
	t.Parallel()

	fs := &failingStore{err: errors.New("disk full")}
	w := NewAsyncWriter(fs, slog.Default())

	// None of these may panic or block the caller.
	for range 5 {
		w.Enqueue("sess-a", Message{Role: RoleUser, Content: "q"})
	}
	w.Close()

	if fs.callCount() != 5 {
		t.Errorf("want 5 attempted writes, got %d", fs.callCount())
	}
}

func Test_AsyncWriter_FullQueueDropsInsteadOfBlocking(t *testing.T) {
	t.Parallel()

	// A store that blocks forever would wedge a synchronous writer; the
	// async queue must drop overflow and return immediately.
	blocked := make(chan struct{})
	bs := &blockingStore{release: blocked}
	w := NewAsyncWriter(bs, slog.Default())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range defaultQueueSize + 50 {
			w.Enqueue("sess-a", Message{Role: RoleUser, Content: "q"})
		}
	}()

	// The producer must finish even though the store never returns: overflow
	// is dropped, not queued behind the stuck write.
	<-done
	close(blocked)
	w.Close()
}

// blockingStore blocks every Append until release is closed.
type blockingStore struct {
	release chan struct{}
}

func (b *blockingStore) Append(_ context.Context, _ string, _ Message) error {
	<-b.release
	return nil
}

func (b *blockingStore) Recent(_ context.Context, _ string, _ int) ([]Message, error) {
	return nil, nil
}

func (b *blockingStore) Close() error { return nil }
