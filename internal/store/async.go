package store

import (
	"context"
	"log/slog"
	"time"
)

// writeTimeout bounds a single queued write so a wedged database cannot
// stall the drain goroutine forever.
const writeTimeout = 5 * time.Second

// defaultQueueSize is how many pending writes the queue buffers before
// Enqueue starts dropping.
const defaultQueueSize = 256

// pendingWrite is one queued Append.
type pendingWrite struct {
	sessionID string
	msg       Message
}

// AsyncWriter drains session writes on a background goroutine so persistence
// never blocks or fails a chat response. Failed or dropped writes are logged
// at Warn and otherwise forgotten.
type AsyncWriter struct {
	store SessionStore
	log   *slog.Logger
	queue chan pendingWrite
	done  chan struct{}
}

// NewAsyncWriter starts the drain goroutine over the given store.
func NewAsyncWriter(store SessionStore, log *slog.Logger) *AsyncWriter {
	w := &AsyncWriter{
		store: store,
		log:   log,
		queue: make(chan pendingWrite, defaultQueueSize),
		done:  make(chan struct{}),
	}
	go w.drain()
	return w
}

// Enqueue queues one message for persistence. It never blocks: if the queue
// is full the write is dropped with a warning.
func (w *AsyncWriter) Enqueue(sessionID string, msg Message) {
	select {
	case w.queue <- pendingWrite{sessionID: sessionID, msg: msg}:
	default:
		w.log.Warn("store: write queue full, dropping message",
			slog.String("session_id", sessionID),
			slog.String("role", string(msg.Role)))
	}
}

// Close stops accepting writes, flushes everything already queued, and waits
// for the drain goroutine to exit.
func (w *AsyncWriter) Close() {
	close(w.queue)
	<-w.done
}

// Recent reads the last n messages of a session, oldest first. Reads go
// straight to the store; only writes are queued.
func (w *AsyncWriter) Recent(ctx context.Context, sessionID string, n int) ([]Message, error) {
	return w.store.Recent(ctx, sessionID, n)
}

// drain processes queued writes until the queue is closed.
func (w *AsyncWriter) drain() {
	defer close(w.done)
	for p := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := w.store.Append(ctx, p.sessionID, p.msg); err != nil {
			w.log.Warn("store: session write failed",
				slog.String("session_id", p.sessionID),
				slog.String("role", string(p.msg.Role)),
				slog.Any("error", err))
		}
		cancel()
	}
}
