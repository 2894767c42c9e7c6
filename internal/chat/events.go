// Package chat implements the answer streaming coordinator: it turns one
// submitted conversation into a retrieval run, a prompt, a streamed
// generation, and a terminal source-attribution payload. The internal event
// sequence (deltas followed by one final sources event) is format-agnostic;
// two serializers render it onto the wire.
package chat

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ragkit/ragkit-go/internal/rag"
)

// Event type tags used by the structured wire format.
const (
	eventDelta        = "delta"
	eventSourcesFinal = "sources_final"
	eventError        = "error"
)

// SourceRef is one attributed retrieval candidate in the terminal event.
// Every post-expansion, pre-filter candidate appears exactly once.
type SourceRef struct {
	// ID is the candidate's source identity.
	ID string `json:"id"`
	// Score is the composite relevance score the candidate received.
	Score float64 `json:"score"`
	// Used is true iff the candidate's text entered the assembled context
	// by passing the dynamic filter (fallback inclusions stay false).
	Used bool `json:"used"`
}

// SourcesFinal is the terminal attribution payload of a successful stream.
type SourcesFinal struct {
	// Sources lists every retrieved candidate with its usage flag.
	Sources []SourceRef `json:"sources"`
	// TopKUsed is the per-channel retrieval limit that was applied.
	TopKUsed int `json:"topKUsed"`
	// ThresholdUsed is the relative acceptance cutoff that was applied.
	ThresholdUsed float64 `json:"thresholdUsed"`
	// Flags echoes the retrieval feature toggles of the request.
	Flags rag.Flags `json:"flags"`
}

// Emitter renders the internal event sequence onto a wire format. A
// successful stream sees zero or more Delta calls followed by exactly one
// Final call; an aborted stream sees neither Final nor Error.
type Emitter interface {
	// Delta emits one incremental text chunk.
	Delta(text string) error
	// Final emits the terminal source-attribution payload.
	Final(sf SourcesFinal) error
	// Error emits a terminal in-band error indicator.
	Error(msg string) error
}

// ndjsonEmitter renders events as newline-delimited tagged JSON objects.
type ndjsonEmitter struct {
	// w is the underlying writer.
	w io.Writer
	// flusher pushes each line to the client immediately; may be nil.
	flusher http.Flusher
}

// NewNDJSONEmitter constructs the structured-mode emitter. flusher may be nil
// when the writer does not support incremental flushing.
func NewNDJSONEmitter(w io.Writer, flusher http.Flusher) Emitter {
	return &ndjsonEmitter{w: w, flusher: flusher}
}

func (e *ndjsonEmitter) Delta(text string) error {
	return e.writeLine(struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{eventDelta, text})
}

func (e *ndjsonEmitter) Final(sf SourcesFinal) error {
	return e.writeLine(struct {
		Type string `json:"type"`
		SourcesFinal
	}{eventSourcesFinal, sf})
}

func (e *ndjsonEmitter) Error(msg string) error {
	return e.writeLine(struct {
		Type  string `json:"type"`
		Error string `json:"error"`
	}{eventError, msg})
}

// writeLine marshals v onto one line and flushes.
func (e *ndjsonEmitter) writeLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("chat: marshal event: %w", err)
	}
	if _, err := e.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("chat: write event: %w", err)
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}

// plainEmitter renders deltas as raw text chunks and, when at least one
// source was retrieved, a single trailing JSON metadata block separated by a
// blank line. This is the backward-compatible wire format.
type plainEmitter struct {
	// w is the underlying writer.
	w io.Writer
	// flusher pushes each chunk to the client immediately; may be nil.
	flusher http.Flusher
}

// NewPlainEmitter constructs the compatibility-mode emitter.
func NewPlainEmitter(w io.Writer, flusher http.Flusher) Emitter {
	return &plainEmitter{w: w, flusher: flusher}
}

func (e *plainEmitter) Delta(text string) error {
	if _, err := io.WriteString(e.w, text); err != nil {
		return fmt.Errorf("chat: write chunk: %w", err)
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}

func (e *plainEmitter) Final(sf SourcesFinal) error {
	// The trailing metadata block appears iff at least one source was
	// retrieved; a context-free answer stays plain text end to end.
	if len(sf.Sources) == 0 {
		return nil
	}
	data, err := json.Marshal(sf)
	if err != nil {
		return fmt.Errorf("chat: marshal metadata block: %w", err)
	}
	if _, err := fmt.Fprintf(e.w, "\n\n%s", data); err != nil {
		return fmt.Errorf("chat: write metadata block: %w", err)
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}

func (e *plainEmitter) Error(msg string) error {
	if _, err := fmt.Fprintf(e.w, "\n\nERROR: %s", msg); err != nil {
		return fmt.Errorf("chat: write error indicator: %w", err)
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}
