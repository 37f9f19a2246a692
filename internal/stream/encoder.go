// Package stream encodes the multiplexed turn output protocol: one
// text/plain byte stream carrying status, reasoning, content, and
// title events distinguished by a single-letter prefix.
package stream

import (
	"io"
	"net/http"
	"strings"
	"sync"
)

// Event prefixes. Consumers ignore tokens with no recognized prefix.
const (
	prefixStatus    = "s:"
	prefixReasoning = "t:"
	prefixContent   = "c:"
	prefixTitle     = "u:"
)

// paddingSize is the whitespace preamble written before real events to
// push intermediaries past their response-buffering threshold.
const paddingSize = 2048

// Encoder writes protocol tokens to an output stream in strict FIFO
// order. If the underlying writer implements http.Flusher, every token
// is flushed immediately so deltas reach the client as they happen.
//
// An Encoder is safe for use from a single goroutine per turn; the
// mutex only guards against the title write racing a late delta.
type Encoder struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
}

// NewEncoder wraps an output stream. Flushing is enabled when w also
// implements http.Flusher, as net/http response writers do.
func NewEncoder(w io.Writer) *Encoder {
	e := &Encoder{w: w}
	if f, ok := w.(http.Flusher); ok {
		e.flusher = f
	}
	return e
}

// Padding emits the anti-buffering whitespace preamble. Call once,
// before any real event.
func (e *Encoder) Padding() error {
	return e.emit(strings.Repeat(" ", paddingSize) + "\n")
}

// Status sets the client's status line. An empty text clears it.
func (e *Encoder) Status(text string) error {
	return e.emit(prefixStatus + text)
}

// ClearStatus removes the status line once real output begins.
func (e *Encoder) ClearStatus() error {
	return e.Status("")
}

// Reasoning appends a reasoning delta.
func (e *Encoder) Reasoning(text string) error {
	if text == "" {
		return nil
	}
	return e.emit(prefixReasoning + text)
}

// Content appends a content delta.
func (e *Encoder) Content(text string) error {
	if text == "" {
		return nil
	}
	return e.emit(prefixContent + text)
}

// Title announces the session title, at most once per turn, near the
// end of the stream.
func (e *Encoder) Title(text string) error {
	if text == "" {
		return nil
	}
	return e.emit(prefixTitle + text)
}

func (e *Encoder) emit(token string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := io.WriteString(e.w, token); err != nil {
		return err
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}
