package stream

import (
	"strings"
	"testing"
)

// flushRecorder captures each flushed write as one token, mirroring
// how chunked transfer delivers them to the client.
type flushRecorder struct {
	buf    strings.Builder
	tokens []string
}

func (r *flushRecorder) Write(p []byte) (int, error) {
	r.buf.Write(p)
	return len(p), nil
}

func (r *flushRecorder) Flush() {
	r.tokens = append(r.tokens, r.buf.String())
	r.buf.Reset()
}

func TestEncoderTokenOrder(t *testing.T) {
	rec := &flushRecorder{}
	e := NewEncoder(rec)

	if err := e.Status("Thinking..."); err != nil {
		t.Fatalf("Status: %v", err)
	}
	e.Reasoning("let me see")
	e.ClearStatus()
	e.Content("hello")
	e.Content(" world")
	e.Title("greeting")

	want := []string{
		"s:Thinking...",
		"t:let me see",
		"s:",
		"c:hello",
		"c: world",
		"u:greeting",
	}
	if len(rec.tokens) != len(want) {
		t.Fatalf("got %d tokens %q, want %d", len(rec.tokens), rec.tokens, len(want))
	}
	for i, tok := range want {
		if rec.tokens[i] != tok {
			t.Errorf("token %d = %q, want %q", i, rec.tokens[i], tok)
		}
	}
}

func TestEncoderSkipsEmptyDeltas(t *testing.T) {
	rec := &flushRecorder{}
	e := NewEncoder(rec)

	e.Reasoning("")
	e.Content("")
	e.Title("")

	if len(rec.tokens) != 0 {
		t.Errorf("empty deltas emitted tokens: %q", rec.tokens)
	}
}

func TestEncoderPadding(t *testing.T) {
	rec := &flushRecorder{}
	e := NewEncoder(rec)

	if err := e.Padding(); err != nil {
		t.Fatalf("Padding: %v", err)
	}
	if len(rec.tokens) != 1 {
		t.Fatalf("got %d tokens, want 1", len(rec.tokens))
	}
	tok := rec.tokens[0]
	if strings.TrimSpace(tok) != "" {
		t.Errorf("padding contains non-whitespace: %q", tok)
	}
	if len(tok) < 1024 {
		t.Errorf("padding too short to defeat proxy buffering: %d bytes", len(tok))
	}
}

func TestEncoderWorksWithoutFlusher(t *testing.T) {
	var sb strings.Builder
	e := NewEncoder(&sb)

	e.Status("working")
	e.Content("done")

	if got := sb.String(); got != "s:workingc:done" {
		t.Errorf("stream = %q", got)
	}
}
