package llm

import "sort"

// Accumulator reassembles streamed tool-call fragments into complete
// calls. Fragments are keyed by index; each fragment's id, function
// name, and arguments contribute by concatenation in arrival order.
// Fragment granularity is arbitrary: a whole call in one chunk and a
// character-at-a-time drip assemble identically.
type Accumulator struct {
	calls map[int]*ToolCall
}

// NewAccumulator creates an empty accumulator for one completion round.
func NewAccumulator() *Accumulator {
	return &Accumulator{calls: make(map[int]*ToolCall)}
}

// Add folds one fragment into the call at its index.
func (a *Accumulator) Add(chunk ToolCallChunk) {
	tc, ok := a.calls[chunk.Index]
	if !ok {
		tc = &ToolCall{Type: "function"}
		a.calls[chunk.Index] = tc
	}
	tc.ID += chunk.ID
	tc.Function.Name += chunk.Function.Name
	tc.Function.Arguments += chunk.Function.Arguments
}

// Empty reports whether no fragments have arrived.
func (a *Accumulator) Empty() bool {
	return len(a.calls) == 0
}

// Calls returns the assembled tool calls ordered by index.
func (a *Accumulator) Calls() []ToolCall {
	indexes := make([]int, 0, len(a.calls))
	for i := range a.calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	out := make([]ToolCall, 0, len(indexes))
	for _, i := range indexes {
		out = append(out, *a.calls[i])
	}
	return out
}
