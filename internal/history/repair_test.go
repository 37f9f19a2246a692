package history

import (
	"reflect"
	"testing"

	"github.com/omnimind-ai/omnimind/internal/llm"
)

func assistantWithCalls(ids ...string) llm.Message {
	m := llm.Message{Role: "assistant"}
	for _, id := range ids {
		m.ToolCalls = append(m.ToolCalls, llm.ToolCall{
			ID:       id,
			Type:     "function",
			Function: llm.FunctionCall{Name: "lookup", Arguments: "{}"},
		})
	}
	return m
}

func toolResult(id, content string) llm.Message {
	return llm.Message{Role: "tool", ToolCallID: id, Name: "lookup", Content: content}
}

func TestRepair(t *testing.T) {
	tests := []struct {
		name string
		in   []llm.Message
		want []llm.Message
	}{
		{
			name: "complete round kept",
			in: []llm.Message{
				llm.TextMessage("user", "hi"),
				assistantWithCalls("callA"),
				toolResult("callA", "ok"),
			},
			want: []llm.Message{
				llm.TextMessage("user", "hi"),
				assistantWithCalls("callA"),
				toolResult("callA", "ok"),
			},
		},
		{
			name: "unanswered call drops round and its user message",
			in: []llm.Message{
				llm.TextMessage("user", "hi"),
				assistantWithCalls("callA"),
			},
			want: []llm.Message{},
		},
		{
			name: "partially answered round drops everything scanned",
			in: []llm.Message{
				llm.TextMessage("user", "hi"),
				assistantWithCalls("callA", "callB"),
				toolResult("callA", "ok"),
			},
			want: []llm.Message{},
		},
		{
			name: "orphan tool message dropped",
			in: []llm.Message{
				toolResult("callX", "stale"),
				llm.TextMessage("user", "hi"),
			},
			want: []llm.Message{
				llm.TextMessage("user", "hi"),
			},
		},
		{
			name: "broken round in the middle preserves surroundings",
			in: []llm.Message{
				llm.TextMessage("user", "first"),
				llm.TextMessage("assistant", "sure"),
				llm.TextMessage("user", "do the thing"),
				assistantWithCalls("callA"),
				llm.TextMessage("user", "still there?"),
				llm.TextMessage("assistant", "yes"),
			},
			want: []llm.Message{
				llm.TextMessage("user", "first"),
				llm.TextMessage("assistant", "sure"),
				llm.TextMessage("user", "still there?"),
				llm.TextMessage("assistant", "yes"),
			},
		},
		{
			name: "multi-call round answered out of order kept",
			in: []llm.Message{
				llm.TextMessage("user", "hi"),
				assistantWithCalls("callA", "callB"),
				toolResult("callB", "two"),
				toolResult("callA", "one"),
			},
			want: []llm.Message{
				llm.TextMessage("user", "hi"),
				assistantWithCalls("callA", "callB"),
				toolResult("callB", "two"),
				toolResult("callA", "one"),
			},
		},
		{
			name: "plain assistant untouched",
			in: []llm.Message{
				llm.TextMessage("user", "hi"),
				llm.TextMessage("assistant", "hello"),
			},
			want: []llm.Message{
				llm.TextMessage("user", "hi"),
				llm.TextMessage("assistant", "hello"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Repair(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Repair() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRepairIdempotent(t *testing.T) {
	in := []llm.Message{
		toolResult("stale", "x"),
		llm.TextMessage("user", "hi"),
		assistantWithCalls("callA"),
		toolResult("callA", "ok"),
		llm.TextMessage("user", "next"),
		assistantWithCalls("callB"),
	}
	once := Repair(in)
	twice := Repair(once)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("Repair not idempotent:\nonce:  %+v\ntwice: %+v", once, twice)
	}
}
