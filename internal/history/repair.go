package history

import "github.com/omnimind-ai/omnimind/internal/llm"

// Repair returns a message sequence safe to submit to the completion
// provider, which rejects tool messages whose tool_call_id has no
// matching assistant-issued call and assistant tool calls that are
// never answered.
//
// A single forward scan enforces the structure:
//   - An assistant message with tool calls must be followed by a
//     contiguous run of tool messages answering exactly its call ids.
//     If so, the whole group is kept.
//   - Otherwise the assistant message and the scanned tool scraps are
//     dropped, along with the immediately preceding kept user message:
//     the question that triggered the broken round (typically a crash
//     mid-turn) must not dangle unanswered.
//   - A tool message that does not follow a matching assistant message
//     is an orphan scrap and is dropped unconditionally.
//
// Repair is idempotent: its output passes through unchanged.
func Repair(msgs []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))

	for i := 0; i < len(msgs); {
		m := msgs[i]

		if m.Role == "assistant" && len(m.ToolCalls) > 0 {
			required := make(map[string]bool, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				required[tc.ID] = true
			}

			// Consume the contiguous tool run that follows.
			j := i + 1
			found := make(map[string]bool)
			for j < len(msgs) && msgs[j].Role == "tool" {
				found[msgs[j].ToolCallID] = true
				j++
			}

			if setsEqual(required, found) {
				out = append(out, msgs[i:j]...)
			} else if len(out) > 0 && out[len(out)-1].Role == "user" {
				out = out[:len(out)-1]
			}
			i = j
			continue
		}

		if m.Role == "tool" {
			// Orphan scrap: not consumed by an assistant group above.
			i++
			continue
		}

		out = append(out, m)
		i++
	}

	return out
}

func setsEqual(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}
