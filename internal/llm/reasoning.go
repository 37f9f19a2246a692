package llm

import "encoding/json"

// reasoningKeys lists the delta fields that may carry reasoning text,
// in probe order. Provider versions disagree on the field name:
// Moonshot and DeepSeek emit reasoning_content, some OpenRouter-fronted
// models emit reasoning, and a few local runtimes emit thought.
var reasoningKeys = []string{"reasoning_content", "reasoning", "thought"}

// ExtractReasoning probes a raw delta record for reasoning text. The
// first key that holds a non-empty string wins; non-string values and
// absent keys are skipped.
func ExtractReasoning(raw map[string]json.RawMessage) string {
	for _, key := range reasoningKeys {
		v, ok := raw[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			continue
		}
		if s != "" {
			return s
		}
	}
	return ""
}
