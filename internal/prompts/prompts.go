// Package prompts centralizes the prompt templates sent to the
// completion provider. Keeping them in one place makes the agent's
// instructions reviewable without digging through control flow.
package prompts

import (
	"fmt"
	"strings"
)

// basePersona is the assistant's standing identity and capabilities.
const basePersona = `你是 OmniMind，一个具备长效记忆能力的人工智能助手。
You are OmniMind, an AI assistant with long-term memory. Answer in the
language the user writes in. Use tools when the user asks you to do or
look up something specific; answer directly otherwise.`

// System builds the per-turn system prompt from the session's hard
// rules and the memories retrieved for this message. Hard rules carry
// top priority; memories are background facts the model may draw on.
func System(hardRules []string, memories string) string {
	var sb strings.Builder
	sb.WriteString(basePersona)

	if len(hardRules) > 0 {
		sb.WriteString("\n\n## Hard Rules (must always be followed)\n")
		for _, r := range hardRules {
			sb.WriteString("- ")
			sb.WriteString(r)
			sb.WriteString("\n")
		}
	}

	if memories != "" {
		sb.WriteString("\n\n## Background Facts\n")
		sb.WriteString(memories)
	}

	return sb.String()
}

// summaryTemplate condenses a conversation prefix during history
// compression. The single format verb is the conversation text.
const summaryTemplate = `Summarize this conversation concisely. Focus on:
1. Key topics discussed
2. Decisions made or preferences expressed
3. Facts about the user worth remembering

Keep the summary under 500 characters. Respond with the summary only.

Conversation:
%s

Summary:`

// Summary returns the fully interpolated history-summarization prompt.
func Summary(conversationText string) string {
	return fmt.Sprintf(summaryTemplate, conversationText)
}

// titleTemplate asks for a session title from the opening exchange.
const titleTemplate = `Give this conversation a short title in the language of the conversation, at most 20 characters. Respond with the title only, without quotes or surrounding punctuation.

User: %s
Assistant: %s

Title:`

// Title returns the session-title prompt for the turn's exchange.
func Title(userText, assistantText string) string {
	return fmt.Sprintf(titleTemplate, userText, assistantText)
}
