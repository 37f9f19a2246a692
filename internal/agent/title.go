package agent

import (
	"context"
	"strings"

	"github.com/omnimind-ai/omnimind/internal/llm"
	"github.com/omnimind-ai/omnimind/internal/prompts"
)

const (
	titleMaxTokens     = 64
	titleAnswerPreview = 200
)

// maybeSetTitle generates a session title from the turn's exchange
// once, on the first titled-less turn, using the fast model. Failures
// are logged and swallowed; the turn already succeeded.
func (o *Orchestrator) maybeSetTitle(ctx context.Context, req Request, answer string, out Emitter) {
	existing, err := o.store.GetSessionTitle(req.SessionID)
	if err != nil {
		o.logger.Warn("title lookup failed", "session", req.SessionID, "error", err)
		return
	}
	if existing != "" {
		return
	}

	preview := answer
	if runes := []rune(preview); len(runes) > titleAnswerPreview {
		preview = string(runes[:titleAnswerPreview])
	}

	resp, err := o.fast.Chat(ctx, []llm.Message{
		llm.TextMessage("user", prompts.Title(req.Message, preview)),
	}, llm.ChatOptions{
		MaxTokens:       titleMaxTokens,
		Temperature:     standardTemperature,
		DisableThinking: true,
	})
	if err != nil {
		o.logger.Warn("title generation failed", "session", req.SessionID, "error", err)
		return
	}

	title := strings.TrimSpace(strings.Trim(strings.TrimSpace(resp.Message.Text()), `"“”`))
	if title == "" {
		return
	}

	if err := o.store.SetSessionTitle(req.SessionID, title); err != nil {
		o.logger.Warn("title save failed", "session", req.SessionID, "error", err)
		return
	}
	_ = out.Title(title)
	o.logger.Debug("session titled", "session", req.SessionID, "title", title)
}
