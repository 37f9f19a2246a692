package history

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/omnimind-ai/omnimind/internal/llm"
	"github.com/omnimind-ai/omnimind/internal/prompts"
)

const (
	// maxSummaryInputMessages bounds how many pre-tail messages feed the
	// summarization prompt.
	maxSummaryInputMessages = 50

	// maxMessageChars truncates each message before inclusion in the
	// summarization prompt.
	maxMessageChars = 200

	// maxSummaryChars caps the stored summary text.
	maxSummaryChars = 500

	// placeholderSummary stands in when summarization fails. Compression
	// must never abort the turn.
	placeholderSummary = "(earlier conversation unavailable)"
)

// UnlimitedRecent is the sentinel for "no limit on recent context".
// Under compression it is clamped to the configured default, since an
// unlimited tail is incompatible with bounding context size.
const UnlimitedRecent = -1

// Summarizer condenses a message sequence into a short text.
type Summarizer interface {
	Summarize(ctx context.Context, msgs []llm.Message) (string, error)
}

// SummaryStore caches one summary string per session.
type SummaryStore interface {
	GetHistorySummary(sessionID string) (string, error)
	SaveHistorySummary(sessionID, summary string) error
}

// Config bounds the working context assembled per turn.
type Config struct {
	// TokenThreshold triggers compression when Estimate exceeds it.
	TokenThreshold int
	// RecentDefault replaces UnlimitedRecent under compression.
	RecentDefault int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TokenThreshold: 4096,
		RecentDefault:  20,
	}
}

// Compressor produces a bounded-size working history (summary + recent
// tail) from an oversized one.
type Compressor struct {
	config     Config
	summarizer Summarizer
	store      SummaryStore
	logger     *slog.Logger
}

// NewCompressor creates a compressor. store may be nil in tests; the
// summary cache is then disabled.
func NewCompressor(cfg Config, summarizer Summarizer, store SummaryStore, logger *slog.Logger) *Compressor {
	if cfg.TokenThreshold <= 0 {
		cfg.TokenThreshold = DefaultConfig().TokenThreshold
	}
	if cfg.RecentDefault <= 0 {
		cfg.RecentDefault = DefaultConfig().RecentDefault
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Compressor{
		config:     cfg,
		summarizer: summarizer,
		store:      store,
		logger:     logger.With("component", "compressor"),
	}
}

// NeedsCompression reports whether the history exceeds the token budget.
func (c *Compressor) NeedsCompression(msgs []llm.Message) bool {
	return Estimate(msgs) > c.config.TokenThreshold
}

// Compress returns the working history for a turn. Histories within
// budget pass through unchanged. Oversized histories are reduced to a
// synthetic assistant message carrying a summary of the discarded
// prefix, followed by the most recent `recent` messages.
//
// recent follows the request semantics: UnlimitedRecent clamps to the
// configured default, zero and other negatives keep no tail. Summaries
// are reused from the session cache when present; a failed
// summarization substitutes a fixed placeholder and never aborts.
func (c *Compressor) Compress(ctx context.Context, sessionID string, msgs []llm.Message, recent int) []llm.Message {
	if !c.NeedsCompression(msgs) {
		return msgs
	}

	keep := recent
	if keep == UnlimitedRecent {
		keep = c.config.RecentDefault
	} else if keep < 0 {
		keep = 0
	}
	if keep > len(msgs) {
		keep = len(msgs)
	}

	tail := msgs[len(msgs)-keep:]
	head := msgs[:len(msgs)-keep]

	summary := c.summarize(ctx, sessionID, head)

	out := make([]llm.Message, 0, len(tail)+1)
	out = append(out, llm.TextMessage("assistant", formatSummaryMessage(summary)))
	out = append(out, tail...)

	c.logger.Info("history compressed",
		"session", sessionID,
		"before_messages", len(msgs),
		"after_messages", len(out),
		"before_tokens", Estimate(msgs),
		"after_tokens", Estimate(out),
	)
	return out
}

// summarize resolves the summary for the discarded prefix: cached value
// first, then a fresh summarization persisted to the cache, then the
// placeholder.
func (c *Compressor) summarize(ctx context.Context, sessionID string, head []llm.Message) string {
	if c.store != nil {
		cached, err := c.store.GetHistorySummary(sessionID)
		if err != nil {
			c.logger.Warn("summary cache read failed", "session", sessionID, "error", err)
		} else if cached != "" {
			return cached
		}
	}

	if len(head) > maxSummaryInputMessages {
		head = head[len(head)-maxSummaryInputMessages:]
	}

	condensed := make([]llm.Message, len(head))
	for i, m := range head {
		condensed[i] = llm.TextMessage(m.Role, truncateRunes(m.Text(), maxMessageChars))
	}

	summary, err := c.summarizer.Summarize(ctx, condensed)
	if err != nil {
		c.logger.Warn("summarization failed, using placeholder",
			"session", sessionID, "error", err)
		return placeholderSummary
	}
	summary = truncateRunes(strings.TrimSpace(summary), maxSummaryChars)

	if c.store != nil {
		if err := c.store.SaveHistorySummary(sessionID, summary); err != nil {
			c.logger.Warn("summary cache write failed", "session", sessionID, "error", err)
		}
	}
	return summary
}

// formatSummaryMessage frames the summary as the synthetic assistant
// message that replaces the discarded prefix.
func formatSummaryMessage(summary string) string {
	return fmt.Sprintf("[Conversation Summary]\n%s", summary)
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}

// LLMSummarizer generates summaries via a completion call.
type LLMSummarizer struct {
	llmFunc func(ctx context.Context, prompt string) (string, error)
}

// NewLLMSummarizer creates a summarizer backed by a completion call.
// The llmFunc receives the fully built prompt and returns summary text.
func NewLLMSummarizer(llmFunc func(ctx context.Context, prompt string) (string, error)) *LLMSummarizer {
	return &LLMSummarizer{llmFunc: llmFunc}
}

// Summarize renders the conversation as role-prefixed lines and asks
// the model to condense it.
func (s *LLMSummarizer) Summarize(ctx context.Context, msgs []llm.Message) (string, error) {
	var sb strings.Builder
	for _, m := range msgs {
		text := m.Text()
		if text == "" {
			continue
		}
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return s.llmFunc(ctx, prompts.Summary(sb.String()))
}
