// Package agent implements the turn orchestrator: the loop that takes
// one user message through context retrieval, completion rounds, tool
// execution, and persistence, streaming deltas as it goes.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/omnimind-ai/omnimind/internal/history"
	"github.com/omnimind-ai/omnimind/internal/llm"
	"github.com/omnimind-ai/omnimind/internal/prompts"
	"github.com/omnimind-ai/omnimind/internal/store"
	"github.com/omnimind-ai/omnimind/internal/tools"
)

const (
	// maxIterations caps tool-calling rounds per turn. A model that
	// keeps requesting tools stops here, never loops forever.
	maxIterations = 10

	maxOutputTokens = 32768

	// Reasoning mode runs hotter; plain generation favors determinism.
	reasoningTemperature = 1.0
	standardTemperature  = 0.6

	historyFetchLimit = 100
)

const (
	statusThinking   = "思考中..."
	statusGenerating = "生成中..."
)

// Request is one turn's input.
type Request struct {
	Message            string
	Image              string // inline data URL, optional
	SessionID          string
	UserID             string
	Reasoning          bool
	UseMemory          bool
	RecentContextCount int
}

// Completer is the completion provider surface the orchestrator needs.
// Implemented by llm.Client.
type Completer interface {
	Model() string
	Chat(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (*llm.ChatResponse, error)
	ChatStream(ctx context.Context, messages []llm.Message, opts llm.ChatOptions, callback llm.StreamCallback) (*llm.ChatResponse, error)
}

// Store is the persistence surface the orchestrator needs. Implemented
// by store.Store.
type Store interface {
	EnsureSession(sessionID, userID string) error
	GetHistory(sessionID string, limit int) ([]llm.Message, error)
	SaveUserMessage(sessionID, userID, content string) error
	SaveAssistantMessage(sessionID, userID, content, thought string, toolCalls []llm.ToolCall) error
	SaveToolMessage(sessionID, userID, callID, name, result string) error
	ListHardRules(userID string) ([]store.HardRule, error)
	GetSessionTitle(sessionID string) (string, error)
	SetSessionTitle(sessionID, title string) error
}

// Memory is the long-term memory surface. May be nil when no memory
// service is configured.
type Memory interface {
	Search(ctx context.Context, query, userID, runID string) ([]string, error)
	Add(ctx context.Context, content, userID, runID string) error
}

// ToolExecutor supplies the tool catalog and runs calls. Implemented
// by tools.Registry.
type ToolExecutor interface {
	Catalog(ctx context.Context) []map[string]any
	Execute(ctx context.Context, name, argsJSON string) (string, error)
}

// Emitter receives the turn's output events. Implemented by
// stream.Encoder.
type Emitter interface {
	Status(text string) error
	ClearStatus() error
	Reasoning(text string) error
	Content(text string) error
	Title(text string) error
}

// Orchestrator drives one conversational turn end to end.
type Orchestrator struct {
	advanced   Completer
	fast       Completer
	store      Store
	memory     Memory
	tools      ToolExecutor
	compressor *history.Compressor
	logger     *slog.Logger
}

// New creates an orchestrator. fast handles background completions
// (titles); pass the advanced client again if no fast model is
// configured. memory may be nil.
func New(advanced, fast Completer, st Store, mem Memory, exec ToolExecutor, comp *history.Compressor, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		advanced:   advanced,
		fast:       fast,
		store:      st,
		memory:     mem,
		tools:      exec,
		compressor: comp,
		logger:     logger.With("component", "orchestrator"),
	}
}

// Run executes one turn. All failures surface on the output stream;
// the stream always ends cleanly.
func (o *Orchestrator) Run(ctx context.Context, req Request, out Emitter) {
	if err := o.runTurn(ctx, req, out); err != nil {
		o.logger.Error("turn failed",
			"session", req.SessionID, "user", req.UserID, "error", err)
		_ = out.Content(fmt.Sprintf("\n[Backend Error: %v]\n", err))
	}
}

func (o *Orchestrator) runTurn(ctx context.Context, req Request, out Emitter) error {
	ctx = tools.WithScope(ctx, tools.Scope{UserID: req.UserID, SessionID: req.SessionID})

	if err := o.store.EnsureSession(req.SessionID, req.UserID); err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}

	systemPrompt := o.buildSystemPrompt(ctx, req)
	working, err := o.retrieveContext(ctx, req)
	if err != nil {
		return err
	}

	current := make([]llm.Message, 0, len(working)+2)
	current = append(current, llm.TextMessage("system", systemPrompt))
	current = append(current, working...)
	current = append(current, userMessage(req))

	if err := o.store.SaveUserMessage(req.SessionID, req.UserID, storedUserText(req)); err != nil {
		return fmt.Errorf("save user message: %w", err)
	}

	catalog := o.tools.Catalog(ctx)

	o.logger.Info("turn started",
		"session", req.SessionID,
		"context_messages", len(current),
		"tools", len(catalog),
		"reasoning", req.Reasoning,
	)

	for iteration := 1; iteration <= maxIterations; iteration++ {
		msg, err := o.completeRound(ctx, req, current, catalog, out)
		if err != nil {
			return fmt.Errorf("completion round %d: %w", iteration, err)
		}

		if len(msg.ToolCalls) == 0 {
			return o.finishTurn(ctx, req, msg, out)
		}

		current = o.runToolRound(ctx, req, current, msg, out)
	}

	// Cap reached: whatever streamed so far stands as the answer.
	o.logger.Warn("iteration cap reached", "session", req.SessionID, "cap", maxIterations)
	return nil
}

// buildSystemPrompt assembles hard rules and retrieved memories. Both
// degrade to absence on failure; a turn never dies on prompt garnish.
func (o *Orchestrator) buildSystemPrompt(ctx context.Context, req Request) string {
	var ruleTexts []string
	rules, err := o.store.ListHardRules(req.UserID)
	if err != nil {
		o.logger.Warn("loading hard rules failed", "user", req.UserID, "error", err)
	}
	for _, r := range rules {
		ruleTexts = append(ruleTexts, r.Content)
	}

	var memBlock string
	if req.UseMemory && o.memory != nil {
		memories, err := o.memory.Search(ctx, req.Message, req.UserID, req.SessionID)
		if err != nil {
			o.logger.Warn("memory search failed", "session", req.SessionID, "error", err)
		} else if len(memories) > 0 {
			var sb strings.Builder
			for _, m := range memories {
				sb.WriteString("- ")
				sb.WriteString(m)
				sb.WriteString("\n")
			}
			memBlock = sb.String()
		}
	}

	return prompts.System(ruleTexts, memBlock)
}

// retrieveContext loads, repairs, and (when oversized) compresses the
// stored history into the turn's working context.
func (o *Orchestrator) retrieveContext(ctx context.Context, req Request) ([]llm.Message, error) {
	raw, err := o.store.GetHistory(req.SessionID, historyFetchLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	repaired := history.Repair(raw)
	if len(repaired) != len(raw) {
		o.logger.Info("history repaired",
			"session", req.SessionID, "dropped", len(raw)-len(repaired))
	}
	return o.compressor.Compress(ctx, req.SessionID, repaired, req.RecentContextCount), nil
}

// completeRound issues one streaming completion, routing deltas to the
// emitter, and returns the assembled message.
func (o *Orchestrator) completeRound(ctx context.Context, req Request, current []llm.Message, catalog []map[string]any, out Emitter) (llm.Message, error) {
	status := statusGenerating
	temperature := standardTemperature
	if req.Reasoning {
		status = statusThinking
		temperature = reasoningTemperature
	}
	_ = out.Status(status)

	opts := llm.ChatOptions{
		Tools:           catalog,
		MaxTokens:       maxOutputTokens,
		Temperature:     temperature,
		DisableThinking: !req.Reasoning,
	}

	statusCleared := false
	clearOnce := func() {
		if !statusCleared {
			statusCleared = true
			_ = out.ClearStatus()
		}
	}

	resp, err := o.advanced.ChatStream(ctx, sanitizeForRequest(current), opts, func(ev llm.StreamEvent) {
		switch ev.Kind {
		case llm.KindReasoning:
			clearOnce()
			_ = out.Reasoning(ev.Token)
		case llm.KindContent:
			clearOnce()
			_ = out.Content(ev.Token)
		}
	})
	if err != nil {
		return llm.Message{}, err
	}
	return resp.Message, nil
}

// runToolRound persists the assistant's tool request, executes each
// call, persists results, and returns the extended working context.
// Tool failures become tool results, never turn failures.
func (o *Orchestrator) runToolRound(ctx context.Context, req Request, current []llm.Message, msg llm.Message, out Emitter) []llm.Message {
	names := make([]string, len(msg.ToolCalls))
	for i, tc := range msg.ToolCalls {
		names[i] = tc.Function.Name
	}
	_ = out.Status(fmt.Sprintf("📌 正在执行: %s...", strings.Join(names, ", ")))

	thought := msg.ReasoningContent
	if thought == "" {
		thought = "Analyzing..."
	}
	if err := o.store.SaveAssistantMessage(req.SessionID, req.UserID, msg.Text(), thought, msg.ToolCalls); err != nil {
		o.logger.Warn("saving assistant tool round failed", "session", req.SessionID, "error", err)
	}
	current = append(current, msg)

	for _, tc := range msg.ToolCalls {
		result := o.executeCall(ctx, tc, out)

		if err := o.store.SaveToolMessage(req.SessionID, req.UserID, tc.ID, tc.Function.Name, result); err != nil {
			o.logger.Warn("saving tool result failed", "session", req.SessionID, "error", err)
		}
		current = append(current, llm.Message{
			Role:       "tool",
			Content:    result,
			ToolCallID: tc.ID,
			Name:       tc.Function.Name,
		})
	}
	return current
}

// executeCall validates and runs one tool call, reporting failures as
// a content-delta error event and returning them as the result text.
func (o *Orchestrator) executeCall(ctx context.Context, tc llm.ToolCall, out Emitter) string {
	var args map[string]any
	if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
		o.logger.Warn("tool arguments unparseable",
			"tool", tc.Function.Name, "error", err)
		_ = out.Content(fmt.Sprintf("\n[Tool Error: invalid arguments for %s: %v]\n", tc.Function.Name, err))
		return fmt.Sprintf("Error: invalid arguments: %v", err)
	}

	result, err := o.tools.Execute(ctx, tc.Function.Name, tc.Function.Arguments)
	if err != nil {
		o.logger.Warn("tool execution failed",
			"tool", tc.Function.Name, "error", err)
		_ = out.Content(fmt.Sprintf("\n[Tool Error: %v]\n", err))
		return fmt.Sprintf("Error: %v", err)
	}

	o.logger.Debug("tool executed", "tool", tc.Function.Name, "result_len", len(result))
	return result
}

// finishTurn persists the final answer, writes the memory record, and
// synthesizes a session title.
func (o *Orchestrator) finishTurn(ctx context.Context, req Request, msg llm.Message, out Emitter) error {
	answer := msg.Text()
	if err := o.store.SaveAssistantMessage(req.SessionID, req.UserID, answer, msg.ReasoningContent, nil); err != nil {
		return fmt.Errorf("save final answer: %w", err)
	}

	if req.UseMemory && o.memory != nil {
		record := fmt.Sprintf("User: %s\nAssistant: %s", req.Message, answer)
		if err := o.memory.Add(ctx, record, req.UserID, req.SessionID); err != nil {
			o.logger.Warn("memory write failed", "session", req.SessionID, "error", err)
		}
	}

	o.maybeSetTitle(ctx, req, answer, out)

	o.logger.Info("turn completed",
		"session", req.SessionID, "answer_len", len(answer))
	return nil
}

// sanitizeForRequest re-serializes the working context into the strict
// shape the provider requires: assistant content is null when the
// message carries only tool calls, and reasoning text is always
// present on assistant messages so replayed rounds stay coherent.
func sanitizeForRequest(msgs []llm.Message) []llm.Message {
	out := make([]llm.Message, len(msgs))
	for i, m := range msgs {
		clean := m
		if m.Role == "assistant" {
			hasTools := len(m.ToolCalls) > 0
			if m.Text() == "" {
				if hasTools {
					clean.Content = nil
				} else {
					clean.Content = ""
				}
			}
			if clean.ReasoningContent == "" {
				if hasTools {
					clean.ReasoningContent = "Thought process restored."
				} else {
					clean.ReasoningContent = "Thinking..."
				}
			}
		}
		out[i] = clean
	}
	return out
}

// userMessage builds the turn's user message, multimodal when an image
// reference rides along.
func userMessage(req Request) llm.Message {
	if req.Image == "" {
		return llm.TextMessage("user", req.Message)
	}
	text := req.Message
	if text == "" {
		text = "描述图片"
	}
	return llm.Message{
		Role: "user",
		Content: []llm.ContentPart{
			{Type: "image_url", ImageURL: &llm.ImageURL{URL: req.Image}},
			{Type: "text", Text: text},
		},
	}
}

// storedUserText is what lands in the history row; image turns are
// marked so the stored transcript stays plain text.
func storedUserText(req Request) string {
	if req.Image != "" {
		return "[Image] " + req.Message
	}
	return req.Message
}
