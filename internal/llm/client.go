package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/omnimind-ai/omnimind/internal/config"
	"github.com/omnimind-ai/omnimind/internal/httpkit"
)

// Client talks to one OpenAI-compatible chat-completions endpoint.
type Client struct {
	model      string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a completion client for a configured model endpoint.
func NewClient(cfg config.ModelConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	// Completion endpoints can take significant time before sending
	// headers (long prompts, server-side thinking). Use a transport with
	// a generous response header timeout and no overall client timeout;
	// ctx deadlines control streaming lifetime.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	return &Client{
		model:   cfg.Name,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		logger:  logger.With("provider", "openai", "model", cfg.Name),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
		),
	}
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// ChatOptions tune a single completion request.
type ChatOptions struct {
	Tools           []map[string]any
	MaxTokens       int
	Temperature     float64
	DisableThinking bool
}

// Wire types.

type chatRequest struct {
	Model       string           `json:"model"`
	Messages    []Message        `json:"messages"`
	Stream      bool             `json:"stream"`
	Tools       []map[string]any `json:"tools,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature float64          `json:"temperature"`
	Thinking    *thinkingOption  `json:"thinking,omitempty"`
}

type thinkingOption struct {
	Type string `json:"type"`
}

type chatCompletion struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      json.RawMessage `json:"message"`
		FinishReason string          `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

type chatChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta        json.RawMessage `json:"delta"`
		FinishReason *string         `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

// chunkDelta is the typed portion of a streamed delta. Reasoning text is
// probed separately from the raw record because providers disagree on
// its field name (see ExtractReasoning).
type chunkDelta struct {
	Content   string          `json:"content"`
	ToolCalls []ToolCallChunk `json:"tool_calls"`
}

// Chat sends a non-streaming completion request. Used for background
// work (history summaries, session titles) where deltas are not needed.
func (c *Client) Chat(ctx context.Context, messages []Message, opts ChatOptions) (*ChatResponse, error) {
	body, err := c.send(ctx, messages, opts, false)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var completion chatCompletion
	if err := json.NewDecoder(body).Decode(&completion); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("completion returned no choices")
	}

	raw := completion.Choices[0].Message
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if msg.ReasoningContent == "" {
		var rawMap map[string]json.RawMessage
		if err := json.Unmarshal(raw, &rawMap); err == nil {
			msg.ReasoningContent = ExtractReasoning(rawMap)
		}
	}

	resp := &ChatResponse{
		Model:   completion.Model,
		Message: msg,
		Usage:   completion.Usage,
	}

	c.logger.Debug("completion received",
		"content_len", len(resp.Message.Text()),
		"tool_calls", len(resp.Message.ToolCalls),
		"total_tokens", resp.Usage.TotalTokens,
	)
	return resp, nil
}

// ChatStream sends a streaming completion request, delivering reasoning
// tokens, content tokens, and tool-call fragments to callback in arrival
// order. The returned response carries the fully assembled message.
func (c *Client) ChatStream(ctx context.Context, messages []Message, opts ChatOptions, callback StreamCallback) (*ChatResponse, error) {
	body, err := c.send(ctx, messages, opts, true)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	scanner := bufio.NewScanner(body)
	// Increase scanner buffer for large deltas
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		contentBuilder   strings.Builder
		reasoningBuilder strings.Builder
		acc              = NewAccumulator()
		usage            Usage
		model            string
	)

	for scanner.Scan() {
		line := scanner.Text()

		// SSE format: "data: <json>", terminated by "data: [DONE]"
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue // Skip malformed events
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		rawDelta := chunk.Choices[0].Delta
		if len(rawDelta) == 0 {
			continue
		}

		var delta chunkDelta
		if err := json.Unmarshal(rawDelta, &delta); err != nil {
			continue
		}

		var rawMap map[string]json.RawMessage
		_ = json.Unmarshal(rawDelta, &rawMap)
		if reasoning := ExtractReasoning(rawMap); reasoning != "" {
			reasoningBuilder.WriteString(reasoning)
			if callback != nil {
				callback(StreamEvent{Kind: KindReasoning, Token: reasoning})
			}
		}

		if delta.Content != "" {
			contentBuilder.WriteString(delta.Content)
			if callback != nil {
				callback(StreamEvent{Kind: KindContent, Token: delta.Content})
			}
		}

		for i := range delta.ToolCalls {
			tc := delta.ToolCalls[i]
			acc.Add(tc)
			if callback != nil {
				callback(StreamEvent{Kind: KindToolCallFragment, ToolCall: &tc})
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}

	msg := Message{
		Role:             "assistant",
		ReasoningContent: reasoningBuilder.String(),
		ToolCalls:        acc.Calls(),
	}
	if contentBuilder.Len() > 0 {
		msg.Content = contentBuilder.String()
	}

	resp := &ChatResponse{
		Model:   model,
		Message: msg,
		Usage:   usage,
	}

	c.logger.Debug("stream complete",
		"content_len", contentBuilder.Len(),
		"reasoning_len", reasoningBuilder.Len(),
		"tool_calls", len(resp.Message.ToolCalls),
	)
	c.logger.Log(ctx, config.LevelTrace, "stream final content", "content", contentBuilder.String())

	return resp, nil
}

// send performs the HTTP round trip and returns the response body on a
// 2xx status. The caller owns closing the body.
func (c *Client) send(ctx context.Context, messages []Message, opts ChatOptions, stream bool) (io.ReadCloser, error) {
	req := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Stream:      stream,
		Tools:       opts.Tools,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}
	if opts.DisableThinking {
		req.Thinking = &thinkingOption{Type: "disabled"}
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Log(ctx, config.LevelTrace, "request payload", "json", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("API error", "status", resp.StatusCode, "body", errBody)
		return nil, fmt.Errorf("completion API error %d: %s", resp.StatusCode, errBody)
	}

	return resp.Body, nil
}
