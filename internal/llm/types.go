// Package llm provides the OpenAI-compatible chat completion client.
package llm

// Message represents a chat message on the completion wire.
//
// Content is one of: a string, a []ContentPart (multimodal), or nil. The
// completion API requires the content key to be present even when null
// (an assistant message that carries only tool calls), so it has no
// omitempty tag.
type Message struct {
	Role             string     `json:"role"`
	Content          any        `json:"content"`
	ReasoningContent string     `json:"reasoning_content,omitempty"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID       string     `json:"tool_call_id,omitempty"` // tool role only
	Name             string     `json:"name,omitempty"`         // tool role only
}

// ContentPart is one element of a multimodal content payload.
type ContentPart struct {
	Type     string    `json:"type"` // "text" or "image_url"
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL carries an image reference, typically an inline data URL.
type ImageURL struct {
	URL string `json:"url"`
}

// Text returns the textual portion of the message content. For multipart
// content the text parts are concatenated; image parts contribute nothing.
func (m Message) Text() string {
	switch c := m.Content.(type) {
	case string:
		return c
	case []ContentPart:
		var out string
		for _, p := range c {
			out += p.Text
		}
		return out
	}
	return ""
}

// TextMessage builds a plain-text message.
func TextMessage(role, text string) Message {
	return Message{Role: role, Content: text}
}

// ToolCall identifies one tool invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"` // always "function"
	Function FunctionCall `json:"function"`
}

// FunctionCall names the function and carries its arguments as raw JSON
// text. The arguments are only guaranteed to parse once streaming
// accumulation for the call is complete.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCallChunk is a streamed fragment of a tool call. Fragments for the
// same Index arrive in order and contribute to the call's id, name, and
// arguments by string concatenation.
type ToolCallChunk struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

// Usage reports token consumption for a completed request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is the assembled result of one completion round.
type ChatResponse struct {
	Model   string
	Message Message
	Usage   Usage
}

// StreamEvent represents a single event in a streaming response.
// Consumers switch on Kind to determine what data is available.
type StreamEvent struct {
	Kind StreamEventKind

	// Token is set for KindContent and KindReasoning events.
	Token string

	// ToolCall is set for KindToolCallFragment events.
	ToolCall *ToolCallChunk
}

// StreamEventKind identifies the type of stream event.
type StreamEventKind int

const (
	// KindContent is an incremental visible-text token from the model.
	KindContent StreamEventKind = iota

	// KindReasoning is an incremental reasoning/thought token.
	KindReasoning

	// KindToolCallFragment is a partial tool-call descriptor.
	KindToolCallFragment
)

// StreamCallback receives streaming events in arrival order.
type StreamCallback func(event StreamEvent)
