// Package provider implements the uniform, streaming-capable interface over
// heterogeneous LLM HTTP APIs: Anthropic Messages, OpenAI chat-completions,
// OpenAI responses, OpenRouter, and local/compatible endpoints. It owns
// secret scrubbing, SSE framing, stream collection, and provider fallback.
package provider

import "fmt"

// Role identifies the speaker of a ProviderMessage.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ContentBlockType tags the variant held by a ContentBlock.
type ContentBlockType string

const (
	BlockText       ContentBlockType = "text"
	BlockToolUse    ContentBlockType = "tool_use"
	BlockToolResult ContentBlockType = "tool_result"
	BlockImage      ContentBlockType = "image"
)

// ImageSource is either inline base64 data or a URL, never both.
type ImageSource struct {
	MediaType string `json:"mediaType,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// ContentBlock is a tagged variant: Text, ToolUse, ToolResult, or Image.
// Only the fields relevant to Type are populated.
type ContentBlock struct {
	Type ContentBlockType `json:"type"`

	// Text
	Text string `json:"text,omitempty"`

	// ToolUse
	ToolUseID    string `json:"toolUseId,omitempty"`
	ToolUseName  string `json:"toolUseName,omitempty"`
	ToolUseInput any    `json:"toolUseInput,omitempty"`

	// ToolResult
	ToolResultUseID string `json:"toolResultUseId,omitempty"`
	ToolResultText  string `json:"toolResultText,omitempty"`
	ToolResultError bool   `json:"toolResultIsError,omitempty"`

	// Image
	Image *ImageSource `json:"image,omitempty"`
}

// ProviderMessage is one turn of the conversation: a role plus an ordered
// sequence of content blocks. A ToolResult block only ever appears in
// messages the agent loop itself appends; a ToolUse block only ever appears
// in assistant messages emitted by the provider.
type ProviderMessage struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// StopReason is the terminal classification of a single provider turn.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
	StopError     StopReason = "error"
)

// ProviderResponse is the terminal result of a (possibly streamed) call.
// Invariant: if ContentBlocks contains any Text block, their concatenation
// equals Text; Text never contains secrets after scrubbing.
type ProviderResponse struct {
	Text          string         `json:"text"`
	InputTokens   *int           `json:"inputTokens,omitempty"`
	OutputTokens  *int           `json:"outputTokens,omitempty"`
	Model         string         `json:"model,omitempty"`
	ContentBlocks []ContentBlock `json:"contentBlocks"`
	StopReason    StopReason     `json:"stopReason"`
}

// ToolSpec describes a tool as offered to the model. Name must be unique
// across the owning registry. Owned by the registry; handed to providers by
// reference each turn.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ChatRequest bundles everything a streaming or non-streaming chat call
// needs, matching chat_with_tools / chat_with_tools_stream in the provider
// contract.
type ChatRequest struct {
	System      string
	Messages    []ProviderMessage
	Tools       []ToolSpec
	Model       string
	Temperature float32
}

// EventType enumerates the stream-collector's input alphabet (§4.3).
type EventType string

const (
	EventResponseStart   EventType = "response_start"
	EventTextDelta       EventType = "text_delta"
	EventToolCallDelta   EventType = "tool_call_delta"
	EventToolCallDone    EventType = "tool_call_complete"
	EventDone            EventType = "done"
)

// StreamEvent is a single unit fed to the stream collector by an adapter's
// streaming decode loop.
type StreamEvent struct {
	Type  EventType
	Model string // ResponseStart

	Text string // TextDelta

	Index          int    // ToolCallDelta / ToolCallDone
	ToolID         string // ToolCallDelta (first delta only, in practice) / ToolCallDone
	ToolName       string // ToolCallDelta (first delta only, in practice) / ToolCallDone
	ToolInputDelta string // ToolCallDelta: partial JSON fragment
	ToolInput      any    // ToolCallDone: already-complete input

	StopReason   StopReason // Done
	InputTokens  *int       // Done
	OutputTokens *int       // Done
}

// APIError is the uniform HTTP error surface: "{provider} API error:
// {status}: {body}", body already scrubbed.
type APIError struct {
	Provider string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error: %d: %s", e.Provider, e.Status, e.Body)
}

// ErrResponsesFallback is a distinguished sentinel an adapter returns (wrapped
// around an *APIError with Status 404) to signal that the caller should retry
// against the OpenAI responses endpoint.
var ErrResponsesFallback = fmt.Errorf("chat-completions returned 404, fall back to responses endpoint")
