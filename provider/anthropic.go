package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/rs/zerolog/log"
)

// AnthropicDefaultModel is used when a ChatRequest omits Model.
const AnthropicDefaultModel = "claude-opus-4-5"

// anthropicOAuthKeyPrefix marks OAuth-flavored setup tokens that must use a
// Bearer Authorization header rather than x-api-key (§4.4).
const anthropicOAuthKeyPrefix = "sk-ant-oat01-"

const anthropicAPIVersion = "2023-06-01"

// AnthropicAdapter implements Provider over the raw Anthropic Messages API
// (§6.5). The adapter owns its own HTTP transport rather than a vendor SDK
// client so it can cache the URL and auth header at construction and drive
// the SSE decode loop itself, per §4.4.
type AnthropicAdapter struct {
	httpClient *http.Client
	baseURL    string
	messagesURL string
	authHeader  string
	authValue   string
}

// NewAnthropicAdapter normalizes baseURL (trimming a trailing slash) and
// selects the auth header once based on key shape.
func NewAnthropicAdapter(baseURL, apiKey string) *AnthropicAdapter {
	baseURL = strings.TrimSuffix(baseURL, "/")

	headerName, headerValue := "x-api-key", apiKey
	if strings.HasPrefix(apiKey, anthropicOAuthKeyPrefix) {
		headerName, headerValue = "Authorization", "Bearer "+apiKey
	}

	return &AnthropicAdapter{
		httpClient:  &http.Client{Timeout: 120 * time.Second},
		baseURL:     baseURL,
		messagesURL: baseURL + "/v1/messages",
		authHeader:  headerName,
		authValue:   headerValue,
	}
}

func (a *AnthropicAdapter) Name() string               { return "anthropic" }
func (a *AnthropicAdapter) SupportsToolCalling() bool   { return true }
func (a *AnthropicAdapter) SupportsStreaming() bool     { return true }
func (a *AnthropicAdapter) SupportsVision() bool        { return true }

func (a *AnthropicAdapter) Warmup(ctx context.Context) error {
	_, err := a.ChatWithSystem(ctx, "", "hi", AnthropicDefaultModel, 0)
	return err
}

func (a *AnthropicAdapter) ChatWithSystem(ctx context.Context, system, user, model string, temperature float32) (string, error) {
	resp, err := a.ChatWithSystemFull(ctx, system, user, model, temperature)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (a *AnthropicAdapter) ChatWithSystemFull(ctx context.Context, system, user, model string, temperature float32) (*ProviderResponse, error) {
	return a.ChatWithTools(ctx, ChatRequest{
		System:      system,
		Messages:    []ProviderMessage{{Role: RoleUser, Content: []ContentBlock{{Type: BlockText, Text: user}}}},
		Model:       model,
		Temperature: temperature,
	})
}

type anthropicRequest struct {
	Model       string                   `json:"model"`
	MaxTokens   int                      `json:"max_tokens"`
	System      string                   `json:"system,omitempty"`
	Messages    []anthropicMessage       `json:"messages"`
	Tools       []anthropicTool          `json:"tools,omitempty"`
	Temperature float32                  `json:"temperature"`
	Stream      bool                     `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicContentBlock struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Input     any    `json:"input,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
	Source    *anthropicImageSource `json:"source,omitempty"`
}

type anthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema anthropicInputSchema `json:"input_schema"`
}

type anthropicInputSchema struct {
	Type       constant.Object `json:"type"`
	Properties map[string]any  `json:"properties,omitempty"`
	Required   []string        `json:"required,omitempty"`
}

type anthropicResponse struct {
	ID           string                  `json:"id"`
	Model        string                  `json:"model"`
	StopReason   string                  `json:"stop_reason"`
	StopSequence string                  `json:"stop_sequence"`
	Content      []anthropicContentBlock `json:"content"`
	Usage        struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func anthropicFromMessages(system string, messages []ProviderMessage) (string, []anthropicMessage) {
	out := make([]anthropicMessage, 0, len(messages))
	for _, msg := range messages {
		role := "user"
		if msg.Role == RoleAssistant {
			role = "assistant"
		}
		var blocks []anthropicContentBlock
		for _, cb := range msg.Content {
			switch cb.Type {
			case BlockText:
				blocks = append(blocks, anthropicContentBlock{Type: "text", Text: Scrub(cb.Text)})
			case BlockToolUse:
				blocks = append(blocks, anthropicContentBlock{Type: "tool_use", ID: cb.ToolUseID, Name: cb.ToolUseName, Input: cb.ToolUseInput})
			case BlockToolResult:
				block := anthropicContentBlock{Type: "tool_result", ToolUseID: cb.ToolResultUseID, Content: Scrub(cb.ToolResultText)}
				if cb.ToolResultError {
					block.IsError = true
				}
				blocks = append(blocks, block)
			case BlockImage:
				src := &anthropicImageSource{}
				if cb.Image.URL != "" {
					src.Type, src.URL = "url", cb.Image.URL
				} else {
					src.Type, src.MediaType, src.Data = "base64", cb.Image.MediaType, cb.Image.Data
				}
				blocks = append(blocks, anthropicContentBlock{Type: "image", Source: src})
			}
		}
		out = append(out, anthropicMessage{Role: role, Content: blocks})
	}

	// Anthropic doesn't allow multiple consecutive messages from the same role.
	var merged []anthropicMessage
	for _, msg := range out {
		if len(merged) > 0 && merged[len(merged)-1].Role == msg.Role {
			merged[len(merged)-1].Content = append(merged[len(merged)-1].Content, msg.Content...)
			continue
		}
		merged = append(merged, msg)
	}
	return Scrub(system), merged
}

func anthropicFromTools(tools []ToolSpec) []anthropicTool {
	out := make([]anthropicTool, 0, len(tools))
	for _, t := range tools {
		props, _ := t.Parameters["properties"].(map[string]any)
		required := requiredStrings(t.Parameters["required"])
		out = append(out, anthropicTool{
			Name:        t.Name,
			Description: Scrub(t.Description),
			InputSchema: anthropicInputSchema{Type: constant.Object(""), Properties: props, Required: required},
		})
	}
	return out
}

// requiredStrings normalizes a ToolSpec.Parameters["required"] value into a
// []string. Hand-built specs (tests, literal maps) carry it as []string
// directly; specs built by tool.SchemaFromStruct round-trip through
// json.Unmarshal into map[string]any, so the same key comes back as []any
// of strings. Both shapes are accepted; anything else yields nil.
func requiredStrings(raw any) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				continue
			}
			out = append(out, s)
		}
		return out
	default:
		return nil
	}
}

// anthropicStopReason maps the vendor's stop_reason to the shared enum.
func anthropicStopReason(reason string) StopReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return StopEndTurn
	case "tool_use":
		return StopToolUse
	case "max_tokens":
		return StopMaxTokens
	default:
		return StopError
	}
}

func (a *AnthropicAdapter) buildRequest(req ChatRequest, stream bool) anthropicRequest {
	model := req.Model
	if model == "" {
		model = AnthropicDefaultModel
	}
	system, messages := anthropicFromMessages(req.System, req.Messages)
	return anthropicRequest{
		Model:       model,
		MaxTokens:   4096,
		System:      system,
		Messages:    messages,
		Tools:       anthropicFromTools(req.Tools),
		Temperature: req.Temperature,
		Stream:      stream,
	}
}

func (a *AnthropicAdapter) doRequest(ctx context.Context, body anthropicRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal anthropic request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.messagesURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build anthropic request: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)
	httpReq.Header.Set(a.authHeader, a.authValue)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic transport error: %w", err)
	}
	return resp, nil
}

func (a *AnthropicAdapter) handleErrorResponse(resp *http.Response) error {
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	return &APIError{Provider: "anthropic", Status: resp.StatusCode, Body: Scrub(string(raw))}
}

func (a *AnthropicAdapter) ChatWithTools(ctx context.Context, req ChatRequest) (*ProviderResponse, error) {
	resp, err := a.doRequest(ctx, a.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, a.handleErrorResponse(resp)
	}
	defer resp.Body.Close()

	var parsed anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode anthropic response: %w", err)
	}

	var text string
	var blocks []ContentBlock
	for _, cb := range parsed.Content {
		switch cb.Type {
		case "text":
			text += cb.Text
		case "tool_use":
			blocks = append(blocks, ContentBlock{Type: BlockToolUse, ToolUseID: cb.ID, ToolUseName: cb.Name, ToolUseInput: cb.Input})
		}
	}
	text = Scrub(text)
	if text != "" {
		blocks = append([]ContentBlock{{Type: BlockText, Text: text}}, blocks...)
	}

	inTok, outTok := parsed.Usage.InputTokens, parsed.Usage.OutputTokens
	return &ProviderResponse{
		Text:          text,
		InputTokens:   &inTok,
		OutputTokens:  &outTok,
		Model:         parsed.Model,
		ContentBlocks: blocks,
		StopReason:    anthropicStopReason(parsed.StopReason),
	}, nil
}

func (a *AnthropicAdapter) ChatWithToolsStream(ctx context.Context, req ChatRequest, events chan<- StreamEvent) (*ProviderResponse, error) {
	resp, err := a.doRequest(ctx, a.buildRequest(req, true))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, a.handleErrorResponse(resp)
	}
	defer resp.Body.Close()

	scrubber := NewStreamingSecretScrubber()
	sse := NewSSEBuffer()
	collector := NewStreamCollector()
	chunk := make([]byte, 4096)

	emit := func(se StreamEvent) {
		collector.Feed(se)
		events <- se
	}

	for {
		n, readErr := resp.Body.Read(chunk)
		if n > 0 {
			sse.Feed(chunk[:n])
			for {
				block, ok := sse.Next()
				if !ok {
					break
				}
				eventType, data := ParseAnthropicBlock(block)
				if data == "" {
					continue
				}
				if err := a.handleAnthropicEvent(eventType, data, scrubber, emit); err != nil {
					log.Error().Err(err).Msg("failed to handle anthropic stream event")
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("anthropic stream read error: %w", readErr)
		}
	}

	if tail := scrubber.Finish(); tail != "" {
		emit(StreamEvent{Type: EventTextDelta, Text: tail})
	}

	return collector.Finish(), nil
}

type anthropicStreamEvent struct {
	Type         string `json:"type"`
	Message      *anthropicResponse `json:"message"`
	Index        int    `json:"index"`
	ContentBlock *anthropicContentBlock `json:"content_block"`
	Delta        *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	Usage *struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (a *AnthropicAdapter) handleAnthropicEvent(eventType, data string, scrubber *StreamingSecretScrubber, emit func(StreamEvent)) error {
	var ev anthropicStreamEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return fmt.Errorf("failed to decode anthropic event payload: %w", err)
	}

	switch eventType {
	case "message_start":
		if ev.Message != nil {
			inTok := ev.Message.Usage.InputTokens
			emit(StreamEvent{Type: EventResponseStart, Model: ev.Message.Model})
			emit(StreamEvent{Type: EventDone, InputTokens: &inTok})
		}
	case "content_block_start":
		if ev.ContentBlock != nil && ev.ContentBlock.Type == "tool_use" {
			emit(StreamEvent{Type: EventToolCallDelta, Index: ev.Index, ToolID: ev.ContentBlock.ID, ToolName: ev.ContentBlock.Name})
		}
	case "content_block_delta":
		if ev.Delta == nil {
			return nil
		}
		switch ev.Delta.Type {
		case "text_delta":
			if emitted := scrubber.ScrubDelta(ev.Delta.Text); emitted != "" {
				emit(StreamEvent{Type: EventTextDelta, Text: emitted})
			}
		case "input_json_delta":
			emit(StreamEvent{Type: EventToolCallDelta, Index: ev.Index, ToolInputDelta: ev.Delta.PartialJSON})
		}
	case "message_delta":
		var outTok *int
		if ev.Usage != nil {
			outTok = &ev.Usage.OutputTokens
		}
		var stop StopReason
		if ev.Delta != nil {
			stop = anthropicStopReason(ev.Delta.StopReason)
		}
		emit(StreamEvent{Type: EventDone, StopReason: stop, OutputTokens: outTok})
	}
	return nil
}
