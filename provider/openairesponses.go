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

	"github.com/rs/zerolog/log"
)

// OpenAIResponsesAdapter implements Provider over the OpenAI responses
// endpoint (§6.5), reached as a fallback whenever chat-completions returns
// 404 (older or rerouted deployments of the same vendor). It reuses the
// message/tool conversion from OpenAICompatAdapter's wire shapes where the
// two overlap and defines its own request/response envelope otherwise.
type OpenAIResponsesAdapter struct {
	httpClient      *http.Client
	responsesURL    string
	authHeaderValue string
	vendorName      string
}

// NewOpenAIResponsesAdapter normalizes baseURL and precomputes the
// /responses URL.
func NewOpenAIResponsesAdapter(baseURL, apiKey, vendorName string) *OpenAIResponsesAdapter {
	baseURL = strings.TrimSuffix(baseURL, "/")
	if vendorName == "" {
		vendorName = "openai"
	}
	return &OpenAIResponsesAdapter{
		httpClient:      &http.Client{Timeout: 120 * time.Second},
		responsesURL:    baseURL + "/responses",
		authHeaderValue: "Bearer " + apiKey,
		vendorName:      vendorName,
	}
}

func (a *OpenAIResponsesAdapter) Name() string             { return a.vendorName }
func (a *OpenAIResponsesAdapter) SupportsToolCalling() bool { return true }
func (a *OpenAIResponsesAdapter) SupportsStreaming() bool   { return true }
func (a *OpenAIResponsesAdapter) SupportsVision() bool      { return true }

func (a *OpenAIResponsesAdapter) Warmup(ctx context.Context) error {
	_, err := a.ChatWithSystem(ctx, "", "hi", OpenAIDefaultModel, 0)
	return err
}

func (a *OpenAIResponsesAdapter) ChatWithSystem(ctx context.Context, system, user, model string, temperature float32) (string, error) {
	resp, err := a.ChatWithSystemFull(ctx, system, user, model, temperature)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (a *OpenAIResponsesAdapter) ChatWithSystemFull(ctx context.Context, system, user, model string, temperature float32) (*ProviderResponse, error) {
	return a.ChatWithTools(ctx, ChatRequest{
		System:      system,
		Messages:    []ProviderMessage{{Role: RoleUser, Content: []ContentBlock{{Type: BlockText, Text: user}}}},
		Model:       model,
		Temperature: temperature,
	})
}

type responsesInputItem struct {
	Type    string                `json:"type,omitempty"`
	Role    string                `json:"role,omitempty"`
	Content []responsesInputPart  `json:"content,omitempty"`
	CallID  string                `json:"call_id,omitempty"`
	Output  string                `json:"output,omitempty"`
	Name    string                `json:"name,omitempty"`
	Args    string                `json:"arguments,omitempty"`
}

type responsesInputPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

type responsesTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type responsesRequest struct {
	Model       string                `json:"model"`
	Instructions string               `json:"instructions,omitempty"`
	Input       []responsesInputItem  `json:"input"`
	Tools       []responsesTool       `json:"tools,omitempty"`
	Temperature float32               `json:"temperature"`
	Stream      bool                  `json:"stream,omitempty"`
}

type responsesOutputItem struct {
	Type    string `json:"type"`
	Role    string `json:"role,omitempty"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Status    string `json:"status,omitempty"`
}

type responsesResponse struct {
	Model  string                `json:"model"`
	Output []responsesOutputItem `json:"output"`
	Status string                `json:"status"`
	Usage  *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func responsesFromMessages(messages []ProviderMessage) []responsesInputItem {
	var out []responsesInputItem
	for _, msg := range messages {
		role := "user"
		if msg.Role == RoleAssistant {
			role = "assistant"
		}

		var parts []responsesInputPart
		for _, cb := range msg.Content {
			switch cb.Type {
			case BlockText:
				parts = append(parts, responsesInputPart{Type: "input_text", Text: Scrub(cb.Text)})
			case BlockImage:
				url := cb.Image.URL
				if url == "" {
					url = fmt.Sprintf("data:%s;base64,%s", cb.Image.MediaType, cb.Image.Data)
				}
				parts = append(parts, responsesInputPart{Type: "input_image", ImageURL: url})
			case BlockToolResult:
				out = append(out, responsesInputItem{Type: "function_call_output", CallID: cb.ToolResultUseID, Output: Scrub(cb.ToolResultText)})
			case BlockToolUse:
				argsJSON := "{}"
				if b, err := json.Marshal(cb.ToolUseInput); err == nil {
					argsJSON = string(b)
				}
				out = append(out, responsesInputItem{Type: "function_call", CallID: cb.ToolUseID, Name: cb.ToolUseName, Args: argsJSON})
			}
		}
		if len(parts) > 0 {
			out = append(out, responsesInputItem{Type: "message", Role: role, Content: parts})
		}
	}
	return out
}

func responsesFromTools(tools []ToolSpec) []responsesTool {
	out := make([]responsesTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, responsesTool{Type: "function", Name: t.Name, Description: Scrub(t.Description), Parameters: t.Parameters})
	}
	return out
}

func responsesStopReason(status string) StopReason {
	switch status {
	case "completed":
		return StopEndTurn
	case "incomplete":
		return StopMaxTokens
	default:
		return StopError
	}
}

func (a *OpenAIResponsesAdapter) buildRequest(req ChatRequest, stream bool) responsesRequest {
	model := req.Model
	if model == "" {
		model = OpenAIDefaultModel
	}
	return responsesRequest{
		Model:        model,
		Instructions: Scrub(req.System),
		Input:        responsesFromMessages(req.Messages),
		Tools:        responsesFromTools(req.Tools),
		Temperature:  req.Temperature,
		Stream:       stream,
	}
}

func (a *OpenAIResponsesAdapter) doRequest(ctx context.Context, body responsesRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s responses request: %w", a.vendorName, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.responsesURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build %s responses request: %w", a.vendorName, err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("Authorization", a.authHeaderValue)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s responses transport error: %w", a.vendorName, err)
	}
	return resp, nil
}

func (a *OpenAIResponsesAdapter) handleErrorResponse(resp *http.Response) error {
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	return &APIError{Provider: a.vendorName, Status: resp.StatusCode, Body: Scrub(string(raw))}
}

func (a *OpenAIResponsesAdapter) ChatWithTools(ctx context.Context, req ChatRequest) (*ProviderResponse, error) {
	resp, err := a.doRequest(ctx, a.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, a.handleErrorResponse(resp)
	}
	defer resp.Body.Close()

	var parsed responsesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode %s responses body: %w", a.vendorName, err)
	}

	var text strings.Builder
	var blocks []ContentBlock
	for _, item := range parsed.Output {
		switch item.Type {
		case "message":
			for _, c := range item.Content {
				scrubbed := Scrub(c.Text)
				text.WriteString(scrubbed)
			}
		case "function_call":
			var input any
			_ = json.Unmarshal([]byte(item.Arguments), &input)
			blocks = append(blocks, ContentBlock{Type: BlockToolUse, ToolUseID: item.CallID, ToolUseName: item.Name, ToolUseInput: input})
		}
	}
	if text.Len() > 0 {
		blocks = append([]ContentBlock{{Type: BlockText, Text: text.String()}}, blocks...)
	}

	var inTok, outTok *int
	if parsed.Usage != nil {
		inTok, outTok = &parsed.Usage.InputTokens, &parsed.Usage.OutputTokens
	}

	return &ProviderResponse{
		Text:          text.String(),
		InputTokens:   inTok,
		OutputTokens:  outTok,
		Model:         parsed.Model,
		ContentBlocks: blocks,
		StopReason:    responsesStopReason(parsed.Status),
	}, nil
}

type responsesStreamEvent struct {
	Type string `json:"type"`
	Response *struct {
		Model string `json:"model"`
	} `json:"response,omitempty"`
	Delta string `json:"delta,omitempty"`
	Item  *struct {
		Type   string `json:"type"`
		CallID string `json:"call_id"`
		Name   string `json:"name"`
	} `json:"item,omitempty"`
	OutputIndex int `json:"output_index"`
}

// ChatWithToolsStream decodes the responses API's typed SSE event stream
// (response.output_text.delta / response.function_call_arguments.delta /
// response.completed), folding it through the same StreamCollector used by
// the other adapters.
func (a *OpenAIResponsesAdapter) ChatWithToolsStream(ctx context.Context, req ChatRequest, events chan<- StreamEvent) (*ProviderResponse, error) {
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
				var ev responsesStreamEvent
				if err := json.Unmarshal([]byte(data), &ev); err != nil {
					log.Error().Err(err).Msg("failed to decode openai responses stream event")
					continue
				}
				switch eventType {
				case "response.created", "response.in_progress":
					if ev.Response != nil && ev.Response.Model != "" {
						emit(StreamEvent{Type: EventResponseStart, Model: ev.Response.Model})
					}
				case "response.output_item.added":
					if ev.Item != nil && ev.Item.Type == "function_call" {
						emit(StreamEvent{Type: EventToolCallDelta, Index: ev.OutputIndex, ToolID: ev.Item.CallID, ToolName: ev.Item.Name})
					}
				case "response.output_text.delta":
					if out := scrubber.ScrubDelta(ev.Delta); out != "" {
						emit(StreamEvent{Type: EventTextDelta, Text: out})
					}
				case "response.function_call_arguments.delta":
					emit(StreamEvent{Type: EventToolCallDelta, Index: ev.OutputIndex, ToolInputDelta: ev.Delta})
				case "response.completed", "response.incomplete", "response.failed":
					emit(StreamEvent{Type: EventDone, StopReason: responsesStopReason(strings.TrimPrefix(eventType, "response."))})
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("%s responses stream read error: %w", a.vendorName, readErr)
		}
	}

	if tail := scrubber.Finish(); tail != "" {
		emit(StreamEvent{Type: EventTextDelta, Text: tail})
	}

	return collector.Finish(), nil
}
