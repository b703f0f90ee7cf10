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

// OpenAIDefaultModel is used when a ChatRequest omits Model.
const OpenAIDefaultModel = "gpt-4o"

// OpenAICompatAdapter implements Provider over the OpenAI chat-completions
// wire format (§6.5), shared by OpenAI-compatible and local endpoints. A
// 404 from chat-completions triggers fallback to the responses endpoint via
// ErrResponsesFallback, matched by the caller (typically ReliableProvider or
// a thin per-vendor wrapper).
type OpenAICompatAdapter struct {
	httpClient      *http.Client
	baseURL         string
	chatCompletions string
	authHeaderName  string
	authHeaderValue string
	extraHeaders    map[string]string
	vendorName      string
	vision          bool
	nativeTools     bool
}

// OpenAICompatOptions configures header selection for vendors that deviate
// from the Authorization: Bearer default (§4.4).
type OpenAICompatOptions struct {
	VendorName   string
	AuthHeader   string // defaults to "Authorization"
	AuthPrefix   string // defaults to "Bearer "
	ExtraHeaders map[string]string
	SupportsVision bool

	// DisableNativeToolCalling puts the adapter into the degraded
	// fallback-tool path (§4.4): tool specs are injected into the system
	// prompt instead of sent as native wire-format tools, and replies are
	// post-parsed for an embedded tool-call block. Some OpenAI-compatible
	// endpoints (local models, older deployments) never implement the
	// tools/tool_calls wire fields at all.
	DisableNativeToolCalling bool
}

// NewOpenAICompatAdapter normalizes baseURL and precomputes the
// chat-completions URL (preserved if baseURL already ends in
// "chat/completions").
func NewOpenAICompatAdapter(baseURL, apiKey string, opts OpenAICompatOptions) *OpenAICompatAdapter {
	baseURL = strings.TrimSuffix(baseURL, "/")

	chatURL := baseURL + "/chat/completions"
	if strings.HasSuffix(baseURL, "chat/completions") {
		chatURL = baseURL
	}

	headerName := opts.AuthHeader
	if headerName == "" {
		headerName = "Authorization"
	}
	prefix := opts.AuthPrefix
	if headerName == "Authorization" && prefix == "" {
		prefix = "Bearer "
	}

	vendor := opts.VendorName
	if vendor == "" {
		vendor = "openai"
	}

	return &OpenAICompatAdapter{
		httpClient:      &http.Client{Timeout: 120 * time.Second},
		baseURL:         baseURL,
		chatCompletions: chatURL,
		authHeaderName:  headerName,
		authHeaderValue: prefix + apiKey,
		extraHeaders:    opts.ExtraHeaders,
		vendorName:      vendor,
		vision:          opts.SupportsVision,
		nativeTools:     !opts.DisableNativeToolCalling,
	}
}

var _ FallbackToolHelper = (*OpenAICompatAdapter)(nil)

func (a *OpenAICompatAdapter) Name() string             { return a.vendorName }
func (a *OpenAICompatAdapter) SupportsToolCalling() bool { return a.nativeTools }
func (a *OpenAICompatAdapter) SupportsStreaming() bool   { return true }
func (a *OpenAICompatAdapter) SupportsVision() bool      { return a.vision }

// InjectFallbackTools implements FallbackToolHelper: it appends a synthetic
// section to the system prompt describing each tool's name, description,
// and JSON Schema parameters, and instructs the model to reply with a
// single JSON tool-call envelope instead of using native tool-call wire
// fields it does not support (§4.4 fallback-tool path).
func (a *OpenAICompatAdapter) InjectFallbackTools(system string, tools []ToolSpec) string {
	var b strings.Builder
	b.WriteString(system)
	if system != "" {
		b.WriteString("\n\n")
	}
	b.WriteString("You do not have native tool-calling support. The tools below are available instead. To call one, reply with ONLY a single JSON object of the exact form {\"tool_call\":{\"name\":\"<tool name>\",\"input\":{...}}} and nothing else. If no tool call is needed, reply normally in plain text.\n\nAvailable tools:\n")
	for _, t := range tools {
		params, err := json.Marshal(t.Parameters)
		if err != nil {
			params = []byte("{}")
		}
		fmt.Fprintf(&b, "- %s: %s\n  parameters: %s\n", t.Name, Scrub(t.Description), params)
	}
	return b.String()
}

type fallbackToolCallEnvelope struct {
	ToolCall *struct {
		Name  string `json:"name"`
		Input any    `json:"input"`
	} `json:"tool_call"`
}

// ParseFallbackToolCall implements FallbackToolHelper: it scans text for the
// JSON envelope InjectFallbackTools asked the model to reply with and, if
// found, rebuilds the same ContentBlock shape ChatWithTools would have
// produced from a native tool_calls wire response.
func (a *OpenAICompatAdapter) ParseFallbackToolCall(text string) (*ContentBlock, bool) {
	candidate := extractJSONObject(text)
	if candidate == "" {
		return nil, false
	}
	var env fallbackToolCallEnvelope
	if err := json.Unmarshal([]byte(candidate), &env); err != nil || env.ToolCall == nil || env.ToolCall.Name == "" {
		return nil, false
	}
	return &ContentBlock{
		Type:         BlockToolUse,
		ToolUseID:    "fallback-" + env.ToolCall.Name,
		ToolUseName:  env.ToolCall.Name,
		ToolUseInput: env.ToolCall.Input,
	}, true
}

// extractJSONObject returns the first balanced {...} substring of text, or
// "" if braces never balance. Models asked to reply with only the envelope
// sometimes still wrap it in prose or a fenced code block.
func extractJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start == -1 {
		return ""
	}
	depth := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// messagesToText flattens conversation history into a single plain-text
// transcript for the fallback-tool path, which sends one combined turn
// rather than the structured multi-message wire shape (§4.4).
func messagesToText(messages []ProviderMessage) string {
	var b strings.Builder
	for _, msg := range messages {
		label := "User"
		if msg.Role == RoleAssistant {
			label = "Assistant"
		}
		for _, cb := range msg.Content {
			switch cb.Type {
			case BlockText:
				fmt.Fprintf(&b, "%s: %s\n", label, Scrub(cb.Text))
			case BlockToolUse:
				input, _ := json.Marshal(cb.ToolUseInput)
				fmt.Fprintf(&b, "%s called tool %s with input %s\n", label, cb.ToolUseName, input)
			case BlockToolResult:
				fmt.Fprintf(&b, "Tool result: %s\n", Scrub(cb.ToolResultText))
			case BlockImage:
				b.WriteString("[image omitted]\n")
			}
		}
	}
	return b.String()
}

func (a *OpenAICompatAdapter) Warmup(ctx context.Context) error {
	_, err := a.ChatWithSystem(ctx, "", "hi", OpenAIDefaultModel, 0)
	return err
}

func (a *OpenAICompatAdapter) ChatWithSystem(ctx context.Context, system, user, model string, temperature float32) (string, error) {
	resp, err := a.ChatWithSystemFull(ctx, system, user, model, temperature)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (a *OpenAICompatAdapter) ChatWithSystemFull(ctx context.Context, system, user, model string, temperature float32) (*ProviderResponse, error) {
	return a.ChatWithTools(ctx, ChatRequest{
		System:      system,
		Messages:    []ProviderMessage{{Role: RoleUser, Content: []ContentBlock{{Type: BlockText, Text: user}}}},
		Model:       model,
		Temperature: temperature,
	})
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    any              `json:"content,omitempty"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openaiContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

type openaiTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description,omitempty"`
		Parameters  map[string]any `json:"parameters,omitempty"`
	} `json:"function"`
}

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	Temperature float32         `json:"temperature"`
	Tools       []openaiTool    `json:"tools,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	StreamOptions *struct {
		IncludeUsage bool `json:"include_usage"`
	} `json:"stream_options,omitempty"`
}

type openaiResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content   string           `json:"content"`
			ToolCalls []openaiToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func openaiFromMessages(system string, messages []ProviderMessage) []openaiMessage {
	var out []openaiMessage
	if system != "" {
		out = append(out, openaiMessage{Role: "system", Content: Scrub(system)})
	}
	for _, msg := range messages {
		role := "user"
		if msg.Role == RoleAssistant {
			role = "assistant"
		}

		var toolResults []ContentBlock
		var parts []openaiContentPart
		var toolCalls []openaiToolCall

		for _, cb := range msg.Content {
			switch cb.Type {
			case BlockText:
				parts = append(parts, openaiContentPart{Type: "text", Text: Scrub(cb.Text)})
			case BlockImage:
				url := cb.Image.URL
				if url == "" {
					url = fmt.Sprintf("data:%s;base64,%s", cb.Image.MediaType, cb.Image.Data)
				}
				parts = append(parts, openaiContentPart{Type: "image_url", ImageURL: &struct {
					URL string `json:"url"`
				}{URL: url}})
			case BlockToolUse:
				tc := openaiToolCall{ID: cb.ToolUseID, Type: "function"}
				tc.Function.Name = cb.ToolUseName
				if b, err := json.Marshal(cb.ToolUseInput); err == nil {
					tc.Function.Arguments = string(b)
				}
				toolCalls = append(toolCalls, tc)
			case BlockToolResult:
				toolResults = append(toolResults, cb)
			}
		}

		if len(toolResults) > 0 {
			for _, tr := range toolResults {
				out = append(out, openaiMessage{Role: "tool", Content: Scrub(tr.ToolResultText), ToolCallID: tr.ToolResultUseID})
			}
			continue
		}

		var content any
		if len(parts) == 1 && parts[0].Type == "text" {
			content = parts[0].Text
		} else if len(parts) > 0 {
			content = parts
		}

		out = append(out, openaiMessage{Role: role, Content: content, ToolCalls: toolCalls})
	}
	return out
}

func openaiFromTools(tools []ToolSpec) []openaiTool {
	out := make([]openaiTool, 0, len(tools))
	for _, t := range tools {
		ot := openaiTool{Type: "function"}
		ot.Function.Name = t.Name
		ot.Function.Description = Scrub(t.Description)
		ot.Function.Parameters = t.Parameters
		out = append(out, ot)
	}
	return out
}

// openaiStopReason maps finish_reason to the shared enum (§4.4).
func openaiStopReason(reason string) StopReason {
	switch reason {
	case "stop":
		return StopEndTurn
	case "tool_calls":
		return StopToolUse
	case "length":
		return StopMaxTokens
	default:
		return StopError
	}
}

func (a *OpenAICompatAdapter) buildRequest(req ChatRequest, stream bool) openaiRequest {
	model := req.Model
	if model == "" {
		model = OpenAIDefaultModel
	}
	out := openaiRequest{
		Model:       model,
		Messages:    openaiFromMessages(req.System, req.Messages),
		Temperature: req.Temperature,
		Tools:       openaiFromTools(req.Tools),
		Stream:      stream,
	}
	if stream {
		out.StreamOptions = &struct {
			IncludeUsage bool `json:"include_usage"`
		}{IncludeUsage: true}
	}
	return out
}

func (a *OpenAICompatAdapter) setHeaders(req *http.Request) {
	req.Header.Set("content-type", "application/json")
	req.Header.Set(a.authHeaderName, a.authHeaderValue)
	for k, v := range a.extraHeaders {
		req.Header.Set(k, v)
	}
}

func (a *OpenAICompatAdapter) doRequest(ctx context.Context, body openaiRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", a.vendorName, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.chatCompletions, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", a.vendorName, err)
	}
	a.setHeaders(httpReq)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s transport error: %w", a.vendorName, err)
	}
	return resp, nil
}

func (a *OpenAICompatAdapter) handleErrorResponse(resp *http.Response) error {
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{Provider: a.vendorName, Status: resp.StatusCode, Body: Scrub(string(raw))}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrResponsesFallback, apiErr.Error())
	}
	return apiErr
}

// chatWithFallbackTools drives the degraded fallback-tool path (§4.4): tools
// are injected into the system prompt, history is flattened to plain text,
// and the reply is post-parsed for an embedded tool-call envelope.
func (a *OpenAICompatAdapter) chatWithFallbackTools(ctx context.Context, req ChatRequest) (*ProviderResponse, error) {
	system := a.InjectFallbackTools(req.System, req.Tools)
	flattened := messagesToText(req.Messages)

	resp, err := a.ChatWithSystemFull(ctx, system, flattened, req.Model, req.Temperature)
	if err != nil {
		return nil, err
	}
	if block, ok := a.ParseFallbackToolCall(resp.Text); ok {
		resp.ContentBlocks = []ContentBlock{*block}
		resp.StopReason = StopToolUse
	}
	return resp, nil
}

func (a *OpenAICompatAdapter) ChatWithTools(ctx context.Context, req ChatRequest) (*ProviderResponse, error) {
	if !a.nativeTools && len(req.Tools) > 0 {
		return a.chatWithFallbackTools(ctx, req)
	}

	resp, err := a.doRequest(ctx, a.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, a.handleErrorResponse(resp)
	}
	defer resp.Body.Close()

	var parsed openaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", a.vendorName, err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("%s response carried no choices", a.vendorName)
	}
	choice := parsed.Choices[0]

	text := Scrub(choice.Message.Content)
	var blocks []ContentBlock
	if text != "" {
		blocks = append(blocks, ContentBlock{Type: BlockText, Text: text})
	}
	for _, tc := range choice.Message.ToolCalls {
		var input any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
		blocks = append(blocks, ContentBlock{Type: BlockToolUse, ToolUseID: tc.ID, ToolUseName: tc.Function.Name, ToolUseInput: input})
	}

	var inTok, outTok *int
	if parsed.Usage != nil {
		inTok, outTok = &parsed.Usage.PromptTokens, &parsed.Usage.CompletionTokens
	}

	return &ProviderResponse{
		Text:          text,
		InputTokens:   inTok,
		OutputTokens:  outTok,
		Model:         parsed.Model,
		ContentBlocks: blocks,
		StopReason:    openaiStopReason(choice.FinishReason),
	}, nil
}

type openaiStreamChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (a *OpenAICompatAdapter) ChatWithToolsStream(ctx context.Context, req ChatRequest, events chan<- StreamEvent) (*ProviderResponse, error) {
	if !a.nativeTools && len(req.Tools) > 0 {
		resp, err := a.chatWithFallbackTools(ctx, req)
		if err != nil {
			return nil, err
		}
		events <- StreamEvent{Type: EventResponseStart, Model: resp.Model}
		if resp.Text != "" {
			events <- StreamEvent{Type: EventTextDelta, Text: resp.Text}
		}
		events <- StreamEvent{Type: EventDone, StopReason: resp.StopReason, InputTokens: resp.InputTokens, OutputTokens: resp.OutputTokens}
		return resp, nil
	}

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
	firstDeltaSeen := false

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
				data, ok := ParseOpenAIBlock(block)
				if !ok {
					continue
				}
				var ch openaiStreamChunk
				if err := json.Unmarshal([]byte(data), &ch); err != nil {
					log.Error().Err(err).Msg("failed to decode openai stream chunk")
					continue
				}
				if !firstDeltaSeen && ch.Model != "" {
					emit(StreamEvent{Type: EventResponseStart, Model: ch.Model})
					firstDeltaSeen = true
				}
				if len(ch.Choices) > 0 {
					choice := ch.Choices[0]
					if choice.Delta.Content != "" {
						if out := scrubber.ScrubDelta(choice.Delta.Content); out != "" {
							emit(StreamEvent{Type: EventTextDelta, Text: out})
						}
					}
					for _, tc := range choice.Delta.ToolCalls {
						emit(StreamEvent{
							Type:           EventToolCallDelta,
							Index:          tc.Index,
							ToolID:         tc.ID,
							ToolName:       tc.Function.Name,
							ToolInputDelta: tc.Function.Arguments,
						})
					}
					if choice.FinishReason != "" {
						var outTok, inTok *int
						if ch.Usage != nil {
							inTok, outTok = &ch.Usage.PromptTokens, &ch.Usage.CompletionTokens
						}
						emit(StreamEvent{Type: EventDone, StopReason: openaiStopReason(choice.FinishReason), InputTokens: inTok, OutputTokens: outTok})
					}
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("%s stream read error: %w", a.vendorName, readErr)
		}
	}

	if tail := scrubber.Finish(); tail != "" {
		emit(StreamEvent{Type: EventTextDelta, Text: tail})
	}

	return collector.Finish(), nil
}
