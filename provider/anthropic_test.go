package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropicFromMessages_MergesConsecutiveSameRole(t *testing.T) {
	input := []ProviderMessage{
		{Role: RoleSystem, Content: []ContentBlock{{Type: BlockText, Text: "ignored by this path"}}},
		{Role: RoleUser, Content: []ContentBlock{{Type: BlockText, Text: "hello"}}},
		{Role: RoleUser, Content: []ContentBlock{{Type: BlockText, Text: "are you there"}}},
		{Role: RoleAssistant, Content: []ContentBlock{{Type: BlockText, Text: "yes"}}},
	}

	system, out := anthropicFromMessages("be helpful", input)
	assert.Equal(t, "be helpful", system)
	require.Len(t, out, 3)
	assert.Equal(t, "user", out[0].Role)
	assert.Equal(t, "user", out[1].Role)
	assert.Equal(t, "assistant", out[2].Role)
}

func TestAnthropicFromMessages_ToolUseAndResult(t *testing.T) {
	input := []ProviderMessage{
		{Role: RoleAssistant, Content: []ContentBlock{{Type: BlockToolUse, ToolUseID: "t1", ToolUseName: "search", ToolUseInput: map[string]any{"q": "go"}}}},
		{Role: RoleUser, Content: []ContentBlock{{Type: BlockToolResult, ToolResultUseID: "t1", ToolResultText: "result text"}}},
	}

	_, out := anthropicFromMessages("", input)
	require.Len(t, out, 2)
	require.Len(t, out[0].Content, 1)
	assert.Equal(t, "tool_use", out[0].Content[0].Type)
	assert.Equal(t, "search", out[0].Content[0].Name)

	require.Len(t, out[1].Content, 1)
	assert.Equal(t, "tool_result", out[1].Content[0].Type)
	assert.Equal(t, "t1", out[1].Content[0].ToolUseID)
	assert.Equal(t, "result text", out[1].Content[0].Content)
}

func TestAnthropicFromMessages_ScrubsSecrets(t *testing.T) {
	input := []ProviderMessage{
		{Role: RoleUser, Content: []ContentBlock{{Type: BlockText, Text: "my key is sk-abcdefghijklmnopqrstuvwxyz"}}},
	}
	_, out := anthropicFromMessages("", input)
	assert.Contains(t, out[0].Content[0].Text, redactedLiteral)
}

func TestAnthropicFromMessages_ImageBlock(t *testing.T) {
	input := []ProviderMessage{
		{Role: RoleUser, Content: []ContentBlock{{Type: BlockImage, Image: &ImageSource{MediaType: "image/png", Data: "base64data"}}}},
	}
	_, out := anthropicFromMessages("", input)
	require.Len(t, out[0].Content, 1)
	require.NotNil(t, out[0].Content[0].Source)
	assert.Equal(t, "base64", out[0].Content[0].Source.Type)
	assert.Equal(t, "base64data", out[0].Content[0].Source.Data)
}

func TestAnthropicFromTools(t *testing.T) {
	tools := []ToolSpec{
		{
			Name:        "search",
			Description: "search the web",
			Parameters: map[string]any{
				"properties": map[string]any{"query": map[string]any{"type": "string"}},
				"required":   []string{"query"},
			},
		},
	}
	out := anthropicFromTools(tools)
	require.Len(t, out, 1)
	assert.Equal(t, "search", out[0].Name)
	assert.Equal(t, []string{"query"}, out[0].InputSchema.Required)
}

func TestAnthropicStopReason(t *testing.T) {
	assert.Equal(t, StopEndTurn, anthropicStopReason("end_turn"))
	assert.Equal(t, StopEndTurn, anthropicStopReason("stop_sequence"))
	assert.Equal(t, StopToolUse, anthropicStopReason("tool_use"))
	assert.Equal(t, StopMaxTokens, anthropicStopReason("max_tokens"))
	assert.Equal(t, StopError, anthropicStopReason("something_else"))
}

func TestNewAnthropicAdapter_SelectsAuthHeaderByKeyShape(t *testing.T) {
	apiKeyAdapter := NewAnthropicAdapter("https://api.anthropic.com", "sk-ant-api03-regularkey")
	assert.Equal(t, "x-api-key", apiKeyAdapter.authHeader)

	oauthAdapter := NewAnthropicAdapter("https://api.anthropic.com", "sk-ant-oat01-oauthtoken")
	assert.Equal(t, "Authorization", oauthAdapter.authHeader)
	assert.Equal(t, "Bearer sk-ant-oat01-oauthtoken", oauthAdapter.authValue)
}

func TestNewAnthropicAdapter_TrimsTrailingSlashAndCachesURL(t *testing.T) {
	a := NewAnthropicAdapter("https://api.anthropic.com/", "sk-ant-api03-key")
	assert.Equal(t, "https://api.anthropic.com/v1/messages", a.messagesURL)
}

func TestHandleAnthropicEvent_MessageStart(t *testing.T) {
	a := NewAnthropicAdapter("https://api.anthropic.com", "sk-ant-api03-key")
	scrubber := NewStreamingSecretScrubber()
	var events []StreamEvent
	emit := func(se StreamEvent) { events = append(events, se) }

	err := a.handleAnthropicEvent("message_start", `{"type":"message_start","message":{"id":"msg_1","model":"claude-opus-4-5","usage":{"input_tokens":42}}}`, scrubber, emit)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventResponseStart, events[0].Type)
	assert.Equal(t, "claude-opus-4-5", events[0].Model)
	assert.Equal(t, EventDone, events[1].Type)
	require.NotNil(t, events[1].InputTokens)
	assert.Equal(t, 42, *events[1].InputTokens)
}

func TestHandleAnthropicEvent_ContentBlockDeltaText(t *testing.T) {
	a := NewAnthropicAdapter("https://api.anthropic.com", "sk-ant-api03-key")
	scrubber := NewStreamingSecretScrubber()
	var events []StreamEvent
	emit := func(se StreamEvent) { events = append(events, se) }

	err := a.handleAnthropicEvent("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hi there, this text is long enough to clear the carry window threshold comfortably so it flushes immediately without waiting"}}`, scrubber, emit)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventTextDelta, events[0].Type)
}

func TestHandleAnthropicEvent_ToolUseStartAndDelta(t *testing.T) {
	a := NewAnthropicAdapter("https://api.anthropic.com", "sk-ant-api03-key")
	scrubber := NewStreamingSecretScrubber()
	var events []StreamEvent
	emit := func(se StreamEvent) { events = append(events, se) }

	err := a.handleAnthropicEvent("content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"t1","name":"search"}}`, scrubber, emit)
	require.NoError(t, err)
	err = a.handleAnthropicEvent("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"q\":1}"}}`, scrubber, emit)
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, "t1", events[0].ToolID)
	assert.Equal(t, "search", events[0].ToolName)
	assert.Equal(t, `{"q":1}`, events[1].ToolInputDelta)
}

func TestHandleAnthropicEvent_MessageDelta(t *testing.T) {
	a := NewAnthropicAdapter("https://api.anthropic.com", "sk-ant-api03-key")
	scrubber := NewStreamingSecretScrubber()
	var events []StreamEvent
	emit := func(se StreamEvent) { events = append(events, se) }

	err := a.handleAnthropicEvent("message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":7}}`, scrubber, emit)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, StopEndTurn, events[0].StopReason)
	require.NotNil(t, events[0].OutputTokens)
	assert.Equal(t, 7, *events[0].OutputTokens)
}
