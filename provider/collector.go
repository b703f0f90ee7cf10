package provider

import (
	"encoding/json"
	"math"

	"github.com/rs/zerolog/log"
)

// toolCallBuilder accumulates a single tool-use block's id/name/arguments
// across deltas that may arrive in any order, though in practice id and name
// arrive on the first delta only.
type toolCallBuilder struct {
	id         string
	name       string
	inputJSON  string
}

// StreamCollector folds a sequence of StreamEvents into a terminal
// ProviderResponse, assembling fragmentary tool-call JSON by index (§4.3).
type StreamCollector struct {
	model        string
	text         string
	blocks       []ContentBlock
	toolBuilders map[int]*toolCallBuilder
	toolOrder    []int
	stopReason   StopReason
	inputTokens  *int
	outputTokens *int
}

// NewStreamCollector returns an empty collector.
func NewStreamCollector() *StreamCollector {
	return &StreamCollector{
		toolBuilders: make(map[int]*toolCallBuilder),
	}
}

// Feed applies one StreamEvent in order.
func (c *StreamCollector) Feed(ev StreamEvent) {
	switch ev.Type {
	case EventResponseStart:
		if ev.Model != "" {
			c.model = ev.Model
		}

	case EventTextDelta:
		c.text += ev.Text

	case EventToolCallDelta:
		if ev.Index < 0 || ev.Index > math.MaxInt32 {
			log.Warn().Int("index", ev.Index).Msg("dropping tool call delta with unrepresentable index")
			return
		}
		b, ok := c.toolBuilders[ev.Index]
		if !ok {
			b = &toolCallBuilder{}
			c.toolBuilders[ev.Index] = b
			c.toolOrder = append(c.toolOrder, ev.Index)
		}
		if ev.ToolID != "" {
			b.id = ev.ToolID
		}
		if ev.ToolName != "" {
			b.name = ev.ToolName
		}
		b.inputJSON += ev.ToolInputDelta

	case EventToolCallDone:
		c.blocks = append(c.blocks, ContentBlock{
			Type:         BlockToolUse,
			ToolUseID:    ev.ToolID,
			ToolUseName:  ev.ToolName,
			ToolUseInput: ev.ToolInput,
		})

	case EventDone:
		if ev.StopReason != "" {
			c.stopReason = ev.StopReason
		}
		if ev.InputTokens != nil {
			c.inputTokens = ev.InputTokens
		}
		if ev.OutputTokens != nil {
			c.outputTokens = ev.OutputTokens
		}
	}
}

// Finish assembles the terminal ProviderResponse. For each accumulated
// tool-call builder with a non-empty id and name, the input JSON is parsed;
// parse failures are logged and the block is dropped. If text is non-empty,
// a single Text block is inserted at position 0; other ordering (ToolCallDone
// blocks appended directly, plus accumulated tool-call builders in the order
// first seen) is preserved.
func (c *StreamCollector) Finish() *ProviderResponse {
	var blocks []ContentBlock

	for _, idx := range c.toolOrder {
		b := c.toolBuilders[idx]
		if b.id == "" || b.name == "" {
			continue
		}
		var input any
		if err := json.Unmarshal([]byte(b.inputJSON), &input); err != nil {
			log.Error().Err(err).Str("toolId", b.id).Str("toolName", b.name).Msg("failed to parse accumulated tool call input JSON")
			continue
		}
		blocks = append(blocks, ContentBlock{
			Type:         BlockToolUse,
			ToolUseID:    b.id,
			ToolUseName:  b.name,
			ToolUseInput: input,
		})
	}

	blocks = append(blocks, c.blocks...)

	if c.text != "" {
		blocks = append([]ContentBlock{{Type: BlockText, Text: c.text}}, blocks...)
	}

	stopReason := c.stopReason
	if stopReason == "" {
		stopReason = StopEndTurn
	}

	return &ProviderResponse{
		Text:          c.text,
		InputTokens:   c.inputTokens,
		OutputTokens:  c.outputTokens,
		Model:         c.model,
		ContentBlocks: blocks,
		StopReason:    stopReason,
	}
}
