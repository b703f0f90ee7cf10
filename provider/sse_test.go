package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSEBuffer_SplitsOnBlankLine(t *testing.T) {
	b := NewSSEBuffer()
	b.Feed([]byte("event: message_start\ndata: {\"a\":1}\n\nevent: content_block_delta\ndata: {\"b\":2}\n\n"))

	block, ok := b.Next()
	require.True(t, ok)
	assert.Contains(t, block, "message_start")

	block, ok = b.Next()
	require.True(t, ok)
	assert.Contains(t, block, "content_block_delta")

	_, ok = b.Next()
	assert.False(t, ok)
}

func TestSSEBuffer_HandlesCRLF(t *testing.T) {
	b := NewSSEBuffer()
	b.Feed([]byte("data: {\"a\":1}\r\n\r\n"))
	block, ok := b.Next()
	require.True(t, ok)
	assert.Contains(t, block, `"a":1`)
}

func TestSSEBuffer_AccumulatesAcrossFeeds(t *testing.T) {
	b := NewSSEBuffer()
	b.Feed([]byte("data: {\"a"))
	_, ok := b.Next()
	assert.False(t, ok)

	b.Feed([]byte("\":1}\n\n"))
	block, ok := b.Next()
	require.True(t, ok)
	assert.Contains(t, block, `"a":1`)
}

func TestParseAnthropicBlock(t *testing.T) {
	event, data := ParseAnthropicBlock("event: content_block_delta\ndata: {\"x\":1}")
	assert.Equal(t, "content_block_delta", event)
	assert.Equal(t, `{"x":1}`, data)
}

func TestParseAnthropicBlock_MultilineData(t *testing.T) {
	_, data := ParseAnthropicBlock("event: ping\ndata: line1\ndata: line2")
	assert.Equal(t, "line1\nline2", data)
}

func TestParseOpenAIBlock_FiltersDoneSentinel(t *testing.T) {
	_, ok := ParseOpenAIBlock("data: [DONE]")
	assert.False(t, ok)
}

func TestParseOpenAIBlock_ReturnsData(t *testing.T) {
	data, ok := ParseOpenAIBlock("data: {\"choices\":[]}")
	require.True(t, ok)
	assert.Equal(t, `{"choices":[]}`, data)
}

func TestParseOpenAIBlock_NoDataLine(t *testing.T) {
	_, ok := ParseOpenAIBlock("event: ping")
	assert.False(t, ok)
}
