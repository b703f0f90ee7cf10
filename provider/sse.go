package provider

import "strings"

// SSEBuffer turns an arbitrary byte stream into discrete event blocks,
// separated by a blank line (LF or CRLF). Callers Feed() bytes as they
// arrive and drain complete blocks with Next().
type SSEBuffer struct {
	buf strings.Builder
}

// NewSSEBuffer returns an empty buffer.
func NewSSEBuffer() *SSEBuffer {
	return &SSEBuffer{}
}

// Feed appends newly-read bytes to the buffer.
func (b *SSEBuffer) Feed(chunk []byte) {
	b.buf.Write(chunk)
}

// Next extracts and returns the next complete event block (with its
// terminating blank line stripped), or ("", false) if no complete block is
// buffered yet.
func (b *SSEBuffer) Next() (string, bool) {
	data := b.buf.String()

	if idx := strings.Index(data, "\r\n\r\n"); idx >= 0 {
		block := data[:idx]
		b.buf.Reset()
		b.buf.WriteString(data[idx+4:])
		return block, true
	}
	if idx := strings.Index(data, "\n\n"); idx >= 0 {
		block := data[:idx]
		b.buf.Reset()
		b.buf.WriteString(data[idx+2:])
		return block, true
	}
	return "", false
}

// ParseAnthropicBlock scans an event block for `event:`/`data:` line pairs,
// Anthropic-style. Multiple data: lines are joined with newlines, matching
// SSE's multi-line data convention.
func ParseAnthropicBlock(block string) (event string, data string) {
	var dataLines []string
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	return event, strings.Join(dataLines, "\n")
}

// ParseOpenAIBlock scans an event block for `data:` lines, OpenAI-style,
// filtering out the literal "[DONE]" sentinel. Returns ("", false) if the
// block carried only the sentinel or no data line at all.
func ParseOpenAIBlock(block string) (data string, ok bool) {
	var dataLines []string
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimRight(line, "\r")
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		value := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if value == "[DONE]" {
			return "", false
		}
		dataLines = append(dataLines, value)
	}
	if len(dataLines) == 0 {
		return "", false
	}
	return strings.Join(dataLines, "\n"), true
}
