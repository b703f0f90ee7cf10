package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentHash_StableAndFixedWidth(t *testing.T) {
	h1 := ContentHash("hello world")
	h2 := ContentHash("hello world")
	h3 := ContentHash("hello world!")

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 16)
}

func TestEvictionCandidates(t *testing.T) {
	recency := []string{"newest", "second", "third", "oldest"}

	assert.Empty(t, EvictionCandidates(recency, 10))
	assert.Equal(t, []string{"oldest"}, EvictionCandidates(recency, 3))
	assert.Equal(t, []string{"second", "third", "oldest"}, EvictionCandidates(recency, 1))
	assert.Empty(t, EvictionCandidates(recency, 0))
}
