package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShouldReplace_NoIncumbent(t *testing.T) {
	assert.True(t, shouldReplace(MemoryEventInput{Source: SourceInferred, Confidence: 0.1}, nil, "2024-01-01T00:00:00Z"))
}

func TestShouldReplace_SourcePriority(t *testing.T) {
	incumbent := &incumbentBelief{Source: SourceSystem, Confidence: 0.9, UpdatedAt: "2024-06-01T00:00:00Z"}

	// higher priority wins even with lower confidence and earlier timestamp
	assert.True(t, shouldReplace(MemoryEventInput{Source: SourceExplicitUser, Confidence: 0.1}, incumbent, "2024-01-01T00:00:00Z"))
	// lower priority never wins regardless of confidence/timestamp
	assert.False(t, shouldReplace(MemoryEventInput{Source: SourceInferred, Confidence: 0.99}, incumbent, "2024-12-01T00:00:00Z"))
}

func TestShouldReplace_ConfidenceTiebreak(t *testing.T) {
	incumbent := &incumbentBelief{Source: SourceSystem, Confidence: 0.5, UpdatedAt: "2024-06-01T00:00:00Z"}

	assert.True(t, shouldReplace(MemoryEventInput{Source: SourceSystem, Confidence: 0.6}, incumbent, "2024-01-01T00:00:00Z"))
	assert.False(t, shouldReplace(MemoryEventInput{Source: SourceSystem, Confidence: 0.4}, incumbent, "2024-12-01T00:00:00Z"))
}

func TestShouldReplace_OccurredAtTiebreak(t *testing.T) {
	incumbent := &incumbentBelief{Source: SourceSystem, Confidence: 0.5, UpdatedAt: "2024-06-01T00:00:00Z"}

	assert.True(t, shouldReplace(MemoryEventInput{Source: SourceSystem, Confidence: 0.5}, incumbent, "2024-07-01T00:00:00Z"))
	assert.False(t, shouldReplace(MemoryEventInput{Source: SourceSystem, Confidence: 0.5}, incumbent, "2024-05-01T00:00:00Z"))
	assert.False(t, shouldReplace(MemoryEventInput{Source: SourceSystem, Confidence: 0.5}, incumbent, "2024-06-01T00:00:00Z"))
}

// TestReplacementRule_MaximalEventWins is the §8 testable property: for a
// sequence of events targeting one (entity, slot), the belief slot's
// winner is the maximal event under (source_priority, confidence,
// occurred_at) lexicographic order, independent of insertion order.
func TestReplacementRule_MaximalEventWins(t *testing.T) {
	type ev struct {
		source     Source
		confidence float64
		occurredAt string
	}
	events := []ev{
		{SourceInferred, 0.9, "2024-01-05T00:00:00Z"},
		{SourceSystem, 0.2, "2024-01-01T00:00:00Z"},
		{SourceToolVerified, 0.5, "2024-01-03T00:00:00Z"},
		{SourceToolVerified, 0.5, "2024-01-04T00:00:00Z"}, // beats the above by occurred_at
		{SourceExplicitUser, 0.1, "2024-01-02T00:00:00Z"}, // beats everything by source priority
	}

	var incumbent *incumbentBelief
	var winner ev
	for _, e := range events {
		input := MemoryEventInput{Source: e.source, Confidence: e.confidence}
		if shouldReplace(input, incumbent, e.occurredAt) {
			incumbent = &incumbentBelief{Source: e.source, Confidence: e.confidence, UpdatedAt: e.occurredAt}
			winner = e
		}
	}

	assert.Equal(t, SourceExplicitUser, winner.source)
}
