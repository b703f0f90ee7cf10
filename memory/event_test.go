package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveSignalTier(t *testing.T) {
	assert.Equal(t, SignalInferred, deriveSignalTier(EventInferredClaim, SignalBelief))
	assert.Equal(t, SignalGovernance, deriveSignalTier(EventContradictionMarked, SignalRaw))
	assert.Equal(t, SignalBelief, deriveSignalTier(EventFactAdded, ""))
	assert.Equal(t, SignalRaw, deriveSignalTier(EventFactAdded, SignalRaw))
}

func TestDeriveContentType(t *testing.T) {
	assert.Equal(t, ContentBelief, deriveContentType(EventFactAdded))
	assert.Equal(t, ContentBelief, deriveContentType(EventPreferenceSet))
	assert.Equal(t, ContentInference, deriveContentType(EventInferredClaim))
	assert.Equal(t, ContentContradiction, deriveContentType(EventContradictionMarked))
	assert.Equal(t, ContentSummary, deriveContentType(EventSummaryCompacted))
}

func TestDerivePromotionStatus(t *testing.T) {
	assert.Equal(t, PromotionRaw, derivePromotionStatus(SignalRaw))
	assert.Equal(t, PromotionPromoted, derivePromotionStatus(SignalBelief))
	assert.Equal(t, PromotionPromoted, derivePromotionStatus(SignalGovernance))
}

func TestContradictionPenalty_Bounded(t *testing.T) {
	assert.Equal(t, 0.0, contradictionPenalty(0, 0))
	assert.Equal(t, 1.0, contradictionPenalty(1, 1))
	assert.InDelta(t, 0.5, contradictionPenalty(0.5, 0.5), 1e-9)
	// out-of-range inputs still clamp into [0,1]
	assert.LessOrEqual(t, contradictionPenalty(2, 2), 1.0)
}

func TestUnitIDFor(t *testing.T) {
	assert.Equal(t, "entity1:slot.key", unitIDFor("entity1", "slot.key"))
}
