package memory

// This file re-exports the package's pure derivation/comparison helpers for
// backend implementations (memory/sqlite and any future backend) so they
// share one implementation of §4.8/§4.11 rather than re-deriving them
// against the schema. The unexported originals stay in event.go,
// projection.go, and ledger.go where their unit tests live.

// DeriveSignalTier applies the §3 signal-tier derivation rule.
func DeriveSignalTier(eventType EventType, hint SignalTier) SignalTier {
	return deriveSignalTier(eventType, hint)
}

// DeriveContentType maps an event type to its retrieval-unit content type.
func DeriveContentType(eventType EventType) ContentType {
	return deriveContentType(eventType)
}

// DerivePromotionStatus reports the initial promotion status for a tier.
func DerivePromotionStatus(tier SignalTier) PromotionStatus {
	return derivePromotionStatus(tier)
}

// ContradictionPenalty computes the bounded penalty contribution of a
// ContradictionMarked event.
func ContradictionPenalty(confidence, importance float64) float64 {
	return contradictionPenalty(confidence, importance)
}

// UnitIDFor builds the canonical retrieval-unit key for (entity, slot).
func UnitIDFor(entityID, slotKey string) string {
	return unitIDFor(entityID, slotKey)
}

// ForgetModeToPhase maps a forget depth to its deletion-ledger phase.
func ForgetModeToPhase(mode ForgetMode) (LedgerPhase, error) {
	return forgetModeToPhase(mode)
}

// TombstoneMarker is the content placeholder a Tombstone forget writes.
func TombstoneMarker() string {
	return tombstoneMarker
}

// ShouldReplaceForAppend adapts the belief-slot replacement rule to the
// shape a backend's AppendEvent naturally has on hand: the previously
// persisted BeliefSlot row, or nil when no belief exists yet for (entity,
// slot).
func ShouldReplaceForAppend(incoming MemoryEventInput, incumbent *BeliefSlot, incomingOccurredAt string) bool {
	if incumbent == nil {
		return shouldReplace(incoming, nil, incomingOccurredAt)
	}
	ib := &incumbentBelief{
		WinnerEventID: incumbent.WinnerEventID,
		Source:        incumbent.Source,
		Confidence:    incumbent.Confidence,
		UpdatedAt:     incumbent.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
	return shouldReplace(incoming, ib, incomingOccurredAt)
}
