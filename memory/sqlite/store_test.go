package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sidekickcore/memory"
)

func TestStore_HealthCheck(t *testing.T) {
	store := newTestStore(t, noEmbedder{}, 100)
	assert.True(t, store.HealthCheck(context.Background()))
}

func TestStore_Capabilities(t *testing.T) {
	store := newTestStore(t, noEmbedder{}, 100)
	matrix := store.Capabilities()
	assert.Equal(t, memory.CapabilitySupported, matrix.ForgetSoft)
	assert.Equal(t, memory.CapabilitySupported, matrix.ForgetHard)
	assert.Equal(t, memory.CapabilitySupported, matrix.ForgetTombstone)
}

func TestStore_AppendEvent_CreatesBeliefSlotAndCountsEvents(t *testing.T) {
	store := newTestStore(t, noEmbedder{}, 100)
	ctx := context.Background()

	event, err := store.AppendEvent(ctx, memory.MemoryEventInput{
		EntityID:   "user1",
		SlotKey:    "preference.theme",
		EventType:  memory.EventPreferenceSet,
		Value:      "dark",
		Source:     memory.SourceExplicitUser,
		Confidence: 0.9,
		Importance: 0.5,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, event.EventID)
	assert.Equal(t, memory.SignalBelief, event.SignalTier)
	assert.Equal(t, memory.RetentionShort, event.RetentionTier)

	count, err := store.CountEvents(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	slot, err := store.ResolveSlot(ctx, "user1", "preference.theme")
	require.NoError(t, err)
	require.NotNil(t, slot)
	assert.Equal(t, "dark", slot.Value)
	assert.Equal(t, memory.SlotActive, slot.Status)
}

// TestStore_AppendEvent_ReplacementFollowsSourcePriority exercises §4.8:
// a lower-priority later write must not overwrite a higher-priority belief.
func TestStore_AppendEvent_ReplacementFollowsSourcePriority(t *testing.T) {
	store := newTestStore(t, noEmbedder{}, 100)
	ctx := context.Background()

	_, err := store.AppendEvent(ctx, memory.MemoryEventInput{
		EntityID: "user1", SlotKey: "fact.location", EventType: memory.EventFactAdded,
		Value: "Paris", Source: memory.SourceExplicitUser, Confidence: 0.4,
	})
	require.NoError(t, err)

	_, err = store.AppendEvent(ctx, memory.MemoryEventInput{
		EntityID: "user1", SlotKey: "fact.location", EventType: memory.EventInferredClaim,
		Value: "Berlin", Source: memory.SourceInferred, Confidence: 0.99,
	})
	require.NoError(t, err)

	slot, err := store.ResolveSlot(ctx, "user1", "fact.location")
	require.NoError(t, err)
	assert.Equal(t, "Paris", slot.Value)
}

// TestStore_AppendEvent_RecordsSupersessionAssociation exercises the
// associations table: a replacing event must leave a walkable "supersedes"
// edge back to the event it beat.
func TestStore_AppendEvent_RecordsSupersessionAssociation(t *testing.T) {
	store := newTestStore(t, noEmbedder{}, 100)
	ctx := context.Background()

	first, err := store.AppendEvent(ctx, memory.MemoryEventInput{
		EntityID: "user1", SlotKey: "fact.location", EventType: memory.EventFactAdded,
		Value: "Paris", Source: memory.SourceExplicitUser, Confidence: 0.4,
	})
	require.NoError(t, err)

	second, err := store.AppendEvent(ctx, memory.MemoryEventInput{
		EntityID: "user1", SlotKey: "fact.location", EventType: memory.EventFactAdded,
		Value: "Berlin", Source: memory.SourceExplicitUser, Confidence: 0.9,
	})
	require.NoError(t, err)
	assert.Equal(t, first.EventID, second.SupersedesEventID)

	lineage, err := store.Lineage(ctx, second.EventID)
	require.NoError(t, err)
	require.Len(t, lineage, 1)
	assert.Equal(t, second.EventID, lineage[0].SourceID)
	assert.Equal(t, first.EventID, lineage[0].TargetID)
	assert.Equal(t, memory.AssociationSupersedes, lineage[0].Kind)
}

func TestStore_AppendEvent_PromotesAfterTwoDistinctSources(t *testing.T) {
	store := newTestStore(t, noEmbedder{}, 100)
	ctx := context.Background()

	_, err := store.AppendEvent(ctx, memory.MemoryEventInput{
		EntityID: "user1", SlotKey: "fact.job", EventType: memory.EventFactAdded,
		Value: "engineer", Source: memory.SourceInferred, Confidence: 0.3,
	})
	require.NoError(t, err)

	unitID := memory.UnitIDFor("user1", "fact.job")
	var promotionStatus string
	err = store.db.QueryRowContext(ctx, `SELECT promotion_status FROM retrieval_units WHERE unit_id = ?`, unitID).Scan(&promotionStatus)
	require.NoError(t, err)
	assert.Equal(t, "raw", promotionStatus)

	_, err = store.AppendEvent(ctx, memory.MemoryEventInput{
		EntityID: "user1", SlotKey: "fact.job", EventType: memory.EventFactAdded,
		Value: "engineer", Source: memory.SourceToolVerified, Confidence: 0.8,
	})
	require.NoError(t, err)

	err = store.db.QueryRowContext(ctx, `SELECT promotion_status FROM retrieval_units WHERE unit_id = ?`, unitID).Scan(&promotionStatus)
	require.NoError(t, err)
	assert.Equal(t, "candidate", promotionStatus)
}

func TestStore_ForgetSlot_Soft_ExcludesFromRecallButKeepsRow(t *testing.T) {
	store := newTestStore(t, noEmbedder{}, 100)
	ctx := context.Background()

	_, err := store.AppendEvent(ctx, memory.MemoryEventInput{
		EntityID: "user1", SlotKey: "preference.diet", EventType: memory.EventPreferenceSet,
		Value: "vegetarian", Source: memory.SourceExplicitUser, Confidence: 0.9,
	})
	require.NoError(t, err)

	outcome, err := store.ForgetSlot(ctx, "user1", "preference.diet", memory.ForgetSoft, "user requested removal")
	require.NoError(t, err)
	assert.True(t, outcome.Applied)
	assert.Equal(t, memory.PhaseSoft, outcome.Phase)

	slot, err := store.ResolveSlot(ctx, "user1", "preference.diet")
	require.NoError(t, err)
	require.NotNil(t, slot)
	assert.Equal(t, memory.SlotSoftDeleted, slot.Status)

	items, err := store.RecallScoped(ctx, memory.RecallQuery{EntityID: "user1", Query: "vegetarian", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestStore_ForgetSlot_Hard_DeletesRows(t *testing.T) {
	store := newTestStore(t, noEmbedder{}, 100)
	ctx := context.Background()

	_, err := store.AppendEvent(ctx, memory.MemoryEventInput{
		EntityID: "user1", SlotKey: "preference.diet", EventType: memory.EventPreferenceSet,
		Value: "vegan", Source: memory.SourceExplicitUser, Confidence: 0.9,
	})
	require.NoError(t, err)

	_, err = store.ForgetSlot(ctx, "user1", "preference.diet", memory.ForgetHard, "gdpr erasure request")
	require.NoError(t, err)

	slot, err := store.ResolveSlot(ctx, "user1", "preference.diet")
	require.NoError(t, err)
	assert.Nil(t, slot)

	unitID := memory.UnitIDFor("user1", "preference.diet")
	var count int
	err = store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM retrieval_units WHERE unit_id = ?`, unitID).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestStore_ForgetSlot_Tombstone_OverwritesContent(t *testing.T) {
	store := newTestStore(t, noEmbedder{}, 100)
	ctx := context.Background()

	_, err := store.AppendEvent(ctx, memory.MemoryEventInput{
		EntityID: "user1", SlotKey: "fact.ssn", EventType: memory.EventFactAdded,
		Value: "123-45-6789", Source: memory.SourceExplicitUser, Confidence: 0.9,
	})
	require.NoError(t, err)

	_, err = store.ForgetSlot(ctx, "user1", "fact.ssn", memory.ForgetTombstone, "sensitive data legal hold release")
	require.NoError(t, err)

	unitID := memory.UnitIDFor("user1", "fact.ssn")
	var content, signalTier string
	err = store.db.QueryRowContext(ctx, `SELECT content, signal_tier FROM retrieval_units WHERE unit_id = ?`, unitID).Scan(&content, &signalTier)
	require.NoError(t, err)
	assert.Equal(t, memory.TombstoneMarker(), content)
	assert.Equal(t, string(memory.SignalGovernance), signalTier)
}

// TestStore_RecallScoped_DenyWithoutAuthorization exercises §6.4: a policy
// context that refuses the entity must fail closed.
func TestStore_RecallScoped_DenyWithoutAuthorization(t *testing.T) {
	store := newTestStore(t, noEmbedder{}, 100)
	ctx := context.Background()

	_, err := store.AppendEvent(ctx, memory.MemoryEventInput{
		EntityID: "user1", SlotKey: "fact.job", EventType: memory.EventFactAdded,
		Value: "engineer", Source: memory.SourceExplicitUser, Confidence: 0.9,
	})
	require.NoError(t, err)

	_, err = store.RecallScoped(ctx, memory.RecallQuery{
		EntityID: "user1", Query: "engineer", Limit: 5,
		PolicyContext: denyingPolicy{},
	})
	assert.Error(t, err)
}

type denyingPolicy struct{}

func (denyingPolicy) Authorize(string) error { return assert.AnError }

// TestStore_RecallScoped_HybridSearchWithLedgerDenylist is the §8 scenario
// 5 property: a hard-forgotten slot's content must never resurface through
// hybrid recall even when the lexical or vector ranker would otherwise
// surface it.
func TestStore_RecallScoped_HybridSearchWithLedgerDenylist(t *testing.T) {
	store := newTestStore(t, deterministicEmbedder{dims: 8}, 100)
	ctx := context.Background()

	_, err := store.AppendEvent(ctx, memory.MemoryEventInput{
		EntityID: "user1", SlotKey: "fact.pet", EventType: memory.EventFactAdded,
		Value: "has a golden retriever named Max", Source: memory.SourceExplicitUser, Confidence: 0.9, Importance: 0.6,
	})
	require.NoError(t, err)
	_, err = store.AppendEvent(ctx, memory.MemoryEventInput{
		EntityID: "user1", SlotKey: "fact.car", EventType: memory.EventFactAdded,
		Value: "drives a blue sedan", Source: memory.SourceExplicitUser, Confidence: 0.9, Importance: 0.6,
	})
	require.NoError(t, err)

	items, err := store.RecallScoped(ctx, memory.RecallQuery{EntityID: "user1", Query: "golden retriever Max", Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, items)
	assert.Equal(t, "fact.pet", items[0].SlotKey)

	_, err = store.ForgetSlot(ctx, "user1", "fact.pet", memory.ForgetSoft, "user asked to forget pet mention")
	require.NoError(t, err)

	items, err = store.RecallScoped(ctx, memory.RecallQuery{EntityID: "user1", Query: "golden retriever Max", Limit: 5})
	require.NoError(t, err)
	for _, item := range items {
		assert.NotEqual(t, "fact.pet", item.SlotKey)
	}
}

// TestStore_RecallScoped_TrendSlotRecency is the §8 scenario 6 property: a
// trend-tagged slot updated within the TTL window outranks an equally
// relevant but stale non-trend slot once the recency-weighted rescore runs.
func TestStore_RecallScoped_TrendSlotRecency(t *testing.T) {
	store := newTestStore(t, deterministicEmbedder{dims: 8}, 100)
	ctx := context.Background()

	_, err := store.AppendEvent(ctx, memory.MemoryEventInput{
		EntityID: "user1", SlotKey: "trend.topic.ai_models", EventType: memory.EventInferredClaim,
		Value: "currently interested in new AI model releases", Source: memory.SourceInferred, Confidence: 0.6, Importance: 0.5,
	})
	require.NoError(t, err)

	items, err := store.RecallScoped(ctx, memory.RecallQuery{EntityID: "user1", Query: "AI model releases", Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, items)
	assert.Equal(t, "trend.topic.ai_models", items[0].SlotKey)
}
