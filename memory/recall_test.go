package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuseCandidates_BothEmpty(t *testing.T) {
	assert.Empty(t, FuseCandidates(nil, nil, 10))
}

func TestFuseCandidates_OnlyFTS(t *testing.T) {
	fts := []ScoredID{{ID: "a", Score: 3.0}, {ID: "b", Score: 1.5}}
	fused := FuseCandidates(nil, fts, 10)
	require.Len(t, fused, 2)
	assert.Equal(t, "a", fused[0].UnitID)
	assert.Nil(t, fused[0].VectorScore)
	require.NotNil(t, fused[0].KeywordScore)
	assert.Equal(t, 3.0, *fused[0].KeywordScore)
	assert.Equal(t, 3.0, fused[0].FinalScore)
}

func TestFuseCandidates_RRF(t *testing.T) {
	vector := []ScoredID{{ID: "a", Score: 0.9}, {ID: "b", Score: 0.8}, {ID: "c", Score: 0.1}}
	fts := []ScoredID{{ID: "b", Score: 5}, {ID: "c", Score: 4}, {ID: "a", Score: 1}}
	fused := FuseCandidates(vector, fts, 10)
	require.Len(t, fused, 3)
	// b ranks 2nd in vector, 1st in fts -> best combined rank sum
	assert.Equal(t, "b", fused[0].UnitID)
}

// TestRRFMonotonicity is the §8 testable property: if candidate A ranks >=
// B in both individual rankers, A's fused score must be >= B's.
func TestRRFMonotonicity(t *testing.T) {
	vector := []ScoredID{{ID: "a", Score: 0.9}, {ID: "b", Score: 0.5}, {ID: "c", Score: 0.1}}
	fts := []ScoredID{{ID: "a", Score: 10}, {ID: "b", Score: 8}, {ID: "c", Score: 1}}
	fused := FuseCandidates(vector, fts, 10)

	scoreOf := func(id string) float64 {
		for _, f := range fused {
			if f.UnitID == id {
				return f.FinalScore
			}
		}
		t.Fatalf("missing candidate %s", id)
		return 0
	}
	assert.GreaterOrEqual(t, scoreOf("a"), scoreOf("b"))
	assert.GreaterOrEqual(t, scoreOf("b"), scoreOf("c"))
}

func TestAllowedForReplay(t *testing.T) {
	base := CandidateMeta{SlotStatus: SlotActive}

	assert.True(t, allowedForReplay(base))

	denylisted := base
	denylisted.DenylistedByLedger = true
	assert.False(t, allowedForReplay(denylisted))

	softDeleted := base
	softDeleted.SlotStatus = SlotSoftDeleted
	assert.False(t, allowedForReplay(softDeleted))

	revoked := base
	revoked.ProvenanceSourceClass = "system"
	revoked.ProvenanceReference = "LanceDB:Degraded:Soft_Forget_Marker_Rewrite"
	assert.False(t, allowedForReplay(revoked))

	nonRevokedSystem := base
	nonRevokedSystem.ProvenanceSourceClass = "system"
	nonRevokedSystem.ProvenanceReference = "some-other-reference"
	assert.True(t, allowedForReplay(nonRevokedSystem))
}

func TestIsTrendSlot(t *testing.T) {
	assert.True(t, isTrendSlot("trend.topic"))
	assert.True(t, isTrendSlot("trend/topic"))
	assert.True(t, isTrendSlot("news.trend.weekly"))
	assert.True(t, isTrendSlot("news/trend/weekly"))
	assert.False(t, isTrendSlot("preference.color"))
}

// TestTrendWindow is the §8 testable property: for a trend-slot candidate
// with days <= 30, recency = 1.0 and trend_boost = 0.05; at days = 75,
// recency = 0.
func TestTrendWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	within := CandidateMeta{
		SlotKey: "trend.topic", SignalTier: SignalRaw, RecencyScore: 1.0,
		UpdatedAt: now.AddDate(0, 0, -20),
	}
	fused := FusedCandidate{UnitID: "u", FinalScore: 0.5}
	item := rescore(now, fused, within)
	days := daysSince(now, within.UpdatedAt)
	require.LessOrEqual(t, days, 30.0)
	assert.InDelta(t, 1.0, recencyDecay(within.SlotKey, days)*within.RecencyScore, 1e-9)

	expectedPhase := fused.FinalScore + 0.05
	expectedMeta := (0.40*1.0 + 0.30*clamp01(within.Importance) + 0.30*clamp01(within.Reliability)) * 1.0
	expectedScore := 0.80*expectedPhase + 0.20*expectedMeta
	assert.InDelta(t, expectedScore, item.Score, 1e-9)

	expired := within
	expired.UpdatedAt = now.AddDate(0, 0, -75)
	assert.InDelta(t, 0.0, recencyDecay(expired.SlotKey, daysSince(now, expired.UpdatedAt)), 1e-9)
}

func TestRescoreAll_SortsDescendingAndTruncates(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fused := []FusedCandidate{
		{UnitID: "low", FinalScore: 0.1},
		{UnitID: "high", FinalScore: 0.9},
		{UnitID: "mid", FinalScore: 0.5},
	}
	meta := map[string]CandidateMeta{
		"low":  {SlotKey: "p", Content: "low", SlotStatus: SlotActive, RecencyScore: 1, UpdatedAt: now},
		"high": {SlotKey: "p", Content: "high", SlotStatus: SlotActive, RecencyScore: 1, UpdatedAt: now},
		"mid":  {SlotKey: "p", Content: "mid", SlotStatus: SlotActive, RecencyScore: 1, UpdatedAt: now},
	}
	items := RescoreAll(now, fused, meta, 2)
	require.Len(t, items, 2)
	assert.Equal(t, "high", items[0].Value)
	assert.Equal(t, "mid", items[1].Value)
}
