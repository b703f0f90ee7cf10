package memory

import (
	"math"
	"sort"
	"strings"
	"time"
)

// rrfK is the reciprocal-rank-fusion constant (§4.9), implementation-defined
// at the spec's suggested typical value.
const rrfK = 60

// trendTTLDays / trendDecayWindowDays bound the trend-slot recency curve
// (§4.9 "Final score").
const (
	trendTTLDays        = 30.0
	trendDecayWindowDays = 45.0
)

// ScoredID is one lexical or vector candidate, ranked by relevance
// descending within its own ranker.
type ScoredID struct {
	ID    string
	Score float64
}

// FusedCandidate is one row surviving fusion, carrying whichever per-ranker
// scores contributed and the unified final_score (§4.9 "Fusion").
type FusedCandidate struct {
	UnitID       string
	VectorScore  *float64
	KeywordScore *float64
	FinalScore   float64
}

// FuseCandidates implements §4.9 fusion:
//   - both empty -> empty
//   - only one ranker populated -> pass through as pseudo-fused candidates
//     with final_score equal to that ranker's raw score
//   - both populated -> reciprocal rank fusion by position, independent of
//     raw scores
//
// topN truncates the result to the caller's search limit (limit * 3).
func FuseCandidates(vectorResults, ftsResults []ScoredID, topN int) []FusedCandidate {
	if len(vectorResults) == 0 && len(ftsResults) == 0 {
		return nil
	}
	if len(vectorResults) == 0 {
		return passthrough(ftsResults, false, topN)
	}
	if len(ftsResults) == 0 {
		return passthrough(vectorResults, true, topN)
	}
	return rrfFuse(vectorResults, ftsResults, topN)
}

func passthrough(results []ScoredID, isVector bool, topN int) []FusedCandidate {
	out := make([]FusedCandidate, 0, len(results))
	for _, r := range results {
		score := r.Score
		fc := FusedCandidate{UnitID: r.ID, FinalScore: score}
		if isVector {
			fc.VectorScore = &score
		} else {
			fc.KeywordScore = &score
		}
		out = append(out, fc)
	}
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out
}

// rrfFuse computes RRF(d) = sum over rankers of 1/(k + rank_ranker(d)),
// rank_ranker being the 1-based position within that ranker's list. A
// document absent from a ranker contributes nothing for that ranker
// (equivalent to infinite rank). Ties break by first-seen position across
// the rankers in the order given, then by id, matching the pack's
// FuseResultsRRF tie-break discipline.
func rrfFuse(vectorResults, ftsResults []ScoredID, topN int) []FusedCandidate {
	vectorScore := make(map[string]float64, len(vectorResults))
	keywordScore := make(map[string]float64, len(ftsResults))
	rrf := make(map[string]float64)
	firstPos := make(map[string]int)
	pos := 0

	for rank, r := range vectorResults {
		rrf[r.ID] += 1.0 / float64(rrfK+rank+1)
		vectorScore[r.ID] = r.Score
		if _, seen := firstPos[r.ID]; !seen {
			firstPos[r.ID] = pos
		}
		pos++
	}
	for rank, r := range ftsResults {
		rrf[r.ID] += 1.0 / float64(rrfK+rank+1)
		keywordScore[r.ID] = r.Score
		if _, seen := firstPos[r.ID]; !seen {
			firstPos[r.ID] = pos
		}
		pos++
	}

	ids := make([]string, 0, len(rrf))
	for id := range rrf {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if rrf[ids[i]] != rrf[ids[j]] {
			return rrf[ids[i]] > rrf[ids[j]]
		}
		if firstPos[ids[i]] != firstPos[ids[j]] {
			return firstPos[ids[i]] < firstPos[ids[j]]
		}
		return ids[i] < ids[j]
	})

	if topN > 0 && len(ids) > topN {
		ids = ids[:topN]
	}

	out := make([]FusedCandidate, 0, len(ids))
	for _, id := range ids {
		fc := FusedCandidate{UnitID: id, FinalScore: rrf[id]}
		if v, ok := vectorScore[id]; ok {
			vv := v
			fc.VectorScore = &vv
		}
		if k, ok := keywordScore[id]; ok {
			kk := k
			fc.KeywordScore = &kk
		}
		out = append(out, fc)
	}
	return out
}

// CandidateMeta is the per-candidate join the store fetches before the
// replay-ban filter and rescore pass (§4.9 "Rescoring").
type CandidateMeta struct {
	EntityID              string
	SlotKey               string
	Content               string
	Reliability           float64
	Importance            float64
	Visibility            PrivacyLevel
	UpdatedAt             time.Time
	RecencyScore          float64
	ContradictionPenalty  float64
	SignalTier            SignalTier
	ProvenanceSourceClass string
	ProvenanceReference   string
	SlotStatus            BeliefSlotStatus
	DenylistedByLedger    bool
}

// revokedProvenanceMarkers are the canonical markers from the Open
// Question resolution in §9/DESIGN.md, matched case-insensitively against
// a "system"-class provenance reference.
var revokedProvenanceMarkers = []string{
	"lancedb:degraded:soft_forget_marker_rewrite",
	"lancedb:degraded:tombstone_marker_rewrite",
}

// allowedForReplay implements the §4.9 replay-ban filter.
func allowedForReplay(m CandidateMeta) bool {
	if m.DenylistedByLedger {
		return false
	}
	if m.SlotStatus != SlotActive {
		return false
	}
	if strings.EqualFold(m.ProvenanceSourceClass, "system") {
		for _, marker := range revokedProvenanceMarkers {
			if strings.EqualFold(m.ProvenanceReference, marker) {
				return false
			}
		}
	}
	return true
}

// isTrendSlot reports whether a slot key names a trend signal (§4.9).
func isTrendSlot(slotKey string) bool {
	return strings.HasPrefix(slotKey, "trend.") ||
		strings.HasPrefix(slotKey, "trend/") ||
		strings.Contains(slotKey, ".trend.") ||
		strings.Contains(slotKey, "/trend/")
}

// recencyDecay computes the slot-type-sensitive recency curve (§4.9).
func recencyDecay(slotKey string, daysSinceUpdate float64) float64 {
	if isTrendSlot(slotKey) {
		if daysSinceUpdate <= trendTTLDays {
			return 1.0
		}
		v := 1.0 - (daysSinceUpdate-trendTTLDays)/trendDecayWindowDays
		if v < 0 {
			return 0
		}
		return v
	}
	v := 1.0 - daysSinceUpdate/90.0
	if v < 0.20 {
		return 0.20
	}
	return v
}

// daysSince returns max(0, (now-updatedAt)/86400).
func daysSince(now, updatedAt time.Time) float64 {
	d := now.Sub(updatedAt).Hours() / 24.0
	if d < 0 {
		return 0
	}
	return d
}

// rescore implements the §4.9 final-score formula over one surviving
// candidate.
func rescore(now time.Time, fused FusedCandidate, m CandidateMeta) MemoryRecallItem {
	days := daysSince(now, m.UpdatedAt)
	recency := recencyDecay(m.SlotKey, days) * m.RecencyScore
	penalty := clamp01(m.ContradictionPenalty)
	reliability := clamp01(m.Reliability)
	importance := clamp01(m.Importance)

	trendBoost := 0.0
	if m.SignalTier == SignalRaw && isTrendSlot(m.SlotKey) && days <= trendTTLDays {
		trendBoost = 0.05
	}

	phaseScore := fused.FinalScore + trendBoost - penalty
	if phaseScore < 0 {
		phaseScore = 0
	}
	metaScore := (0.40*recency + 0.30*importance + 0.30*reliability) * (1 - penalty)
	score := 0.80*phaseScore + 0.20*metaScore

	return MemoryRecallItem{
		EntityID:     m.EntityID,
		SlotKey:      m.SlotKey,
		Value:        m.Content,
		Source:       SourceSystem,
		Confidence:   reliability,
		Importance:   importance,
		PrivacyLevel: m.Visibility,
		Score:        score,
		OccurredAt:   m.UpdatedAt,
	}
}

// RescoreAll runs the replay-ban filter then rescore over every fused
// candidate with available metadata, sorts descending by score (NaN
// treated as equal, per §4.9), and truncates to limit.
func RescoreAll(now time.Time, fused []FusedCandidate, metaByID map[string]CandidateMeta, limit int) []MemoryRecallItem {
	items := make([]MemoryRecallItem, 0, len(fused))
	for _, fc := range fused {
		m, ok := metaByID[fc.UnitID]
		if !ok || !allowedForReplay(m) {
			continue
		}
		items = append(items, rescore(now, fc, m))
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].Score, items[j].Score
		if math.IsNaN(a) || math.IsNaN(b) {
			return false
		}
		return a > b
	})

	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
