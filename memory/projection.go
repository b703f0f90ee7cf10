package memory

// sourcePriority fixes the Open Question in §9/§4.8: a total order over
// Source used as the first comparison key in the belief-slot replacement
// rule. Higher wins.
//
//	ExplicitUser(3) > ToolVerified(2) > System(1) > Inferred(0)
var sourcePriority = map[Source]int{
	SourceExplicitUser: 3,
	SourceToolVerified: 2,
	SourceSystem:       1,
	SourceInferred:     0,
}

// incumbentBelief is the subset of BeliefSlot the replacement rule needs.
type incumbentBelief struct {
	WinnerEventID string
	Source        Source
	Confidence    float64
	UpdatedAt     string // normalized RFC 3339, compared lexicographically
}

// shouldReplace implements the §4.8 replacement rule as a pure function:
//  1. source priority (higher wins)
//  2. on tie, greater confidence wins
//  3. on tie, lexicographically greater normalized occurred_at wins
//  4. no incumbent always replaces
func shouldReplace(incoming MemoryEventInput, incumbent *incumbentBelief, incomingOccurredAt string) bool {
	if incumbent == nil {
		return true
	}

	incomingPriority := sourcePriority[incoming.Source]
	currentPriority := sourcePriority[incumbent.Source]
	if incomingPriority != currentPriority {
		return incomingPriority > currentPriority
	}

	if incoming.Confidence != incumbent.Confidence {
		return incoming.Confidence > incumbent.Confidence
	}

	return incomingOccurredAt > incumbent.UpdatedAt
}
