package memory

import "fmt"

// tombstoneMarker is the content placeholder a Tombstone forget overwrites
// retrieval-unit content with (§4.11). It intentionally does not reuse one
// of the revokedProvenanceMarkers constants in recall.go — those mark
// *degraded-backend rewrites* replayed from a different subsystem, while
// this marks a first-class tombstone written by this store.
const tombstoneMarker = "[tombstoned]"

// forgetModeToPhase maps a requested forget depth to the ledger vocabulary
// persisted in the deletion ledger (§3, §4.11).
func forgetModeToPhase(mode ForgetMode) (LedgerPhase, error) {
	switch mode {
	case ForgetSoft:
		return PhaseSoft, nil
	case ForgetHard:
		return PhaseHard, nil
	case ForgetTombstone:
		return PhaseTombstone, nil
	default:
		return "", fmt.Errorf("memory: unknown forget mode %q", mode)
	}
}

// capabilityFor reports whether a backend's capability matrix permits the
// requested forget mode, used by callers that want to gate before calling
// ForgetSlot (§6.3 "Callers can gate calls on the matrix").
func capabilityFor(matrix CapabilityMatrix, mode ForgetMode) Capability {
	switch mode {
	case ForgetSoft:
		return matrix.ForgetSoft
	case ForgetHard:
		return matrix.ForgetHard
	case ForgetTombstone:
		return matrix.ForgetTombstone
	default:
		return CapabilityUnsupported
	}
}
