// Package projections implements the deterministic read models derived from
// an event prefix (C8): run DAG, node outputs, preferences, gaps & status
// signals, run context, session health, and resume ranking. Every function
// here is pure and total over the event prefix it is given — the same
// generalization of the teacher's EvidenceChain.Validate (internal/evidence/
// vault.go), which re-derives a chain's integrity by walking its Records
// slice rather than mutating any stored state, applied here to re-derive
// read models from a DomainEvent slice instead.
package projections

import (
	"github.com/workrail/core/internal/schema"
	"github.com/workrail/core/internal/workrailerr"
)

// validatePrefix checks events are sorted by EventIndex and contiguous from
// zero, the shared precondition every projection in this package enforces
// before looking at event content.
func validatePrefix(events []schema.DomainEvent) error {
	for i, ev := range events {
		if ev.EventIndex != int64(i) {
			return workrailerr.Newf(workrailerr.CodeProjectionInvariantViolation, "event prefix is not contiguous from zero: expected index %d, got %d", i, ev.EventIndex)
		}
	}
	return nil
}
