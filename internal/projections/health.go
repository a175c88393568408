package projections

import (
	"github.com/workrail/core/internal/schema"
	"github.com/workrail/core/internal/workrailerr"
)

// SessionHealthKind is the closed set of session health states derived from
// the projections layer's own ability to re-derive the run DAG — distinct
// from (but analogous to) the eventlog gate's tail-truncation health, per
// spec.md §4.6.
type SessionHealthKind string

const (
	SessionHealthy      SessionHealthKind = "healthy"
	SessionCorruptTail  SessionHealthKind = "corrupt_tail"
)

// SessionHealth is the session-health read model.
type SessionHealth struct {
	Kind   SessionHealthKind
	Reason workrailerr.Code
}

// ComputeSessionHealth reports healthy unless the run-DAG projection itself
// fails over events, in which case health carries that failure's error code
// as its reason.
func ComputeSessionHealth(events []schema.DomainEvent) SessionHealth {
	if _, err := BuildRunDAGs(events); err != nil {
		return SessionHealth{Kind: SessionCorruptTail, Reason: workrailerr.CodeOf(err)}
	}
	return SessionHealth{Kind: SessionHealthy}
}
