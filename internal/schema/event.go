// Package schema implements the closed-set tagged unions for domain events,
// blockers, outputs, snapshots, and the dedupe-key grammar (C3). Validation is
// represented as tagged description values rather than runtime reflection,
// per the teacher's closed-set EvidenceType/VerdictOutcome style in
// internal/evidence/vault.go, generalized to a per-kind data schema.
package schema

import (
	"regexp"

	"github.com/workrail/core/internal/ids"
	"github.com/workrail/core/internal/workrailerr"
)

// EventKind is the closed set of domain event kinds.
type EventKind string

const (
	KindSessionCreated       EventKind = "session_created"
	KindRunStarted           EventKind = "run_started"
	KindNodeCreated          EventKind = "node_created"
	KindEdgeCreated          EventKind = "edge_created"
	KindAdvanceRecorded      EventKind = "advance_recorded"
	KindNodeOutputAppended   EventKind = "node_output_appended"
	KindPreferencesChanged   EventKind = "preferences_changed"
	KindGapRecorded          EventKind = "gap_recorded"
	KindContextSet           EventKind = "context_set"
	KindDecisionTraceAppended EventKind = "decision_trace_appended"
	KindObservationRecorded  EventKind = "observation_recorded"
)

var knownKinds = map[EventKind]bool{
	KindSessionCreated:       true,
	KindRunStarted:           true,
	KindNodeCreated:          true,
	KindEdgeCreated:          true,
	KindAdvanceRecorded:      true,
	KindNodeOutputAppended:   true,
	KindPreferencesChanged:   true,
	KindGapRecorded:          true,
	KindContextSet:           true,
	KindDecisionTraceAppended: true,
	KindObservationRecorded:  true,
}

// KnownKind reports whether k is one of the closed-set event kinds.
func KnownKind(k EventKind) bool { return knownKinds[k] }

// Scope narrows an event to a run and/or node; both fields are optional.
type Scope struct {
	RunId  ids.RunId  `json:"runId,omitempty"`
	NodeId ids.NodeId `json:"nodeId,omitempty"`
}

// DomainEvent is the common envelope every event kind shares. Data carries
// the per-kind payload, validated against that kind's schema by Validate.
type DomainEvent struct {
	V          int            `json:"v"`
	EventId    ids.EventId    `json:"eventId"`
	EventIndex int64          `json:"eventIndex"`
	SessionId  ids.SessionId  `json:"sessionId"`
	Kind       EventKind      `json:"kind"`
	DedupeKey  string         `json:"dedupeKey"`
	Scope      *Scope         `json:"scope,omitempty"`
	Data       map[string]any `json:"data"`
}

// dedupeKeyPattern is spec.md §3's grammar: ASCII, [a-z0-9_:>-]+, <=256 chars.
var dedupeKeyPattern = regexp.MustCompile(`^[a-z0-9_:>-]+$`)

const maxDedupeKeyLen = 256

// ValidDedupeKey reports whether k matches the dedupe-key grammar.
func ValidDedupeKey(k string) bool {
	return len(k) > 0 && len(k) <= maxDedupeKeyLen && dedupeKeyPattern.MatchString(k)
}

// Validate checks e's envelope-level invariants: schema version, known kind,
// and dedupe-key grammar. It does not inspect envelope keys or Data; callers
// build Data from typed per-kind constructors, and unknown-key rejection for
// Data happens when FromData decodes it, not here. Failures
// report SCHEMA_INVARIANT_VIOLATION; a caller in another component's code
// family (e.g. C4's Append) translates this into its own family rather than
// letting the schema-layer code pass through unchanged.
func (e DomainEvent) Validate() error {
	if e.V != 1 {
		return workrailerr.Newf(workrailerr.CodeSchemaInvariantViolation, "unsupported event schema version %d", e.V)
	}
	if !KnownKind(e.Kind) {
		return workrailerr.Newf(workrailerr.CodeSchemaInvariantViolation, "unknown event kind %q", e.Kind)
	}
	if !ValidDedupeKey(e.DedupeKey) {
		return workrailerr.Newf(workrailerr.CodeSchemaInvariantViolation, "dedupeKey %q does not match the required grammar", e.DedupeKey)
	}
	return nil
}
