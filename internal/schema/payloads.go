package schema

import (
	"bytes"
	"encoding/json"

	"github.com/workrail/core/internal/codec"
	"github.com/workrail/core/internal/ids"
	"github.com/workrail/core/internal/workrailerr"
)

// toData round-trips v through JSON into a map[string]any, the shape
// DomainEvent.Data carries. This mirrors the teacher's CloudEvent.Data
// map[string]interface{} payload convention (internal/events/bus.go)
// generalized to typed per-kind constructors instead of a freeform map.
func toData(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, workrailerr.Newf(workrailerr.CodeSchemaInvariantViolation, "failed to encode event data: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, workrailerr.Newf(workrailerr.CodeSchemaInvariantViolation, "failed to decode event data: %v", err)
	}
	return m, nil
}

// FromData decodes a DomainEvent's Data map into a typed per-kind payload.
func FromData[T any](data map[string]any) (T, error) {
	var out T
	b, err := json.Marshal(data)
	if err != nil {
		return out, workrailerr.Newf(workrailerr.CodeSchemaInvariantViolation, "failed to re-encode event data: %v", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, workrailerr.Newf(workrailerr.CodeSchemaInvariantViolation, "event data has unknown or malformed fields: %v", err)
	}
	return out, nil
}

// SessionCreatedData is the payload of a session_created event.
type SessionCreatedData struct {
	WorkflowId string `json:"workflowId"`
}

// RunStartedData is the payload of a run_started event.
type RunStartedData struct {
	RunId        ids.RunId    `json:"runId"`
	RootNodeId   ids.NodeId   `json:"rootNodeId"`
	WorkflowHash codec.Digest `json:"workflowHash"`
}

// NodeCreatedData is the payload of a node_created event.
type NodeCreatedData struct {
	NodeId       ids.NodeId   `json:"nodeId"`
	StepId       string       `json:"stepId"`
	SnapshotRef  codec.Digest `json:"snapshotRef,omitempty"`
}

// EdgeKind is the closed set of run-DAG edge kinds.
type EdgeKind string

const (
	EdgeAckedStep EdgeKind = "acked_step"
	EdgeAltStep   EdgeKind = "alt_step"
	EdgeRetryStep EdgeKind = "retry_step"
)

// EdgeCreatedData is the payload of an edge_created event.
type EdgeCreatedData struct {
	FromNodeId ids.NodeId `json:"fromNodeId"`
	ToNodeId   ids.NodeId `json:"toNodeId"`
	Kind       EdgeKind   `json:"kind"`
}

// AdvanceOutcomeKind discriminates the outcome of an advance_recorded event.
type AdvanceOutcomeKind string

const (
	AdvanceAdvanced AdvanceOutcomeKind = "advanced"
	AdvanceBlocked  AdvanceOutcomeKind = "blocked"
)

// AdvanceOutcome is the tagged union of what happened when an attempt tried
// to advance a node.
type AdvanceOutcome struct {
	Kind        AdvanceOutcomeKind `json:"kind"`
	NewNodeId   ids.NodeId         `json:"newNodeId,omitempty"`
	Blockers    []Blocker          `json:"blockers,omitempty"`
}

// AdvanceRecordedData is the payload of an advance_recorded event.
type AdvanceRecordedData struct {
	AttemptId ids.AttemptId  `json:"attemptId"`
	Outcome   AdvanceOutcome `json:"outcome"`
}

// OutputChannel is the closed set of node-output channels.
type OutputChannel string

const (
	ChannelRecap    OutputChannel = "recap"
	ChannelArtifact OutputChannel = "artifact"
)

// NodeOutputAppendedData is the payload of a node_output_appended event.
// Exactly one of Recap/Artifact is meaningful, selected by Channel.
type NodeOutputAppendedData struct {
	OutputId          ids.OutputId  `json:"outputId"`
	Channel           OutputChannel `json:"channel"`
	Recap             string        `json:"recap,omitempty"`
	Sha256            codec.Digest  `json:"sha256,omitempty"`
	ContentType       string        `json:"contentType,omitempty"`
	SupersedesOutputId ids.OutputId `json:"supersedesOutputId,omitempty"`
}

// AutonomyPreference is the closed set of autonomy levels.
type AutonomyPreference string

const (
	AutonomyFullAutoNeverStop AutonomyPreference = "full_auto_never_stop"
	AutonomyConfirmEachStep   AutonomyPreference = "confirm_each_step"
	AutonomyConfirmRiskyOnly  AutonomyPreference = "confirm_risky_only"
)

// RiskPolicy is the closed set of risk-tolerance preferences. It is an
// advisory preference only and must never suppress disclosure or bypass a
// contract (spec.md §4.6).
type RiskPolicy string

const (
	RiskConservative RiskPolicy = "conservative"
	RiskBalanced     RiskPolicy = "balanced"
	RiskAggressive   RiskPolicy = "aggressive"
)

// PreferencesChangedData is the payload of a preferences_changed event.
type PreferencesChangedData struct {
	AutonomyPreference AutonomyPreference `json:"autonomyPreference,omitempty"`
	RiskPolicy         RiskPolicy         `json:"riskPolicy,omitempty"`
}

// GapSeverity is the closed set of gap severities.
type GapSeverity string

const (
	GapSeverityInfo     GapSeverity = "info"
	GapSeverityWarning  GapSeverity = "warning"
	GapSeverityCritical GapSeverity = "critical"
)

// BlockingGapCategories is the closed set of gap categories that, at
// critical severity, make a run blocked per spec.md §4.6 (unless the
// effective autonomy preference is full_auto_never_stop).
var BlockingGapCategories = map[string]bool{
	"missing_output":        true,
	"capability_unavailable": true,
	"invariant_violation":   true,
}

// GapRecordedData is the payload of a gap_recorded event.
type GapRecordedData struct {
	Severity GapSeverity `json:"severity"`
	Category string      `json:"category"`
	Message  string      `json:"message"`
	Resolved bool        `json:"resolved,omitempty"`
}

// ContextSetData is the payload of a context_set event.
type ContextSetData struct {
	Context map[string]any `json:"context"`
}

// DecisionTraceAppendedData is the payload of a decision_trace_appended
// event: an append-only audit note explaining why a decision was made.
type DecisionTraceAppendedData struct {
	Summary string `json:"summary"`
	Detail  string `json:"detail,omitempty"`
}

// ObservationRecordedData is the payload of an observation_recorded event:
// a free-form external observation (e.g. test output, tool result) attached
// to the run for later recap assembly.
type ObservationRecordedData struct {
	Source  string `json:"source"`
	Content string `json:"content"`
}

// NewEvent builds a validated DomainEvent envelope around a typed payload.
func NewEvent(eventId ids.EventId, index int64, sessionId ids.SessionId, kind EventKind, dedupeKey string, scope *Scope, payload any) (DomainEvent, error) {
	data, err := toData(payload)
	if err != nil {
		return DomainEvent{}, err
	}
	ev := DomainEvent{
		V:          1,
		EventId:    eventId,
		EventIndex: index,
		SessionId:  sessionId,
		Kind:       kind,
		DedupeKey:  dedupeKey,
		Scope:      scope,
		Data:       data,
	}
	if err := ev.Validate(); err != nil {
		return DomainEvent{}, err
	}
	return ev, nil
}
