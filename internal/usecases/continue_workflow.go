package usecases

import (
	"github.com/workrail/core/internal/eventlog"
	"github.com/workrail/core/internal/ids"
	"github.com/workrail/core/internal/schema"
	"github.com/workrail/core/internal/token"
	"github.com/workrail/core/internal/workrailerr"
)

// Intent is the closed set of continue-workflow call shapes, per spec.md
// §6's continue_workflow(intent: "advance"|"rehydrate", ...).
type Intent string

const (
	IntentAdvance   Intent = "advance"
	IntentRehydrate Intent = "rehydrate"
)

// ContinueWorkflowRequest is the caller-supplied input to ContinueWorkflow.
// AckToken must be empty when Intent is IntentRehydrate, and is required
// when Intent is IntentAdvance.
type ContinueWorkflowRequest struct {
	OwnerId    string
	Intent     Intent
	StateToken string
	AckToken   string
}

// ComputeAdvance produces the outcome of an advance attempt given the
// verified claims from the state and ack tokens. It is supplied by the
// caller: deciding what happened at a node is outside this package's
// concern, which is replay-idempotent recording of whatever outcome the
// caller computed.
type ComputeAdvance func(state, ack token.Claims) (schema.AdvanceOutcome, error)

// AdvanceResult is ContinueWorkflow's result for IntentAdvance: the outcome
// either just recorded or replayed byte-for-byte from an existing
// advance_recorded event.
type AdvanceResult struct {
	RunId     ids.RunId
	NodeId    ids.NodeId
	AttemptId ids.AttemptId
	Outcome   schema.AdvanceOutcome
	Replayed  bool
}

// ContinueWorkflow implements spec.md §4.8's continue-workflow replay
// idempotency for IntentAdvance, and dispatches to the recovery prompt
// renderer for IntentRehydrate. compute is only invoked for IntentAdvance,
// and only when no matching advance_recorded event already exists. Failure
// taxonomy is propagated verbatim from whichever component raised it; this
// function never translates a token, store, gate, or projection error into
// a different family.
func (u *Usecases) ContinueWorkflow(req ContinueWorkflowRequest, compute ComputeAdvance) (AdvanceResult, *RecoveryPrompt, error) {
	kr, err := u.currentKeyring()
	if err != nil {
		return AdvanceResult{}, nil, err
	}

	stateClaims, err := token.ParseAndVerify(req.StateToken, kr)
	if err != nil {
		return AdvanceResult{}, nil, err
	}
	if stateClaims.Kind != token.KindState {
		return AdvanceResult{}, nil, workrailerr.New(workrailerr.CodeTokenKindMismatch, "continue_workflow requires a state token")
	}

	if req.Intent == IntentRehydrate {
		if req.AckToken != "" {
			return AdvanceResult{}, nil, workrailerr.New(workrailerr.CodeTokenKindMismatch, "ackToken is forbidden for intent=rehydrate")
		}
		prompt, err := u.buildRecoveryPromptForSession(stateClaims.SessionId, stateClaims.NodeId)
		if err != nil {
			return AdvanceResult{}, nil, err
		}
		return AdvanceResult{}, &prompt, nil
	}

	if req.AckToken == "" {
		return AdvanceResult{}, nil, workrailerr.New(workrailerr.CodeTokenKindMismatch, "ackToken is required for intent=advance")
	}
	ackClaims, err := token.ParseAndVerify(req.AckToken, kr)
	if err != nil {
		return AdvanceResult{}, nil, err
	}
	if ackClaims.Kind != token.KindAck {
		return AdvanceResult{}, nil, workrailerr.New(workrailerr.CodeTokenKindMismatch, "continue_workflow requires an ack token for intent=advance")
	}
	if ackClaims.SessionId != stateClaims.SessionId || ackClaims.RunId != stateClaims.RunId || ackClaims.NodeId != stateClaims.NodeId {
		return AdvanceResult{}, nil, workrailerr.New(workrailerr.CodeTokenKindMismatch, "state and ack tokens do not agree on session/run/node")
	}

	result, err := u.recordAdvance(req.OwnerId, stateClaims, ackClaims, compute)
	return result, nil, err
}

// recordAdvance is the replay-idempotent core: it always acquires the
// session lock (a possible no-op replay is still "control flow of a write"
// per spec.md §4.8's own framing), then checks for a prior advance_recorded
// event at (sessionId, nodeId, attemptId) before deciding whether to replay
// it verbatim or compute and append a new one.
func (u *Usecases) recordAdvance(ownerId string, stateClaims, ackClaims token.Claims, compute ComputeAdvance) (AdvanceResult, error) {
	sessionId := stateClaims.SessionId
	runId := stateClaims.RunId
	nodeId := stateClaims.NodeId
	attemptId := ackClaims.AttemptId

	var result AdvanceResult
	err := u.gate.WithHealthySessionLock(ownerId, sessionId, func(witness eventlog.Witness) error {
		truth, err := u.store.Load(sessionId)
		if err != nil {
			return err
		}

		if existing, ok := findAdvanceRecorded(truth.Events, nodeId, attemptId); ok {
			result = AdvanceResult{RunId: runId, NodeId: nodeId, AttemptId: attemptId, Outcome: existing, Replayed: true}
			return nil
		}

		outcome, err := compute(stateClaims, ackClaims)
		if err != nil {
			return err
		}

		eventId, err := u.ids.NewEventId()
		if err != nil {
			return err
		}
		ev, err := schema.NewEvent(
			eventId,
			int64(len(truth.Events)),
			sessionId,
			schema.KindAdvanceRecorded,
			advanceDedupeKey(nodeId, attemptId),
			&schema.Scope{RunId: runId, NodeId: nodeId},
			schema.AdvanceRecordedData{AttemptId: attemptId, Outcome: outcome},
		)
		if err != nil {
			return err
		}
		if err := u.store.Append(witness, sessionId, eventlog.AppendPlan{Events: []schema.DomainEvent{ev}}); err != nil {
			return err
		}

		result = AdvanceResult{RunId: runId, NodeId: nodeId, AttemptId: attemptId, Outcome: outcome, Replayed: false}
		return nil
	})
	return result, err
}

// findAdvanceRecorded scans events for an advance_recorded event already
// committed at nodeId for attemptId, returning its outcome byte-for-byte
// (including blocker list and ordering) if present.
func findAdvanceRecorded(events []schema.DomainEvent, nodeId ids.NodeId, attemptId ids.AttemptId) (schema.AdvanceOutcome, bool) {
	for _, ev := range events {
		if ev.Kind != schema.KindAdvanceRecorded || ev.Scope == nil || ev.Scope.NodeId != nodeId {
			continue
		}
		data, err := schema.FromData[schema.AdvanceRecordedData](ev.Data)
		if err != nil || data.AttemptId != attemptId {
			continue
		}
		return data.Outcome, true
	}
	return schema.AdvanceOutcome{}, false
}

// advanceDedupeKey builds the dedupe key an advance_recorded event for
// (nodeId, attemptId) is appended under, so a replayed append naturally
// no-ops at C4 even if recordAdvance's own idempotency check ever raced.
func advanceDedupeKey(nodeId ids.NodeId, attemptId ids.AttemptId) string {
	return "advance:" + string(nodeId) + ">" + string(attemptId)
}
