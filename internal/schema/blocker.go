package schema

import (
	"github.com/workrail/core/internal/ids"
	"github.com/workrail/core/internal/workrailerr"
)

// BlockerCode is the closed set of reasons a node can be blocked.
type BlockerCode string

const (
	BlockerMissingRequiredOutput       BlockerCode = "MISSING_REQUIRED_OUTPUT"
	BlockerInvalidRequiredOutput       BlockerCode = "INVALID_REQUIRED_OUTPUT"
	BlockerInvariantViolation          BlockerCode = "INVARIANT_VIOLATION"
	BlockerRequiredCapabilityUnavailable BlockerCode = "REQUIRED_CAPABILITY_UNAVAILABLE"
)

var knownBlockerCodes = map[BlockerCode]bool{
	BlockerMissingRequiredOutput:         true,
	BlockerInvalidRequiredOutput:         true,
	BlockerInvariantViolation:            true,
	BlockerRequiredCapabilityUnavailable: true,
}

// PointerKind is the closed set of locations a Blocker.Pointer can reference.
type PointerKind string

const (
	PointerOutputContract PointerKind = "output_contract"
	PointerContextBudget  PointerKind = "context_budget"
	PointerCapability     PointerKind = "capability"
	PointerStep           PointerKind = "step"
)

var knownPointerKinds = map[PointerKind]bool{
	PointerOutputContract: true,
	PointerContextBudget:  true,
	PointerCapability:     true,
	PointerStep:           true,
}

// Pointer locates what a Blocker refers to.
type Pointer struct {
	Kind        PointerKind `json:"kind"`
	ContractRef string      `json:"contractRef,omitempty"`
	StepId      string      `json:"stepId,omitempty"`
}

const (
	maxBlockerMessageBytes       = 512
	maxBlockerSuggestedFixBytes  = 1024
)

// Blocker is a single reason a node cannot advance.
type Blocker struct {
	Code          BlockerCode `json:"code"`
	Pointer       Pointer     `json:"pointer"`
	Message       string      `json:"message"`
	SuggestedFix  string      `json:"suggestedFix,omitempty"`
}

// Validate checks Blocker's closed-set fields and UTF-8 byte bounds.
func (b Blocker) Validate() error {
	if !knownBlockerCodes[b.Code] {
		return workrailerr.Newf(workrailerr.CodeSchemaInvariantViolation, "unknown blocker code %q", b.Code)
	}
	if !knownPointerKinds[b.Pointer.Kind] {
		return workrailerr.Newf(workrailerr.CodeSchemaInvariantViolation, "unknown pointer kind %q", b.Pointer.Kind)
	}
	if len(b.Message) > maxBlockerMessageBytes {
		return workrailerr.Newf(workrailerr.CodeSchemaInvariantViolation, "blocker message exceeds %d bytes", maxBlockerMessageBytes)
	}
	if len(b.SuggestedFix) > maxBlockerSuggestedFixBytes {
		return workrailerr.Newf(workrailerr.CodeSchemaInvariantViolation, "blocker suggestedFix exceeds %d bytes", maxBlockerSuggestedFixBytes)
	}
	return nil
}

// BlockedKind is the closed set of BlockedSnapshot discriminants.
type BlockedKind string

const (
	BlockedRetryable BlockedKind = "retryable_block"
	BlockedTerminal  BlockedKind = "terminal_block"
)

// terminalReasons is the closed set of reasons valid only for terminal_block.
var terminalReasons = map[string]bool{
	"invariant_violation": true,
}

// BlockedSnapshot is the discriminated union describing why a node's advance
// attempt did not complete. Retryable blocks require a retryAttemptId and a
// non-terminal reason; terminal blocks forbid retryAttemptId and require a
// terminal reason.
type BlockedSnapshot struct {
	Kind            BlockedKind     `json:"kind"`
	Reason          string          `json:"reason"`
	Blockers        []Blocker       `json:"blockers"`
	RetryAttemptId  ids.AttemptId   `json:"retryAttemptId,omitempty"`
}

// Validate enforces the retryable/terminal field requirements.
func (b BlockedSnapshot) Validate() error {
	for _, blocker := range b.Blockers {
		if err := blocker.Validate(); err != nil {
			return err
		}
	}
	switch b.Kind {
	case BlockedRetryable:
		if b.RetryAttemptId == "" {
			return workrailerr.New(workrailerr.CodeSchemaInvariantViolation, "retryable_block requires retryAttemptId")
		}
		if terminalReasons[b.Reason] {
			return workrailerr.Newf(workrailerr.CodeSchemaInvariantViolation, "retryable_block cannot carry terminal reason %q", b.Reason)
		}
		return nil
	case BlockedTerminal:
		if b.RetryAttemptId != "" {
			return workrailerr.New(workrailerr.CodeSchemaInvariantViolation, "terminal_block forbids retryAttemptId")
		}
		if !terminalReasons[b.Reason] {
			return workrailerr.Newf(workrailerr.CodeSchemaInvariantViolation, "terminal_block requires a terminal reason, got %q", b.Reason)
		}
		return nil
	default:
		return workrailerr.Newf(workrailerr.CodeSchemaInvariantViolation, "unknown blocked-snapshot kind %q", b.Kind)
	}
}
