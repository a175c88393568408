package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/workrail/core/internal/workrailerr"
)

// LoopPathFrame is one frame of a StepInstanceKey's loop path: which loop and
// which iteration of it the step instance ran under.
type LoopPathFrame struct {
	LoopId    string `json:"loopId"`
	Iteration int    `json:"iteration"`
}

// StepInstanceKey identifies one execution of a step, disambiguated by the
// loop iterations it ran under. String() is lexicographically orderable:
// equal step ids sort by loop path frame-by-frame.
type StepInstanceKey struct {
	StepId   string          `json:"stepId"`
	LoopPath []LoopPathFrame `json:"loopPath,omitempty"`
}

// String renders k as a lexicographically orderable identifier.
func (k StepInstanceKey) String() string {
	var b strings.Builder
	b.WriteString(k.StepId)
	for _, f := range k.LoopPath {
		fmt.Fprintf(&b, ">%s:%d", f.LoopId, f.Iteration)
	}
	return b.String()
}

// Equal reports whether k and other encode the same step instance.
func (k StepInstanceKey) Equal(other StepInstanceKey) bool {
	return k.String() == other.String()
}

// LoopStackFrame is one frame of the running engine's active loop stack: the
// loop, its current iteration, and the body index it is executing.
type LoopStackFrame struct {
	LoopId    string `json:"loopId"`
	Iteration int    `json:"iteration"`
	BodyIndex int    `json:"bodyIndex"`
}

// StepInstanceSet is the explicit, tagged, sorted-and-deduplicated wrapper
// spec.md §3 requires for EngineState.completed.
type StepInstanceSet struct {
	Kind   string            `json:"kind"`
	Values []StepInstanceKey `json:"values"`
}

// NewStepInstanceSet builds a StepInstanceSet from keys, sorting
// lexicographically and removing duplicates.
func NewStepInstanceSet(keys []StepInstanceKey) StepInstanceSet {
	seen := make(map[string]StepInstanceKey, len(keys))
	for _, k := range keys {
		seen[k.String()] = k
	}
	strs := make([]string, 0, len(seen))
	for s := range seen {
		strs = append(strs, s)
	}
	sort.Strings(strs)
	values := make([]StepInstanceKey, 0, len(strs))
	for _, s := range strs {
		values = append(values, seen[s])
	}
	return StepInstanceSet{Kind: "set", Values: values}
}

// Contains reports whether key is a member of the set.
func (s StepInstanceSet) Contains(key StepInstanceKey) bool {
	target := key.String()
	i := sort.Search(len(s.Values), func(i int) bool { return s.Values[i].String() >= target })
	return i < len(s.Values) && s.Values[i].String() == target
}

// EngineStateKind is the closed set of engine execution states.
type EngineStateKind string

const (
	EngineInit     EngineStateKind = "init"
	EngineRunning  EngineStateKind = "running"
	EngineComplete EngineStateKind = "complete"
)

// EngineState is a tagged union over {init, running, complete}. Completed,
// LoopStack, and Pending are only meaningful when Kind == EngineRunning.
type EngineState struct {
	Kind      EngineStateKind   `json:"kind"`
	Completed StepInstanceSet   `json:"completed,omitempty"`
	LoopStack []LoopStackFrame  `json:"loopStack,omitempty"`
	Pending   *StepInstanceKey  `json:"pending,omitempty"`
}

// Validate enforces spec.md §3's EngineState invariants: pending's loop path
// must equal the running loopStack's prefix, and the pending step instance
// must never already appear in completed.
func (s EngineState) Validate() error {
	switch s.Kind {
	case EngineInit, EngineComplete:
		return nil
	case EngineRunning:
		if s.Pending != nil {
			if !loopPathMatchesStackPrefix(s.Pending.LoopPath, s.LoopStack) {
				return workrailerr.New(workrailerr.CodeSchemaInvariantViolation, "pending step's loop path does not match the running loop stack prefix")
			}
			if s.Completed.Contains(*s.Pending) {
				return workrailerr.New(workrailerr.CodeSchemaInvariantViolation, "pending step instance must not already appear in completed")
			}
		}
		return nil
	default:
		return workrailerr.Newf(workrailerr.CodeSchemaInvariantViolation, "unknown engine state kind %q", s.Kind)
	}
}

func loopPathMatchesStackPrefix(path []LoopPathFrame, stack []LoopStackFrame) bool {
	if len(path) > len(stack) {
		return false
	}
	for i, frame := range path {
		if frame.LoopId != stack[i].LoopId || frame.Iteration != stack[i].Iteration {
			return false
		}
	}
	return true
}

// EnginePayload wraps an EngineState with its own schema version.
type EnginePayload struct {
	V           int         `json:"v"`
	EngineState EngineState `json:"engineState"`
}

// ExecutionSnapshot is the content-addressed unit stored by the snapshot
// store (C5): a versioned, kind-tagged wrapper around an EnginePayload.
type ExecutionSnapshot struct {
	V             int           `json:"v"`
	Kind          string        `json:"kind"`
	EnginePayload EnginePayload `json:"enginePayload"`
}

// NewExecutionSnapshot builds a well-formed ExecutionSnapshot envelope.
func NewExecutionSnapshot(state EngineState) ExecutionSnapshot {
	return ExecutionSnapshot{
		V:    1,
		Kind: "execution_snapshot",
		EnginePayload: EnginePayload{
			V:           1,
			EngineState: state,
		},
	}
}

// Validate checks the envelope version/kind and delegates to EngineState.
func (s ExecutionSnapshot) Validate() error {
	if s.V != 1 || s.Kind != "execution_snapshot" {
		return workrailerr.New(workrailerr.CodeSchemaInvariantViolation, "malformed execution snapshot envelope")
	}
	if s.EnginePayload.V != 1 {
		return workrailerr.New(workrailerr.CodeSchemaInvariantViolation, "unsupported engine payload schema version")
	}
	return s.EnginePayload.EngineState.Validate()
}
