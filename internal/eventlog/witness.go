// Package eventlog implements the per-session append-only event-log store
// (C4): manifest-tracked segment files under
// <dataDir>/sessions/<sessionId>/, written via temp-file + rename for
// crash-atomicity. This generalizes the teacher's EvidenceChain.Append
// hash-linking discipline (internal/evidence/vault.go) from an in-memory
// linked list to durable, digest-attested segment files, and its
// chain.Validate() integrity walk into loadValidatedPrefix.
package eventlog

import (
	"sync/atomic"

	"github.com/workrail/core/internal/ids"
)

// Witness proves the caller holds the session lock. Only the gate (C7)
// constructs one; Append honors it via AssertHeld, matching spec.md §4.3's
// requirement that append reject a forged or stale witness with
// SESSION_STORE_INVARIANT_VIOLATION rather than trusting the caller.
type Witness struct {
	sessionId ids.SessionId
	held      *atomic.Bool
}

// NewWitness builds a Witness scoped to sessionId, backed by held — the gate
// flips held to false on every exit path from its guarded closure.
func NewWitness(sessionId ids.SessionId, held *atomic.Bool) Witness {
	return Witness{sessionId: sessionId, held: held}
}

// SessionId returns the session this witness was scoped to.
func (w Witness) SessionId() ids.SessionId { return w.sessionId }

// AssertHeld reports whether the lock backing this witness is still held.
func (w Witness) AssertHeld() bool {
	return w.held != nil && w.held.Load()
}
