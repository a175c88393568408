// Package usecases implements the request-shaped entry points (C10) the
// outer RPC layer calls: continue-workflow (with replay idempotency),
// checkpoint, session enumeration, and the recovery prompt renderer. Every
// write path funnels through C7's gate before touching C4; every read path
// bypasses the lock and consumes C4's truth or validated prefix directly,
// per spec.md §4.8. This is grounded on the teacher's internal/security/
// token_broker.go request-shaped IssueToken/VerifyToken/RevokeToken API,
// generalized from a single token concern to the full set of use cases
// wired on top of the session gate, store, and keyring.
package usecases

import (
	"github.com/workrail/core/internal/eventlog"
	"github.com/workrail/core/internal/gate"
	"github.com/workrail/core/internal/ids"
	"github.com/workrail/core/internal/keyring"
)

// Options holds the tunables this package's use cases read at call time.
type Options struct {
	// RecoveryBudgetBytes is RECOVERY_BUDGET_BYTES from spec.md §4.8: the
	// UTF-8-safe byte budget the recovery prompt renderer truncates to.
	RecoveryBudgetBytes int
	// MaxResumeCandidates caps enumerate-sessions-by-recency's result.
	MaxResumeCandidates int
}

// Usecases wires the session gate, event-log store, id factory, and keyring
// store together behind the use-case API. One instance is shared by every
// caller that serves a given dataDir.
type Usecases struct {
	ids     *ids.Factory
	gate    *gate.Gate
	store   *eventlog.Store
	keys    *keyring.Store
	dataDir string
	opts    Options
}

// New builds a Usecases instance. dataDir must be the same root the store
// and gate were constructed over; enumerate-sessions-by-recency needs it
// directly to list the sessions directory.
func New(idFactory *ids.Factory, g *gate.Gate, store *eventlog.Store, keys *keyring.Store, dataDir string, opts Options) *Usecases {
	return &Usecases{ids: idFactory, gate: g, store: store, keys: keys, dataDir: dataDir, opts: opts}
}

func (u *Usecases) currentKeyring() (keyring.Record, error) {
	return u.keys.LoadOrCreate()
}
