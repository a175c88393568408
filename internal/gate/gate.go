// Package gate implements the execution session gate (C7): the single
// entry point to any append, enforcing reentrancy rejection, health before
// lock, lock acquisition, and witness-scoped release on every exit path.
// The guarded-closure shape — acquire, defer release, recover-then-repanic
// around the caller's function — is grounded on the teacher's
// CircuitBreaker.Execute (internal/circuitbreaker/breaker.go), generalized
// from a call-gating policy to a filesystem lock plus health check.
package gate

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/workrail/core/internal/circuitbreaker"
	"github.com/workrail/core/internal/eventlog"
	"github.com/workrail/core/internal/ids"
	"github.com/workrail/core/internal/workrailerr"
)

// defaultRetryMaxMs is the upper bound of the lock-busy retry window,
// spec.md §6.1's lock.retryMaxMs default. It sizes the per-session
// contention breaker's trip/reopen timeout.
const defaultRetryMaxMs = 3000

// errBusy marks a lock-file acquisition that found the lock already held,
// distinct from an acquisition that failed outright, so the contention
// breaker counts it as a tripped-toward failure without confusing it with a
// filesystem error.
var errBusy = errors.New("session lock busy")

// HealthKind is the closed set of session health states.
type HealthKind string

const (
	HealthHealthy     HealthKind = "healthy"
	HealthCorruptTail HealthKind = "corrupt_tail"
)

// Health describes a session's health, per spec.md §4.5.
type Health struct {
	Kind   HealthKind
	Reason eventlog.TailReason
}

// Gate is the session gate. One Gate instance owns reentrancy and lock
// bookkeeping for an entire process; it must be shared by every caller that
// touches a given dataDir.
type Gate struct {
	store *eventlog.Store

	mu       sync.Mutex
	active   map[string]bool // ownerId + "|" + sessionId -> held by this owner
	fileLock fileLocker

	retryMaxMs int
	breakers   *circuitbreaker.Manager
}

// fileLocker abstracts the exclusive lock-file primitive so tests can swap
// in a deterministic fake without touching the filesystem.
type fileLocker interface {
	Acquire(sessionId ids.SessionId) (release func(), busy bool, err error)
}

// New builds a Gate over store, using an OS-file-backed lock rooted at
// dataDir and the default lock-busy retry window (spec.md §6.1's
// lock.retryMaxMs default of 3000ms).
func New(store *eventlog.Store, dataDir string) *Gate {
	return NewWithRetryWindow(store, dataDir, defaultRetryMaxMs)
}

// NewWithRetryWindow builds a Gate whose per-session lock-contention breaker
// (internal/circuitbreaker) trips and reopens on retryMaxMs, the configured
// upper bound of the lock-busy retry hint. A session whose lock has been
// busy on five consecutive attempts within that window trips its breaker,
// so the next caller gets an immediate circuit-open error instead of
// another failed lock-file acquisition during a contention storm.
func NewWithRetryWindow(store *eventlog.Store, dataDir string, retryMaxMs int) *Gate {
	return &Gate{
		store:      store,
		active:     make(map[string]bool),
		fileLock:   newOSFileLocker(dataDir),
		retryMaxMs: retryMaxMs,
		breakers:   circuitbreaker.NewManager(circuitbreaker.LockContentionConfig("session-lock", retryMaxMs)),
	}
}

// Fn is the closure withHealthySessionLock runs while holding the lock.
type Fn func(witness eventlog.Witness) error

// WithHealthySessionLock is the sole entry to any append: it rejects
// reentrant calls from the same owner, refuses to take the lock on an
// unhealthy session, retries-hints on a busy lock, and guarantees release on
// every exit path including a panic from fn.
func (g *Gate) WithHealthySessionLock(ownerId string, sessionId ids.SessionId, fn Fn) error {
	key := ownerId + "|" + string(sessionId)

	g.mu.Lock()
	if g.active[key] {
		g.mu.Unlock()
		return workrailerr.New(workrailerr.CodeSessionLockReentrant, "reentrant withHealthySessionLock call for the same owner and session")
	}
	g.mu.Unlock()

	prefix, err := g.store.LoadValidatedPrefix(sessionId)
	if err != nil {
		return err
	}
	if !prefix.IsComplete {
		return notHealthyErr(Health{Kind: HealthCorruptTail, Reason: prefix.TailReason})
	}

	breaker := g.breakers.Get(string(sessionId))
	acquireResult, err := breaker.Execute(func() (interface{}, error) {
		release, busy, err := g.fileLock.Acquire(sessionId)
		if err != nil {
			return nil, err
		}
		if busy {
			return nil, errBusy
		}
		return release, nil
	})
	if err != nil {
		if err == circuitbreaker.ErrCircuitOpen || err == circuitbreaker.ErrTooManyRequests {
			return workrailerr.New(workrailerr.CodeSessionLocked, "session lock contention breaker is open; back off before retrying").
				WithRetry(workrailerr.RetryRetryableAfter, g.retryMaxMs)
		}
		if err == errBusy {
			return workrailerr.New(workrailerr.CodeSessionLocked, "session lock is held by another owner").WithRetry(workrailerr.RetryRetryableAfter, retryAfterMs(sessionId))
		}
		return err
	}
	release := acquireResult.(func())

	g.mu.Lock()
	g.active[key] = true
	g.mu.Unlock()

	held := &atomic.Bool{}
	held.Store(true)

	defer func() {
		held.Store(false)
		release()
		g.mu.Lock()
		delete(g.active, key)
		g.mu.Unlock()
	}()

	// Re-verify under the lock: the validated-prefix check above raced with
	// whatever last wrote this session's log, so a concurrent writer could
	// have left the tail corrupt between that check and lock acquisition.
	// Per spec.md §4.5 step 4, corruption found here still maps to
	// SESSION_NOT_HEALTHY, not the strict load's own SESSION_STORE_* code.
	if _, err := g.store.Load(sessionId); err != nil {
		return notHealthyErr(Health{Kind: HealthCorruptTail}).WithDetail("cause", err.Error())
	}

	witness := eventlog.NewWitness(sessionId, held)

	defer func() {
		if r := recover(); r != nil {
			held.Store(false)
			panic(r)
		}
	}()

	return fn(witness)
}

func notHealthyErr(h Health) error {
	return workrailerr.New(workrailerr.CodeSessionNotHealthy, "session is not healthy").
		WithDetail("health", string(h.Kind)).
		WithDetail("reason", string(h.Reason))
}
