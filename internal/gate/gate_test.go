package gate

import (
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/workrail/core/internal/eventlog"
	"github.com/workrail/core/internal/ids"
	"github.com/workrail/core/internal/schema"
	"github.com/workrail/core/internal/workrailerr"
)

func newTestGate(t *testing.T) (*Gate, *eventlog.Store, string) {
	t.Helper()
	dir := t.TempDir()
	store := eventlog.NewStore(dir)
	return New(store, dir), store, dir
}

func heldWitness(sessionId ids.SessionId) eventlog.Witness {
	held := &atomic.Bool{}
	held.Store(true)
	return eventlog.NewWitness(sessionId, held)
}

func TestWithHealthySessionLockRunsFnAndReleases(t *testing.T) {
	g, _, _ := newTestGate(t)
	sess := ids.SessionId("sess_aaaaaaaaaaaaaaaaaaaaaaaaaa")

	var sawWitness bool
	err := g.WithHealthySessionLock("owner-1", sess, func(w eventlog.Witness) error {
		sawWitness = w.AssertHeld() && w.SessionId() == sess
		return nil
	})
	require.NoError(t, err)
	assert.True(t, sawWitness)

	g.mu.Lock()
	defer g.mu.Unlock()
	assert.Empty(t, g.active, "lock bookkeeping must clear on exit")
}

func TestWithHealthySessionLockRejectsReentrantCall(t *testing.T) {
	g, _, _ := newTestGate(t)
	sess := ids.SessionId("sess_aaaaaaaaaaaaaaaaaaaaaaaaaa")

	var innerErr error
	outerErr := g.WithHealthySessionLock("owner-1", sess, func(w eventlog.Witness) error {
		innerErr = g.WithHealthySessionLock("owner-1", sess, func(eventlog.Witness) error { return nil })
		return nil
	})
	require.NoError(t, outerErr)
	require.Error(t, innerErr)
	var werr *workrailerr.Error
	require.True(t, errors.As(innerErr, &werr))
	assert.Equal(t, workrailerr.CodeSessionLockReentrant, werr.Code)
}

func TestWithHealthySessionLockAllowsDifferentOwnersConcurrently(t *testing.T) {
	g, _, _ := newTestGate(t)
	sessA := ids.SessionId("sess_aaaaaaaaaaaaaaaaaaaaaaaaaa")
	sessB := ids.SessionId("sess_bbbbbbbbbbbbbbbbbbbbbbbbbb")

	errA := g.WithHealthySessionLock("owner-1", sessA, func(eventlog.Witness) error { return nil })
	errB := g.WithHealthySessionLock("owner-2", sessB, func(eventlog.Witness) error { return nil })
	assert.NoError(t, errA)
	assert.NoError(t, errB)
}

func TestWithHealthySessionLockReportsBusyWithRetryHint(t *testing.T) {
	g, _, _ := newTestGate(t)
	sess := ids.SessionId("sess_aaaaaaaaaaaaaaaaaaaaaaaaaa")

	// Acquire the underlying file lock directly, bypassing the Gate, so the
	// gate observes it as held by some other owner/process.
	release, busy, err := g.fileLock.Acquire(sess)
	require.NoError(t, err)
	require.False(t, busy)
	defer release()

	err = g.WithHealthySessionLock("owner-1", sess, func(eventlog.Witness) error {
		t.Fatal("fn must not run while the file lock is held by another owner")
		return nil
	})
	require.Error(t, err)
	var werr *workrailerr.Error
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, workrailerr.CodeSessionLocked, werr.Code)
	require.NotNil(t, werr.Retry)
	assert.GreaterOrEqual(t, werr.Retry.AfterMs, 250)
	assert.Less(t, werr.Retry.AfterMs, 3000)
}

func TestWithHealthySessionLockTripsContentionBreakerAfterRepeatedBusy(t *testing.T) {
	dir := t.TempDir()
	store := eventlog.NewStore(dir)
	g := NewWithRetryWindow(store, dir, 50)
	sess := ids.SessionId("sess_aaaaaaaaaaaaaaaaaaaaaaaaaa")

	release, busy, err := g.fileLock.Acquire(sess)
	require.NoError(t, err)
	require.False(t, busy)
	defer release()

	var lastErr error
	for i := 0; i < 5; i++ {
		lastErr = g.WithHealthySessionLock("owner-1", sess, func(eventlog.Witness) error {
			t.Fatal("fn must not run while the file lock is held by another owner")
			return nil
		})
		require.Error(t, lastErr)
	}

	// The sixth call must observe an open breaker rather than attempting the
	// file lock again.
	err = g.WithHealthySessionLock("owner-1", sess, func(eventlog.Witness) error {
		t.Fatal("fn must not run while the contention breaker is open")
		return nil
	})
	require.Error(t, err)
	var werr *workrailerr.Error
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, workrailerr.CodeSessionLocked, werr.Code)
	require.NotNil(t, werr.Retry)
	assert.Equal(t, 50, werr.Retry.AfterMs)
}

func TestWithHealthySessionLockReleasesOnPanic(t *testing.T) {
	g, _, _ := newTestGate(t)
	sess := ids.SessionId("sess_aaaaaaaaaaaaaaaaaaaaaaaaaa")

	assert.Panics(t, func() {
		_ = g.WithHealthySessionLock("owner-1", sess, func(eventlog.Witness) error {
			panic("boom")
		})
	})

	// The lock must have been released despite the panic: a fresh call
	// succeeds instead of reporting the session as still locked.
	err := g.WithHealthySessionLock("owner-1", sess, func(eventlog.Witness) error { return nil })
	assert.NoError(t, err)
}

func TestWithHealthySessionLockInvalidatesWitnessAfterReturn(t *testing.T) {
	g, _, _ := newTestGate(t)
	sess := ids.SessionId("sess_aaaaaaaaaaaaaaaaaaaaaaaaaa")

	var captured eventlog.Witness
	err := g.WithHealthySessionLock("owner-1", sess, func(w eventlog.Witness) error {
		captured = w
		return nil
	})
	require.NoError(t, err)
	assert.False(t, captured.AssertHeld(), "witness must be invalidated once the guarded closure returns")
}

// corruptingLocker wraps a real fileLocker but corrupts a session's segment
// on disk the instant Acquire succeeds, modeling a concurrent writer that
// leaves the tail corrupt between the gate's pre-lock health check and lock
// acquisition.
type corruptingLocker struct {
	inner    fileLocker
	dir      string
	segPath  func(dir string, sessionId ids.SessionId) string
}

func (c *corruptingLocker) Acquire(sessionId ids.SessionId) (func(), bool, error) {
	release, busy, err := c.inner.Acquire(sessionId)
	if err != nil || busy {
		return release, busy, err
	}
	path := c.segPath(c.dir, sessionId)
	_ = os.WriteFile(path, []byte("{not valid jsonl"), 0o600)
	return release, busy, err
}

func TestWithHealthySessionLockReVerifiesUnderLockAndReportsNotHealthy(t *testing.T) {
	dir := t.TempDir()
	store := eventlog.NewStore(dir)
	sess := ids.SessionId("sess_aaaaaaaaaaaaaaaaaaaaaaaaaa")

	witness := heldWitness(sess)
	require.NoError(t, store.Append(witness, sess, eventlog.AppendPlan{Events: []schema.DomainEvent{{
		V: 1, EventId: "evt_aaaaaaaaaaaaaaaaaaaaaaaaaa", EventIndex: 0, SessionId: sess,
		Kind: schema.KindObservationRecorded, DedupeKey: "obs:1",
		Data: map[string]any{"source": "t", "content": "c"},
	}}}))

	g := NewWithRetryWindow(store, dir, defaultRetryMaxMs)
	g.fileLock = &corruptingLocker{
		inner: newOSFileLocker(dir),
		dir:   dir,
		segPath: func(dir string, sessionId ids.SessionId) string {
			return filepath.Join(dir, "sessions", string(sessionId), "segments", "seg_0.jsonl")
		},
	}

	err := g.WithHealthySessionLock("owner-1", sess, func(eventlog.Witness) error {
		t.Fatal("fn must not run once the re-verify-under-lock load finds corruption")
		return nil
	})
	require.Error(t, err)
	var werr *workrailerr.Error
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, workrailerr.CodeSessionNotHealthy, werr.Code, "corruption found under the lock must still map to SESSION_NOT_HEALTHY, not the strict load's own code")
}

func TestWithHealthySessionLockRefusesUnhealthySessionWithoutLocking(t *testing.T) {
	g, store, dir := newTestGate(t)
	sess := ids.SessionId("sess_aaaaaaaaaaaaaaaaaaaaaaaaaa")

	// Seed a manifest that attests a segment whose on-disk bytes are then
	// corrupted, so loadValidatedPrefix reports an incomplete prefix.
	witness := heldWitness(sess)
	require.NoError(t, store.Append(witness, sess, eventlog.AppendPlan{Events: []schema.DomainEvent{{
		V: 1, EventId: "evt_aaaaaaaaaaaaaaaaaaaaaaaaaa", EventIndex: 0, SessionId: sess,
		Kind: schema.KindObservationRecorded, DedupeKey: "obs:1",
		Data: map[string]any{"source": "t", "content": "c"},
	}}}))

	segPath := filepath.Join(dir, "sessions", string(sess), "segments", "seg_0.jsonl")
	require.NoError(t, os.WriteFile(segPath, []byte("{not valid jsonl"), 0o600))

	err := g.WithHealthySessionLock("owner-1", sess, func(eventlog.Witness) error {
		t.Fatal("fn must not run against an unhealthy session")
		return nil
	})
	require.Error(t, err)
	var werr *workrailerr.Error
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, workrailerr.CodeSessionNotHealthy, werr.Code)

	lockPath := g.fileLock.(*osFileLocker).lockPath(sess)
	_, statErr := os.Stat(lockPath)
	assert.True(t, os.IsNotExist(statErr), "lock must never be created for an unhealthy session")
}
