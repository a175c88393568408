package eventlog

import (
	"os"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/workrail/core/internal/events"
	"github.com/workrail/core/internal/ids"
	"github.com/workrail/core/internal/schema"
	"github.com/workrail/core/internal/workrailerr"
)

func heldWitness(sessionId ids.SessionId) Witness {
	held := &atomic.Bool{}
	held.Store(true)
	return NewWitness(sessionId, held)
}

func evt(index int64, dedupe string) schema.DomainEvent {
	return schema.DomainEvent{
		V:          1,
		EventId:    ids.EventId("evt_aaaaaaaaaaaaaaaaaaaaaaaaaa"),
		EventIndex: index,
		SessionId:  ids.SessionId("sess_aaaaaaaaaaaaaaaaaaaaaaaaaa"),
		Kind:       schema.KindObservationRecorded,
		DedupeKey:  dedupe,
		Data:       map[string]any{"source": "test", "content": "x"},
	}
}

func TestAppendContiguityAndLoad(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	sess := ids.SessionId("sess_aaaaaaaaaaaaaaaaaaaaaaaaaa")
	w := heldWitness(sess)

	err := store.Append(w, sess, AppendPlan{Events: []schema.DomainEvent{evt(0, "obs:1"), evt(1, "obs:2")}})
	require.NoError(t, err)

	truth, err := store.Load(sess)
	require.NoError(t, err)
	require.Len(t, truth.Events, 2)
	assert.Equal(t, int64(0), truth.Events[0].EventIndex)
	assert.Equal(t, int64(1), truth.Events[1].EventIndex)

	err = store.Append(w, sess, AppendPlan{Events: []schema.DomainEvent{evt(99, "obs:bad")}})
	assert.Error(t, err)

	truthAfter, err := store.Load(sess)
	require.NoError(t, err)
	assert.Len(t, truthAfter.Events, 2, "failed append must not mutate the log")
}

func TestAppendIdempotentReplayIsNoOp(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	sess := ids.SessionId("sess_aaaaaaaaaaaaaaaaaaaaaaaaaa")
	w := heldWitness(sess)

	plan := AppendPlan{Events: []schema.DomainEvent{evt(0, "obs:1"), evt(1, "obs:2")}}
	require.NoError(t, store.Append(w, sess, plan))
	require.NoError(t, store.Append(w, sess, plan))
	require.NoError(t, store.Append(w, sess, plan))

	truth, err := store.Load(sess)
	require.NoError(t, err)
	assert.Len(t, truth.Events, 2)
}

func TestAppendRejectsEventFailingSchemaValidationAsSessionStoreCode(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	sess := ids.SessionId("sess_aaaaaaaaaaaaaaaaaaaaaaaaaa")
	w := heldWitness(sess)

	bad := evt(0, "obs:1")
	bad.Kind = "not_a_real_kind"
	err := store.Append(w, sess, AppendPlan{Events: []schema.DomainEvent{bad}})
	require.Error(t, err)
	assert.Equal(t, workrailerr.CodeSessionStoreInvariantViolation, workrailerr.CodeOf(err), "a schema-validation failure inside Append must surface C4's own code family, not schema's SCHEMA_INVARIANT_VIOLATION")
}

func TestAppendPartialDedupeOverlapFailsWithoutMutation(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	sess := ids.SessionId("sess_aaaaaaaaaaaaaaaaaaaaaaaaaa")
	w := heldWitness(sess)

	require.NoError(t, store.Append(w, sess, AppendPlan{Events: []schema.DomainEvent{evt(0, "obs:1")}}))

	err := store.Append(w, sess, AppendPlan{Events: []schema.DomainEvent{evt(0, "obs:1"), evt(1, "obs:2")}})
	assert.Error(t, err)

	truth, err := store.Load(sess)
	require.NoError(t, err)
	assert.Len(t, truth.Events, 1)
}

func TestAppendRejectsStaleOrForeignWitness(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	sess := ids.SessionId("sess_aaaaaaaaaaaaaaaaaaaaaaaaaa")

	held := &atomic.Bool{}
	held.Store(false)
	stale := NewWitness(sess, held)
	err := store.Append(stale, sess, AppendPlan{Events: []schema.DomainEvent{evt(0, "obs:1")}})
	assert.Error(t, err)

	other := heldWitness(ids.SessionId("sess_bbbbbbbbbbbbbbbbbbbbbbbbbb"))
	err = store.Append(other, sess, AppendPlan{Events: []schema.DomainEvent{evt(0, "obs:1")}})
	assert.Error(t, err)
}

func TestEmptyPlanIsNoOp(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	sess := ids.SessionId("sess_aaaaaaaaaaaaaaaaaaaaaaaaaa")
	w := heldWitness(sess)

	require.NoError(t, store.Append(w, sess, AppendPlan{}))
	truth, err := store.Load(sess)
	require.NoError(t, err)
	assert.Empty(t, truth.Events)
}

func TestLoadValidatedPrefixTruncatesOnDigestMismatch(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	sess := ids.SessionId("sess_aaaaaaaaaaaaaaaaaaaaaaaaaa")
	w := heldWitness(sess)

	require.NoError(t, store.Append(w, sess, AppendPlan{Events: []schema.DomainEvent{evt(0, "obs:1")}}))
	require.NoError(t, store.Append(w, sess, AppendPlan{Events: []schema.DomainEvent{evt(1, "obs:2")}}))

	segPath := sessionDirJoin(dir, string(sess), "segments/seg_2.jsonl")
	require.NoError(t, os.WriteFile(segPath, []byte(`{"corrupted":true}`), 0o600))

	result, err := store.LoadValidatedPrefix(sess)
	require.NoError(t, err)
	assert.False(t, result.IsComplete)
	assert.Equal(t, TailDigestMismatch, result.TailReason)
	assert.Len(t, result.Truth.Events, 1)

	_, err = store.Load(sess)
	assert.Error(t, err)
}

func TestAppendPublishesToAttachedBus(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	bus := events.NewBus()
	store.SetBus(bus)
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	sess := ids.SessionId("sess_aaaaaaaaaaaaaaaaaaaaaaaaaa")
	w := heldWitness(sess)
	require.NoError(t, store.Append(w, sess, AppendPlan{Events: []schema.DomainEvent{evt(0, "obs:1")}}))

	select {
	case n := <-sub:
		assert.Equal(t, string(sess), n.SessionId)
		assert.Equal(t, schema.KindObservationRecorded, n.Kind)
	default:
		t.Fatal("expected a notification after a successful append")
	}
}

func TestAppendReplayDoesNotRepublish(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	bus := events.NewBus()
	store.SetBus(bus)
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	sess := ids.SessionId("sess_aaaaaaaaaaaaaaaaaaaaaaaaaa")
	w := heldWitness(sess)
	plan := AppendPlan{Events: []schema.DomainEvent{evt(0, "obs:1")}}
	require.NoError(t, store.Append(w, sess, plan))
	<-sub

	require.NoError(t, store.Append(w, sess, plan))
	select {
	case n := <-sub:
		t.Fatalf("replayed no-op append must not publish again, got %+v", n)
	default:
	}
}
