package snapshotstore

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/workrail/core/internal/codec"
	"github.com/workrail/core/internal/schema"
	"github.com/workrail/core/internal/workrailerr"
)

func sampleSnapshot() schema.ExecutionSnapshot {
	return schema.NewExecutionSnapshot(schema.EngineState{Kind: schema.EngineInit})
}

func TestPutIsContentAddressedAndIdempotent(t *testing.T) {
	store := NewStore(t.TempDir())
	ref1, err := store.Put(sampleSnapshot())
	require.NoError(t, err)
	ref2, err := store.Put(sampleSnapshot())
	require.NoError(t, err)
	assert.Equal(t, ref1, ref2)
}

func TestGetRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())
	ref, err := store.Put(sampleSnapshot())
	require.NoError(t, err)

	got, ok, err := store.Get(ref)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, schema.EngineInit, got.EnginePayload.EngineState.Kind)
}

func TestGetReturnsFalseForAbsentRef(t *testing.T) {
	store := NewStore(t.TempDir())
	absent := codec.Digest("sha256:" + strings.Repeat("0", 64))
	_, ok, err := store.Get(absent)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPutRejectsSnapshotFailingSchemaValidationAsSnapshotStoreCode(t *testing.T) {
	store := NewStore(t.TempDir())
	invalid := schema.NewExecutionSnapshot(schema.EngineState{Kind: "not_a_real_engine_state"})
	_, err := store.Put(invalid)
	require.Error(t, err)
	assert.Equal(t, workrailerr.CodeSnapshotStoreCorruption, workrailerr.CodeOf(err), "a schema-validation failure inside Put must surface C5's own code family, not schema's SCHEMA_INVARIANT_VIOLATION")
}

func TestGetDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	ref, err := store.Put(sampleSnapshot())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(store.pathFor(ref), []byte(`{"tampered":true}`), 0o600))

	_, _, err = store.Get(ref)
	assert.Error(t, err)
}
