package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/workrail/core/internal/codec"
	"github.com/workrail/core/internal/ids"
	"github.com/workrail/core/internal/keyring"
)

func freshKeyring(t *testing.T) keyring.Record {
	t.Helper()
	store := keyring.NewStore(t.TempDir() + "/keyring.json")
	rec, err := store.LoadOrCreate()
	require.NoError(t, err)
	return rec
}

func sampleIds(t *testing.T) (ids.SessionId, ids.RunId, ids.NodeId, ids.AttemptId) {
	t.Helper()
	f := ids.NewFactory(nil)
	sess, err := f.NewSessionId()
	require.NoError(t, err)
	run, err := f.NewRunId()
	require.NoError(t, err)
	node, err := f.NewNodeId()
	require.NoError(t, err)
	att, err := f.NewAttemptId()
	require.NoError(t, err)
	return sess, run, node, att
}

func TestSignParseVerifyRoundTripAckToken(t *testing.T) {
	kr := freshKeyring(t)
	sess, run, node, att := sampleIds(t)

	claims := Claims{Kind: KindAck, SessionId: sess, RunId: run, NodeId: node, AttemptId: att}
	wire, err := Sign(claims, kr)
	require.NoError(t, err)
	assert.Contains(t, wire, "ack1")

	out, err := ParseAndVerify(wire, kr)
	require.NoError(t, err)
	assert.Equal(t, claims.SessionId, out.SessionId)
	assert.Equal(t, claims.RunId, out.RunId)
	assert.Equal(t, claims.NodeId, out.NodeId)
	assert.Equal(t, claims.AttemptId, out.AttemptId)
}

func TestSignParseVerifyRoundTripStateToken(t *testing.T) {
	kr := freshKeyring(t)
	sess, run, node, _ := sampleIds(t)
	hash := codec.SHA256([]byte("workflow body"))

	claims := Claims{Kind: KindState, SessionId: sess, RunId: run, NodeId: node, WorkflowHash: hash}
	wire, err := Sign(claims, kr)
	require.NoError(t, err)
	assert.Contains(t, wire, "st1")

	out, err := ParseAndVerify(wire, kr)
	require.NoError(t, err)
	assert.Equal(t, ids.AttemptId(""), out.AttemptId)
	assert.Equal(t, WorkflowHashRef(hash), out.WorkflowHashRef)
}

func TestSignRejectsStateTokenWithoutWorkflowHash(t *testing.T) {
	kr := freshKeyring(t)
	sess, run, node, _ := sampleIds(t)
	_, err := Sign(Claims{Kind: KindState, SessionId: sess, RunId: run, NodeId: node}, kr)
	assert.Error(t, err)
}

func TestVerifyAcceptsPreviousKeyDuringRotation(t *testing.T) {
	store := keyring.NewStore(t.TempDir() + "/keyring.json")
	kr, err := store.LoadOrCreate()
	require.NoError(t, err)
	sess, run, node, att := sampleIds(t)
	claims := Claims{Kind: KindCheckpoint, SessionId: sess, RunId: run, NodeId: node, AttemptId: att}

	wire, err := Sign(claims, kr)
	require.NoError(t, err)

	rotated, err := store.Rotate()
	require.NoError(t, err)

	out, err := ParseAndVerify(wire, rotated)
	require.NoError(t, err)
	assert.Equal(t, claims.AttemptId, out.AttemptId)
}

func TestVerifyRejectsTokenAfterTwoRotations(t *testing.T) {
	store := keyring.NewStore(t.TempDir() + "/keyring.json")
	kr, err := store.LoadOrCreate()
	require.NoError(t, err)
	sess, run, node, att := sampleIds(t)
	claims := Claims{Kind: KindCheckpoint, SessionId: sess, RunId: run, NodeId: node, AttemptId: att}

	wire, err := Sign(claims, kr)
	require.NoError(t, err)

	_, err = store.Rotate()
	require.NoError(t, err)
	twiceRotated, err := store.Rotate()
	require.NoError(t, err)

	_, err = ParseAndVerify(wire, twiceRotated)
	assert.Error(t, err)
}

func TestParseRejectsUnrecognizedPrefix(t *testing.T) {
	_, err := Parse("xx1qqqqqqqqqqqqqq")
	assert.Error(t, err)
}

func TestVerifyRejectsHrpKindMismatch(t *testing.T) {
	kr := freshKeyring(t)
	sess, run, node, att := sampleIds(t)
	claims := Claims{Kind: KindAck, SessionId: sess, RunId: run, NodeId: node, AttemptId: att}
	wire, err := Sign(claims, kr)
	require.NoError(t, err)

	// Re-encode the same payload+signature under the wrong hrp.
	parsed, err := Parse(wire)
	require.NoError(t, err)
	mismatched, err := codec.EncodeBech32m("chk", append(append([]byte{}, parsed.Payload...), parsed.Signature...))
	require.NoError(t, err)

	_, err = ParseAndVerify(mismatched, kr)
	assert.Error(t, err)
}

func TestVerifyRejectsSingleCharMutation(t *testing.T) {
	kr := freshKeyring(t)
	sess, run, node, att := sampleIds(t)
	claims := Claims{Kind: KindAck, SessionId: sess, RunId: run, NodeId: node, AttemptId: att}
	wire, err := Sign(claims, kr)
	require.NoError(t, err)

	mutated := []byte(wire)
	// Flip the last character, which lives inside the checksum/signature tail.
	last := mutated[len(mutated)-1]
	replacement := byte('q')
	if last == replacement {
		replacement = 'p'
	}
	mutated[len(mutated)-1] = replacement

	_, err = ParseAndVerify(string(mutated), kr)
	assert.Error(t, err)
}
