package usecases

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/workrail/core/internal/ids"
	"github.com/workrail/core/internal/schema"
	"github.com/workrail/core/internal/token"
	"github.com/workrail/core/internal/workrailerr"
)

func TestContinueWorkflowAdvanceAppendsExactlyOnceAcrossReplays(t *testing.T) {
	u, idFactory, _ := newTestUsecases(t)
	kr := testKeyring(t, u)

	sess, err := idFactory.NewSessionId()
	require.NoError(t, err)
	run, err := idFactory.NewRunId()
	require.NoError(t, err)
	node, err := idFactory.NewNodeId()
	require.NoError(t, err)
	att, err := idFactory.NewAttemptId()
	require.NoError(t, err)

	state := signState(t, kr, sess, run, node, "workflow-1")
	ack := signAck(t, kr, sess, run, node, att)

	calls := 0
	compute := func(stateClaims, ackClaims token.Claims) (schema.AdvanceOutcome, error) {
		calls++
		return schema.AdvanceOutcome{Kind: schema.AdvanceAdvanced, NewNodeId: "node_next"}, nil
	}

	req := ContinueWorkflowRequest{OwnerId: "owner-1", Intent: IntentAdvance, StateToken: state, AckToken: ack}

	for i := 0; i < 3; i++ {
		result, prompt, err := u.ContinueWorkflow(req, compute)
		require.NoError(t, err)
		assert.Nil(t, prompt)
		assert.Equal(t, schema.AdvanceAdvanced, result.Outcome.Kind)
		assert.Equal(t, ids.NodeId("node_next"), result.Outcome.NewNodeId)
		if i == 0 {
			assert.False(t, result.Replayed)
		} else {
			assert.True(t, result.Replayed, "replayed call must report Replayed=true")
		}
	}
	assert.Equal(t, 1, calls, "compute must only be invoked once across replays")

	truth, err := u.store.Load(sess)
	require.NoError(t, err)
	advanceCount := 0
	for _, ev := range truth.Events {
		if ev.Kind == schema.KindAdvanceRecorded {
			advanceCount++
		}
	}
	assert.Equal(t, 1, advanceCount, "exactly one advance_recorded event must exist in the log")
}

func TestContinueWorkflowRejectsAckTokenOnRehydrate(t *testing.T) {
	u, idFactory, _ := newTestUsecases(t)
	kr := testKeyring(t, u)

	sess, err := idFactory.NewSessionId()
	require.NoError(t, err)
	run, err := idFactory.NewRunId()
	require.NoError(t, err)
	node, err := idFactory.NewNodeId()
	require.NoError(t, err)
	att, err := idFactory.NewAttemptId()
	require.NoError(t, err)

	state := signState(t, kr, sess, run, node, "workflow-1")
	ack := signAck(t, kr, sess, run, node, att)

	req := ContinueWorkflowRequest{OwnerId: "owner-1", Intent: IntentRehydrate, StateToken: state, AckToken: ack}
	_, _, err = u.ContinueWorkflow(req, nil)
	require.Error(t, err)
	var werr *workrailerr.Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, workrailerr.CodeTokenKindMismatch, werr.Code)
}

func TestContinueWorkflowRehydrateReturnsPromptWithoutAppending(t *testing.T) {
	u, idFactory, _ := newTestUsecases(t)
	kr := testKeyring(t, u)

	sess, err := idFactory.NewSessionId()
	require.NoError(t, err)
	run, err := idFactory.NewRunId()
	require.NoError(t, err)
	node, err := idFactory.NewNodeId()
	require.NoError(t, err)

	seedRunAndNode(t, u, sess, run, node)

	state := signState(t, kr, sess, run, node, "workflow-1")
	req := ContinueWorkflowRequest{OwnerId: "owner-1", Intent: IntentRehydrate, StateToken: state}

	result, prompt, err := u.ContinueWorkflow(req, nil)
	require.NoError(t, err)
	require.NotNil(t, prompt)
	assert.Equal(t, node, prompt.NodeId)
	assert.Empty(t, result.Outcome.Kind)
}

func TestContinueWorkflowRequiresAckTokenForAdvance(t *testing.T) {
	u, idFactory, _ := newTestUsecases(t)
	kr := testKeyring(t, u)

	sess, err := idFactory.NewSessionId()
	require.NoError(t, err)
	run, err := idFactory.NewRunId()
	require.NoError(t, err)
	node, err := idFactory.NewNodeId()
	require.NoError(t, err)

	state := signState(t, kr, sess, run, node, "workflow-1")
	req := ContinueWorkflowRequest{OwnerId: "owner-1", Intent: IntentAdvance, StateToken: state}

	_, _, err = u.ContinueWorkflow(req, func(token.Claims, token.Claims) (schema.AdvanceOutcome, error) {
		t.Fatal("compute must not run without an ack token")
		return schema.AdvanceOutcome{}, nil
	})
	require.Error(t, err)
	var werr *workrailerr.Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, workrailerr.CodeTokenKindMismatch, werr.Code)
}
