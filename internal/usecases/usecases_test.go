package usecases

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/workrail/core/internal/codec"
	"github.com/workrail/core/internal/eventlog"
	"github.com/workrail/core/internal/gate"
	"github.com/workrail/core/internal/ids"
	"github.com/workrail/core/internal/keyring"
	"github.com/workrail/core/internal/schema"
	"github.com/workrail/core/internal/token"
)

func newTestUsecases(t *testing.T) (*Usecases, *ids.Factory, string) {
	t.Helper()
	dir := t.TempDir()
	store := eventlog.NewStore(dir)
	g := gate.New(store, dir)
	keys := keyring.NewStore(filepath.Join(dir, "keys", "keyring.json"))
	idFactory := ids.NewFactory(nil)
	u := New(idFactory, g, store, keys, dir, Options{RecoveryBudgetBytes: 4096, MaxResumeCandidates: 50})
	return u, idFactory, dir
}

func testKeyring(t *testing.T, u *Usecases) keyring.Record {
	t.Helper()
	kr, err := u.currentKeyring()
	require.NoError(t, err)
	return kr
}

func signState(t *testing.T, kr keyring.Record, sess ids.SessionId, run ids.RunId, node ids.NodeId, workflowHash string) string {
	t.Helper()
	wire, err := token.Sign(token.Claims{Kind: token.KindState, SessionId: sess, RunId: run, NodeId: node, WorkflowHash: codec.SHA256([]byte(workflowHash))}, kr)
	require.NoError(t, err)
	return wire
}

func signAck(t *testing.T, kr keyring.Record, sess ids.SessionId, run ids.RunId, node ids.NodeId, att ids.AttemptId) string {
	t.Helper()
	wire, err := token.Sign(token.Claims{Kind: token.KindAck, SessionId: sess, RunId: run, NodeId: node, AttemptId: att}, kr)
	require.NoError(t, err)
	return wire
}

// seedRunAndNode appends a run_started + node_created pair through the gate
// so projection-backed use cases (rehydrate, recovery) have a run DAG to
// work with.
func seedRunAndNode(t *testing.T, u *Usecases, sess ids.SessionId, run ids.RunId, node ids.NodeId) {
	t.Helper()
	err := u.gate.WithHealthySessionLock("test-seed", sess, func(witness eventlog.Witness) error {
		eventId1, err := u.ids.NewEventId()
		require.NoError(t, err)
		ev1, err := schema.NewEvent(eventId1, 0, sess, schema.KindRunStarted, "run:started", nil,
			schema.RunStartedData{RunId: run, RootNodeId: node, WorkflowHash: codec.SHA256([]byte("workflow-1"))})
		require.NoError(t, err)

		eventId2, err := u.ids.NewEventId()
		require.NoError(t, err)
		ev2, err := schema.NewEvent(eventId2, 1, sess, schema.KindNodeCreated, "node:created", &schema.Scope{RunId: run},
			schema.NodeCreatedData{NodeId: node, StepId: "start"})
		require.NoError(t, err)

		return u.store.Append(witness, sess, eventlog.AppendPlan{Events: []schema.DomainEvent{ev1, ev2}})
	})
	require.NoError(t, err)
}
