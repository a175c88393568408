package usecases

import (
	"github.com/workrail/core/internal/ids"
	"github.com/workrail/core/internal/token"
)

// CheckpointRequest identifies the point a checkpoint token should be
// minted at.
type CheckpointRequest struct {
	SessionId ids.SessionId
	RunId     ids.RunId
	NodeId    ids.NodeId
	AttemptId ids.AttemptId
}

// Checkpoint mints a checkpoint token per spec.md §4.8: purely a function of
// its inputs and the keyring's current key, so repeated calls with the same
// request are idempotent by construction (token.Sign is deterministic).
// This never touches the gate or the store — a checkpoint is a read of the
// current keyring, not a write to the session log.
func (u *Usecases) Checkpoint(req CheckpointRequest) (string, error) {
	kr, err := u.currentKeyring()
	if err != nil {
		return "", err
	}
	return token.Sign(token.Claims{
		Kind:      token.KindCheckpoint,
		SessionId: req.SessionId,
		RunId:     req.RunId,
		NodeId:    req.NodeId,
		AttemptId: req.AttemptId,
	}, kr)
}
