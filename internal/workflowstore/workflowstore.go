// Package workflowstore implements the pinned-workflow store (C6): identical
// in shape to the snapshot store, but keyed by the caller-supplied
// workflowHash rather than a hash the store computes itself, since the
// compiled workflow document is produced upstream (the workflow compiler is
// out of scope per spec.md §1).
package workflowstore

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/workrail/core/internal/codec"
	"github.com/workrail/core/internal/workrailerr"
)

// Store is the pinned-workflow store, rooted at <dataDir>/pinnedWorkflows.
type Store struct {
	root string
}

// NewStore returns a Store rooted at dataDir.
func NewStore(dataDir string) *Store {
	return &Store{root: filepath.Join(dataDir, "pinnedWorkflows")}
}

func (s *Store) pathFor(hash codec.Digest) string {
	hex := hash.Hex()
	shard := hex
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return filepath.Join(s.root, shard, hex+".json")
}

// Put writes compiled under hash if absent (write-once); a concurrent or
// repeated Put of the same hash is a no-op for the late writer.
func (s *Store) Put(hash codec.Digest, compiled map[string]any) error {
	if !hash.Valid() {
		return workrailerr.New(workrailerr.CodeSnapshotStoreCorruption, "workflowHash is not a valid sha256 digest")
	}
	path := s.pathFor(hash)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return workrailerr.Newf(workrailerr.CodeSnapshotStoreCorruption, "failed to stat pinned workflow path: %v", err)
	}

	b, err := json.Marshal(compiled)
	if err != nil {
		return workrailerr.Newf(workrailerr.CodeSnapshotStoreCorruption, "failed to encode pinned workflow: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return workrailerr.Newf(workrailerr.CodeSnapshotStoreCorruption, "failed to create pinned workflow shard directory: %v", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return workrailerr.Newf(workrailerr.CodeSnapshotStoreCorruption, "failed to write pinned workflow temp file: %v", err)
	}
	return os.Rename(tmp, path)
}

// Get returns the compiled workflow stored under hash, or (nil, false, nil)
// if absent.
func (s *Store) Get(hash codec.Digest) (map[string]any, bool, error) {
	path := s.pathFor(hash)
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, workrailerr.Newf(workrailerr.CodeSnapshotStoreCorruption, "failed to read pinned workflow: %v", err)
	}
	var compiled map[string]any
	if err := json.Unmarshal(b, &compiled); err != nil {
		return nil, false, workrailerr.Newf(workrailerr.CodeSnapshotStoreCorruption, "pinned workflow content is not valid JSON: %v", err)
	}
	return compiled, true, nil
}
