// Package snapshotstore implements the content-addressed execution-snapshot
// store (C5): put canonicalizes and hashes a snapshot, writing it once under
// its digest; get reads it back or reports absence. This generalizes the
// teacher's GenerateStateSnapshot/CompareAndVerify hash-then-compare pattern
// (internal/snapshot/snapshot.go) from a one-shot comparison into a durable,
// idempotent, content-addressed filesystem store.
package snapshotstore

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/workrail/core/internal/codec"
	"github.com/workrail/core/internal/schema"
	"github.com/workrail/core/internal/workrailerr"
)

// Store is the snapshot store, rooted at <dataDir>/snapshots.
type Store struct {
	root string
}

// NewStore returns a Store rooted at dataDir.
func NewStore(dataDir string) *Store {
	return &Store{root: filepath.Join(dataDir, "snapshots")}
}

func (s *Store) pathFor(ref codec.Digest) string {
	hex := ref.Hex()
	shard := hex
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return filepath.Join(s.root, shard, hex+".json")
}

// Put canonicalizes and hashes snap, writing it to disk if no object with
// that digest already exists. Equal snapshots always yield the same ref.
func (s *Store) Put(snap schema.ExecutionSnapshot) (codec.Digest, error) {
	if err := snap.Validate(); err != nil {
		return "", workrailerr.Newf(workrailerr.CodeSnapshotStoreCorruption, "snapshot failed schema validation: %v", err)
	}
	b, err := canonicalBytes(snap)
	if err != nil {
		return "", err
	}
	ref := codec.SHA256(b)
	path := s.pathFor(ref)

	if _, err := os.Stat(path); err == nil {
		return ref, nil // write-once: a late writer of identical content is a no-op.
	} else if !os.IsNotExist(err) {
		return "", workrailerr.Newf(workrailerr.CodeSnapshotStoreCorruption, "failed to stat snapshot path: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", workrailerr.Newf(workrailerr.CodeSnapshotStoreCorruption, "failed to create snapshot shard directory: %v", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return "", workrailerr.Newf(workrailerr.CodeSnapshotStoreCorruption, "failed to write snapshot temp file: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", workrailerr.Newf(workrailerr.CodeSnapshotStoreCorruption, "failed to rename snapshot temp file: %v", err)
	}
	return ref, nil
}

// Get returns the snapshot stored at ref, or (zero, false, nil) if absent.
// A digest mismatch against the path it was read from is corruption, not
// absence.
func (s *Store) Get(ref codec.Digest) (schema.ExecutionSnapshot, bool, error) {
	path := s.pathFor(ref)
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return schema.ExecutionSnapshot{}, false, nil
	}
	if err != nil {
		return schema.ExecutionSnapshot{}, false, workrailerr.Newf(workrailerr.CodeSnapshotStoreCorruption, "failed to read snapshot: %v", err)
	}
	if codec.SHA256(b) != ref {
		return schema.ExecutionSnapshot{}, false, workrailerr.New(workrailerr.CodeSnapshotStoreCorruption, "snapshot content does not match its own path digest")
	}
	var snap schema.ExecutionSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return schema.ExecutionSnapshot{}, false, workrailerr.Newf(workrailerr.CodeSnapshotStoreCorruption, "snapshot content is not valid JSON: %v", err)
	}
	return snap, true, nil
}

func canonicalBytes(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, workrailerr.Newf(workrailerr.CodeSnapshotStoreCorruption, "failed to encode snapshot: %v", err)
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return nil, workrailerr.Newf(workrailerr.CodeSnapshotStoreCorruption, "failed to decode snapshot for canonicalization: %v", err)
	}
	return codec.Canonicalize(generic)
}
