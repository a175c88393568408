// Package keyring implements the HMAC keyring (C2, part two): a current and
// optional previous 32-byte key persisted as JSON, with atomic rotation.
// This is a direct generalization of the teacher's
// internal/security/token_broker.go TokenBroker, which already carries a
// current secret, a PreviousHMACSecret, and a RotationGracePeriod — we keep
// that current/previous shape and drop the time-boxed grace window, since
// spec.md §3 makes the previous key valid indefinitely until the next
// rotation discards it.
package keyring

import (
	"crypto/rand"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/workrail/core/internal/codec"
	"github.com/workrail/core/internal/workrailerr"
)

const keyBytes = 32

// Key is a single HMAC-SHA256 key record.
type Key struct {
	Alg         string `json:"alg"`
	KeyBase64Url string `json:"keyBase64Url"`
}

// Record is the persisted keyring document, JSON-identical to what
// loadOrCreate/rotate read and write.
type Record struct {
	V        int  `json:"v"`
	Current  Key  `json:"current"`
	Previous *Key `json:"previous"`
}

// RawCurrent returns the decoded 32-byte current key.
func (r Record) RawCurrent() ([]byte, error) {
	return decodeKey(r.Current)
}

// RawPrevious returns the decoded 32-byte previous key, or nil if absent.
func (r Record) RawPrevious() ([]byte, error) {
	if r.Previous == nil {
		return nil, nil
	}
	return decodeKey(*r.Previous)
}

func decodeKey(k Key) ([]byte, error) {
	b, err := codec.DecodeBase64URLStrict(k.KeyBase64Url)
	if err != nil {
		return nil, workrailerr.New(workrailerr.CodeKeyringCorruption, "current/previous key is not valid base64url")
	}
	if len(b) != keyBytes {
		return nil, workrailerr.Newf(workrailerr.CodeKeyringCorruption, "key must be exactly %d raw bytes, got %d", keyBytes, len(b))
	}
	return b, nil
}

func freshKey() (Key, error) {
	raw := make([]byte, keyBytes)
	if _, err := rand.Read(raw); err != nil {
		return Key{}, workrailerr.Newf(workrailerr.CodeKeyringCorruption, "failed to draw key entropy: %v", err)
	}
	return Key{Alg: "hmac_sha256", KeyBase64Url: codec.Base64URLStrict(raw)}, nil
}

// Store is the keyring persistence port: loadOrCreate()/rotate() per
// spec.md §4.2. Corrupt or short keys surface as KEYRING_CORRUPTION_DETECTED
// rather than a thrown error, never panicking across the port boundary.
type Store struct {
	path string
}

// NewStore returns a Store persisting its record at path (typically
// "<dataDir>/keys/keyring.json").
func NewStore(path string) *Store {
	return &Store{path: path}
}

// LoadOrCreate reads the keyring file, creating a fresh one (with a newly
// drawn current key and no previous key) if the file does not yet exist.
func (s *Store) LoadOrCreate() (Record, error) {
	b, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		key, kerr := freshKey()
		if kerr != nil {
			return Record{}, kerr
		}
		rec := Record{V: 1, Current: key}
		if werr := s.write(rec); werr != nil {
			return Record{}, werr
		}
		return rec, nil
	}
	if err != nil {
		return Record{}, workrailerr.Newf(workrailerr.CodeKeyringCorruption, "failed to read keyring file: %v", err)
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return Record{}, workrailerr.Newf(workrailerr.CodeKeyringCorruption, "keyring file is not valid JSON: %v", err)
	}
	if rec.V != 1 {
		return Record{}, workrailerr.Newf(workrailerr.CodeKeyringCorruption, "unsupported keyring schema version %d", rec.V)
	}
	if _, err := rec.RawCurrent(); err != nil {
		return Record{}, err
	}
	if _, err := rec.RawPrevious(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Rotate advances current -> previous and draws a fresh current key,
// persisting the result atomically.
func (s *Store) Rotate() (Record, error) {
	existing, err := s.LoadOrCreate()
	if err != nil {
		return Record{}, err
	}
	fresh, err := freshKey()
	if err != nil {
		return Record{}, err
	}
	prev := existing.Current
	next := Record{V: 1, Current: fresh, Previous: &prev}
	if err := s.write(next); err != nil {
		return Record{}, err
	}
	return next, nil
}

// write persists rec via temp-file + rename for crash-atomicity, matching
// the append-store's durability discipline (spec.md §4.3/§5).
func (s *Store) write(rec Record) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return workrailerr.Newf(workrailerr.CodeKeyringCorruption, "failed to create keyring directory: %v", err)
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return workrailerr.Newf(workrailerr.CodeKeyringCorruption, "failed to marshal keyring: %v", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return workrailerr.Newf(workrailerr.CodeKeyringCorruption, "failed to write keyring temp file: %v", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return workrailerr.Newf(workrailerr.CodeKeyringCorruption, "failed to rename keyring temp file: %v", err)
	}
	return nil
}
