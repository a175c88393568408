// Package ids implements the branded identifier layer (C2, part one):
// SessionId, RunId, NodeId, EventId, AttemptId, OutputId, each a distinct Go
// type wrapping a string of the grammar "<prefix>_<base32-lower>{26}" (128
// bits of entropy), so that passing a RunId where a NodeId is expected is a
// compile-time error. Minting is grounded on the teacher's id-stamping style
// in internal/security/token_broker.go (fmt.Sprintf("tok_%s_%d", ...)),
// generalized to real entropy per spec.md §4.2.
package ids

import (
	"crypto/rand"
	"regexp"

	"github.com/workrail/core/internal/codec"
	"github.com/workrail/core/internal/workrailerr"
)

// entropyBytes is 16 bytes == 128 bits, per spec.md §3.
const entropyBytes = 16

// base32-lower of 16 bytes (no padding) is always 26 characters.
const encodedLen = 26

var idPattern = regexp.MustCompile(`^[a-z0-9_]+_[a-z2-7]{26}$`)

// SessionId, RunId, NodeId, EventId, AttemptId, OutputId are branded string
// types. Each has the same shape but a distinct Go type so the compiler
// rejects mixing them up.
type (
	SessionId string
	RunId     string
	NodeId    string
	EventId   string
	AttemptId string
	OutputId  string
)

// EntropySource draws n bytes of cryptographic randomness. Implementations
// that return fewer than n bytes must report an error; the factory maps any
// IO-backed failure to ENTROPY_EXHAUSTED.
type EntropySource interface {
	Read(n int) ([]byte, error)
}

// cryptoRandSource is the default EntropySource, backed by crypto/rand.
type cryptoRandSource struct{}

func (cryptoRandSource) Read(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// DefaultEntropySource is the process-wide crypto/rand-backed source.
var DefaultEntropySource EntropySource = cryptoRandSource{}

// Factory mints fresh branded ids. It is the sole component permitted to
// draw entropy for identifiers; everything else consumes already-minted ids.
type Factory struct {
	entropy EntropySource
}

// NewFactory builds a Factory over the given entropy source. Pass nil to use
// DefaultEntropySource.
func NewFactory(entropy EntropySource) *Factory {
	if entropy == nil {
		entropy = DefaultEntropySource
	}
	return &Factory{entropy: entropy}
}

// mint draws entropyBytes of randomness and encodes "<prefix>_<base32>".
func (f *Factory) mint(prefix string) (string, error) {
	b, err := f.entropy.Read(entropyBytes)
	if err != nil || len(b) < entropyBytes {
		return "", workrailerr.New(workrailerr.CodeEntropyExhausted, "entropy source returned fewer than 16 bytes")
	}
	return prefix + "_" + codec.Base32LowerNoPad(b), nil
}

// NewSessionId mints a fresh SessionId.
func (f *Factory) NewSessionId() (SessionId, error) {
	s, err := f.mint("sess")
	return SessionId(s), err
}

// NewRunId mints a fresh RunId.
func (f *Factory) NewRunId() (RunId, error) {
	s, err := f.mint("run")
	return RunId(s), err
}

// NewNodeId mints a fresh NodeId.
func (f *Factory) NewNodeId() (NodeId, error) {
	s, err := f.mint("node")
	return NodeId(s), err
}

// NewEventId mints a fresh EventId. Per spec.md §4.3, event ids are
// server-minted and must never be used to derive a dedupeKey.
func (f *Factory) NewEventId() (EventId, error) {
	s, err := f.mint("evt")
	return EventId(s), err
}

// NewAttemptId mints a fresh AttemptId.
func (f *Factory) NewAttemptId() (AttemptId, error) {
	s, err := f.mint("att")
	return AttemptId(s), err
}

// NewOutputId mints a fresh OutputId.
func (f *Factory) NewOutputId() (OutputId, error) {
	s, err := f.mint("out")
	return OutputId(s), err
}

// Valid reports whether s matches the "<prefix>_<base32-lower>{26}" grammar
// with the given expected prefix.
func Valid(s, prefix string) bool {
	if !idPattern.MatchString(s) {
		return false
	}
	return len(s) == len(prefix)+1+encodedLen && s[:len(prefix)] == prefix && s[len(prefix)] == '_'
}
