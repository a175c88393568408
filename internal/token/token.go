// Package token implements the binary token codec (C2, part three): a
// 66-byte payload (version, kind, four 16-byte id slots) signed with
// HMAC-SHA256 and wire-encoded as bech32m, per spec.md §3/§4.2. The
// sign/verify/rotation-tolerant-verify shape is grounded directly on the
// teacher's internal/security/token_broker.go TokenBroker.IssueToken /
// VerifyToken, generalized from JSON+base64 claims to the fixed binary
// layout and bech32m wire form spec.md requires.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"strings"

	"github.com/workrail/core/internal/codec"
	"github.com/workrail/core/internal/ids"
	"github.com/workrail/core/internal/keyring"
	"github.com/workrail/core/internal/workrailerr"
)

// Kind is the closed set of token kinds.
type Kind byte

const (
	KindState      Kind = 0
	KindAck        Kind = 1
	KindCheckpoint Kind = 2
)

func (k Kind) hrp() (string, bool) {
	switch k {
	case KindState:
		return "st", true
	case KindAck:
		return "ack", true
	case KindCheckpoint:
		return "chk", true
	default:
		return "", false
	}
}

func hrpToKind(hrp string) (Kind, bool) {
	switch hrp {
	case "st":
		return KindState, true
	case "ack":
		return KindAck, true
	case "chk":
		return KindCheckpoint, true
	default:
		return 0, false
	}
}

const tokenVersion = 1
const payloadLen = 66 // 1 version + 1 kind + 4*16 id slots
const idSlotLen = 16
const numSlots = 4

// Payload is the decoded 66-byte token body. Slots 0-2 always carry
// sessionId/runId/nodeId. Slot 3 is kind-dependent: for a state token it
// carries workflowHashRef (the first 16 bytes of sha256(workflowHash)),
// since a state token resumes execution at a node rather than acknowledging
// one attempt; for ack and checkpoint tokens, which are scoped to a single
// attempt, slot 3 carries attemptId's entropy directly. This is a deliberate
// reading of spec.md §3's "state tokens also carry a workflowHashRef" within
// the fixed 66-byte budget, recorded in DESIGN.md.
type Payload struct {
	Version       byte
	Kind          Kind
	SessionIdSlot [idSlotLen]byte
	RunIdSlot     [idSlotLen]byte
	NodeIdSlot    [idSlotLen]byte
	Slot3         [idSlotLen]byte
}

// idSlotFromString decodes the base32-lower-encoded suffix of a branded id
// (after its "<prefix>_" tag) into a fixed 16-byte slot.
func idSlotFromString(id string) ([idSlotLen]byte, error) {
	var slot [idSlotLen]byte
	idx := strings.IndexByte(id, '_')
	if idx < 0 {
		return slot, workrailerr.New(workrailerr.CodeBinaryInvalidLength, "id missing prefix separator")
	}
	raw, err := codec.DecodeBase32LowerNoPad(id[idx+1:])
	if err != nil {
		return slot, workrailerr.Newf(workrailerr.CodeBinaryInvalidLength, "id suffix is not valid base32: %v", err)
	}
	if len(raw) != idSlotLen {
		return slot, workrailerr.Newf(workrailerr.CodeBinaryInvalidLength, "id entropy must be %d bytes, got %d", idSlotLen, len(raw))
	}
	copy(slot[:], raw)
	return slot, nil
}

// Claims is the caller-facing, id-typed view of a token's contents.
// WorkflowHash is only meaningful (and required) for KindState, and only on
// the Sign/Pack input side — WorkflowHashRef is the one-way value actually
// carried on the wire and is what Unpack populates back for KindState.
// AttemptId is only meaningful (and required) for KindAck and KindCheckpoint.
type Claims struct {
	Kind            Kind
	SessionId       ids.SessionId
	RunId           ids.RunId
	NodeId          ids.NodeId
	AttemptId       ids.AttemptId
	WorkflowHash    codec.Digest
	WorkflowHashRef [idSlotLen]byte
}

// Pack renders c into the fixed 66-byte binary payload.
func Pack(c Claims) ([]byte, error) {
	sessSlot, err := idSlotFromString(string(c.SessionId))
	if err != nil {
		return nil, err
	}
	runSlot, err := idSlotFromString(string(c.RunId))
	if err != nil {
		return nil, err
	}
	nodeSlot, err := idSlotFromString(string(c.NodeId))
	if err != nil {
		return nil, err
	}

	var slot3 [idSlotLen]byte
	switch c.Kind {
	case KindState:
		if !c.WorkflowHash.Valid() {
			return nil, workrailerr.New(workrailerr.CodeBinaryInvalidLength, "state token requires a valid workflowHash")
		}
		sum := sha256.Sum256([]byte(c.WorkflowHash))
		copy(slot3[:], sum[:idSlotLen])
	case KindAck, KindCheckpoint:
		s, err := idSlotFromString(string(c.AttemptId))
		if err != nil {
			return nil, err
		}
		slot3 = s
	default:
		return nil, workrailerr.New(workrailerr.CodeTokenKindMismatch, "unknown token kind")
	}

	out := make([]byte, 0, payloadLen)
	out = append(out, tokenVersion, byte(c.Kind))
	out = append(out, sessSlot[:]...)
	out = append(out, runSlot[:]...)
	out = append(out, nodeSlot[:]...)
	out = append(out, slot3[:]...)
	return out, nil
}

// WorkflowHashRef returns the 16-byte workflowHashRef that would be embedded
// in a state token's payload for the given workflowHash, for comparison
// against a parsed token's Slot3 without needing the original hash on hand.
func WorkflowHashRef(workflowHash codec.Digest) [idSlotLen]byte {
	var ref [idSlotLen]byte
	sum := sha256.Sum256([]byte(workflowHash))
	copy(ref[:], sum[:idSlotLen])
	return ref
}

// Sign packs c, HMAC-signs it with the keyring's current key, and wire
// encodes it as bech32m with an hrp matching c.Kind. Signing the same claims
// under the same keyring always produces byte-identical tokens.
func Sign(c Claims, kr keyring.Record) (string, error) {
	hrp, ok := c.Kind.hrp()
	if !ok {
		return "", workrailerr.New(workrailerr.CodeTokenKindMismatch, "unknown token kind")
	}
	payload, err := Pack(c)
	if err != nil {
		return "", err
	}
	key, err := kr.RawCurrent()
	if err != nil {
		return "", err
	}
	sig := hmacSign(key, payload)
	wire := append(append([]byte{}, payload...), sig...)
	return codec.EncodeBech32m(hrp, wire)
}

func hmacSign(key, payload []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	return mac.Sum(nil)
}

// Parsed is the result of Parse: the bech32m hrp plus the split payload and
// signature bytes, before any HMAC verification has taken place.
type Parsed struct {
	HRP       string
	Payload   []byte
	Signature []byte
}

// Parse bech32m-decodes s under whichever of {st, ack, chk} prefixes s
// declares, and splits the result into payload and signature. It performs no
// HMAC verification.
func Parse(s string) (Parsed, error) {
	sep := strings.IndexByte(s, '1')
	if sep < 1 {
		return Parsed{}, workrailerr.New(workrailerr.CodeTokenInvalidFormat, "token missing bech32 separator")
	}
	hrp := s[:sep]
	if _, ok := hrpToKind(hrp); !ok {
		return Parsed{}, workrailerr.Newf(workrailerr.CodeTokenInvalidFormat, "unrecognized token prefix %q", hrp)
	}
	wire, err := codec.DecodeBech32m(s, hrp)
	if err != nil {
		return Parsed{}, workrailerr.Newf(workrailerr.CodeTokenInvalidFormat, "bech32m decode failed: %v", err)
	}
	if len(wire) != payloadLen+sha256.Size {
		return Parsed{}, workrailerr.Newf(workrailerr.CodeTokenInvalidFormat, "unexpected decoded length %d", len(wire))
	}
	return Parsed{HRP: hrp, Payload: wire[:payloadLen], Signature: wire[payloadLen:]}, nil
}

// Unpack decodes a raw 66-byte payload back into Claims. The caller has
// typically already verified the signature via Verify.
func Unpack(payload []byte) (Claims, error) {
	if len(payload) != payloadLen {
		return Claims{}, workrailerr.Newf(workrailerr.CodeBinaryInvalidLength, "payload must be %d bytes, got %d", payloadLen, len(payload))
	}
	kind := Kind(payload[1])
	if _, ok := kind.hrp(); !ok {
		return Claims{}, workrailerr.New(workrailerr.CodeTokenKindMismatch, "unknown token kind byte")
	}
	off := 2
	sess := slotToId("sess", payload[off:off+idSlotLen])
	off += idSlotLen
	run := slotToId("run", payload[off:off+idSlotLen])
	off += idSlotLen
	node := slotToId("node", payload[off:off+idSlotLen])
	off += idSlotLen
	slot3 := payload[off : off+idSlotLen]

	claims := Claims{
		Kind:      kind,
		SessionId: ids.SessionId(sess),
		RunId:     ids.RunId(run),
		NodeId:    ids.NodeId(node),
	}
	switch kind {
	case KindState:
		// Slot3 holds a one-way workflowHashRef, not recoverable to the
		// original workflowHash; callers compare it against a known
		// workflowHash via the package-level WorkflowHashRef function.
		copy(claims.WorkflowHashRef[:], slot3)
	case KindAck, KindCheckpoint:
		claims.AttemptId = ids.AttemptId(slotToId("att", slot3))
	}
	return claims, nil
}

func slotToId(prefix string, slot []byte) string {
	return prefix + "_" + codec.Base32LowerNoPad(slot)
}

// Verify recomputes the HMAC over parsed.Payload and compares it, in
// constant time, against parsed.Signature — first under kr.Current, then
// kr.Previous if present. It also checks that parsed.HRP agrees with the
// payload's own kind byte.
func Verify(parsed Parsed, kr keyring.Record) (Claims, error) {
	kind := Kind(parsed.Payload[1])
	hrp, ok := kind.hrp()
	if !ok || hrp != parsed.HRP {
		return Claims{}, workrailerr.New(workrailerr.CodeTokenKindMismatch, "hrp does not match payload token kind")
	}

	current, err := kr.RawCurrent()
	if err != nil {
		return Claims{}, err
	}
	if hmac.Equal(hmacSign(current, parsed.Payload), parsed.Signature) {
		return Unpack(parsed.Payload)
	}

	previous, err := kr.RawPrevious()
	if err != nil {
		return Claims{}, err
	}
	if previous != nil && hmac.Equal(hmacSign(previous, parsed.Payload), parsed.Signature) {
		return Unpack(parsed.Payload)
	}

	return Claims{}, workrailerr.New(workrailerr.CodeTokenBadSignature, "signature did not verify under current or previous key")
}

// ParseAndVerify is the common caller-facing entry point: parse then verify.
func ParseAndVerify(s string, kr keyring.Record) (Claims, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Claims{}, err
	}
	return Verify(parsed, kr)
}
