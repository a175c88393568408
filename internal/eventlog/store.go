package eventlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"

	"github.com/workrail/core/internal/codec"
	"github.com/workrail/core/internal/events"
	"github.com/workrail/core/internal/ids"
	"github.com/workrail/core/internal/schema"
	"github.com/workrail/core/internal/workrailerr"
)

// Store is the session event-log store (C4), rooted at dataDir.
type Store struct {
	dataDir string
	bus     *events.Bus
}

// NewStore returns a Store rooted at dataDir (typically $WORKRAIL_DATA_DIR).
func NewStore(dataDir string) *Store {
	return &Store{dataDir: dataDir}
}

// SetBus attaches an in-process notification bus: every event a later
// Append call commits is published to it after the manifest write succeeds.
// A Store with no bus attached publishes nothing; this is strictly an
// observer side channel, never consulted for correctness.
func (s *Store) SetBus(bus *events.Bus) {
	s.bus = bus
}

// SnapshotPin records that a node's execution snapshot has been pinned to a
// ref, to be recorded in the manifest alongside the events that pin it.
type SnapshotPin struct {
	NodeId      ids.NodeId
	SnapshotRef codec.Digest
}

// AppendPlan is a batch of new events plus any snapshot pins to commit
// atomically in a single manifest/segment update.
type AppendPlan struct {
	Events       []schema.DomainEvent
	SnapshotPins []SnapshotPin
}

// IsEmpty reports whether the plan has nothing to commit.
func (p AppendPlan) IsEmpty() bool {
	return len(p.Events) == 0 && len(p.SnapshotPins) == 0
}

// TailReason is the closed set of reasons loadValidatedPrefix truncates the
// tail of a session's log.
type TailReason string

const (
	TailMissingAttestedSegment TailReason = "missing_attested_segment"
	TailNonContiguousIndices   TailReason = "non_contiguous_indices"
	TailDigestMismatch         TailReason = "digest_mismatch"
	TailSchemaViolation        TailReason = "schema_violation"
)

// Truth is the accumulated state loadValidatedPrefix or Load returns: the
// ordered event prefix and the manifest records that attest it.
type Truth struct {
	Events   []schema.DomainEvent
	Manifest []schema.ManifestRecord
}

// ValidatedPrefixResult is loadValidatedPrefix's return value.
type ValidatedPrefixResult struct {
	Truth      Truth
	IsComplete bool
	TailReason TailReason
}

// Load performs a strict full load: any corruption anywhere in the manifest
// fails the whole call with SESSION_STORE_CORRUPTION_DETECTED.
func (s *Store) Load(sessionId ids.SessionId) (Truth, error) {
	result, err := s.loadInternal(sessionId, true)
	if err != nil {
		return Truth{}, err
	}
	return result.Truth, nil
}

// LoadValidatedPrefix returns the longest valid prefix of a session's log,
// tolerating a truncated or corrupt tail.
func (s *Store) LoadValidatedPrefix(sessionId ids.SessionId) (ValidatedPrefixResult, error) {
	return s.loadInternal(sessionId, false)
}

func (s *Store) loadInternal(sessionId ids.SessionId, strict bool) (ValidatedPrefixResult, error) {
	mpath := manifestPath(s.dataDir, string(sessionId))
	records, err := readManifest(mpath)
	if err != nil {
		if os.IsNotExist(err) {
			return ValidatedPrefixResult{IsComplete: true}, nil
		}
		if strict {
			return ValidatedPrefixResult{}, workrailerr.Newf(workrailerr.CodeSessionStoreCorruption, "failed to read manifest: %v", err)
		}
		return ValidatedPrefixResult{TailReason: TailSchemaViolation}, nil
	}

	var events []schema.DomainEvent
	var attested []schema.ManifestRecord
	lastEventIndex := int64(-1)

	for _, rec := range records {
		switch rec.Kind {
		case schema.ManifestSnapshotPinned:
			attested = append(attested, rec)
			continue
		case schema.ManifestSegmentOpened:
			continue
		case schema.ManifestSegmentClosed:
			segEvents, reason, rerr := readAndVerifySegment(s.dataDir, string(sessionId), rec)
			if rerr != nil {
				if strict {
					return ValidatedPrefixResult{}, rerr
				}
				return ValidatedPrefixResult{
					Truth:      Truth{Events: events, Manifest: attested},
					IsComplete: false,
					TailReason: reason,
				}, nil
			}
			for _, ev := range segEvents {
				if ev.EventIndex != lastEventIndex+1 {
					if strict {
						return ValidatedPrefixResult{}, workrailerr.New(workrailerr.CodeSessionStoreCorruption, "non-contiguous event index in attested segment")
					}
					return ValidatedPrefixResult{
						Truth:      Truth{Events: events, Manifest: attested},
						IsComplete: false,
						TailReason: TailNonContiguousIndices,
					}, nil
				}
				lastEventIndex = ev.EventIndex
				events = append(events, ev)
			}
			attested = append(attested, rec)
		default:
			if strict {
				return ValidatedPrefixResult{}, workrailerr.Newf(workrailerr.CodeSessionStoreCorruption, "unknown manifest record kind %q", rec.Kind)
			}
			return ValidatedPrefixResult{
				Truth:      Truth{Events: events, Manifest: attested},
				IsComplete: false,
				TailReason: TailSchemaViolation,
			}, nil
		}
	}

	return ValidatedPrefixResult{Truth: Truth{Events: events, Manifest: attested}, IsComplete: true}, nil
}

// readAndVerifySegment reads the segment file rec points to and checks its
// digest and byte length against the manifest's attestation.
func readAndVerifySegment(dataDir, sessionId string, rec schema.ManifestRecord) ([]schema.DomainEvent, TailReason, error) {
	full := sessionDirJoin(dataDir, sessionId, rec.SegmentPath)
	b, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, TailMissingAttestedSegment, workrailerr.Newf(workrailerr.CodeSessionStoreCorruption, "missing attested segment %q", rec.SegmentPath)
		}
		return nil, TailMissingAttestedSegment, workrailerr.Newf(workrailerr.CodeSessionStoreCorruption, "failed to read segment %q: %v", rec.SegmentPath, err)
	}
	if int64(len(b)) != rec.Bytes || codec.SHA256(b) != rec.Sha256 {
		return nil, TailDigestMismatch, workrailerr.Newf(workrailerr.CodeSessionStoreCorruption, "digest mismatch for segment %q", rec.SegmentPath)
	}

	var events []schema.DomainEvent
	scanner := bufio.NewScanner(bytes.NewReader(b))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev schema.DomainEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, TailSchemaViolation, workrailerr.Newf(workrailerr.CodeSessionStoreCorruption, "malformed event line in %q: %v", rec.SegmentPath, err)
		}
		if !schema.KnownKind(ev.Kind) {
			return nil, TailSchemaViolation, workrailerr.Newf(workrailerr.CodeSessionStoreCorruption, "unknown event kind %q in segment %q", ev.Kind, rec.SegmentPath)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, TailSchemaViolation, workrailerr.Newf(workrailerr.CodeSessionStoreCorruption, "failed to scan segment %q: %v", rec.SegmentPath, err)
	}
	return events, "", nil
}
