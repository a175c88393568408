package schema

import "github.com/workrail/core/internal/ids"
import "github.com/workrail/core/internal/codec"

// ManifestKind is the closed set of manifest record tags. snapshot_pinned is
// an implementation extension of spec.md §3's two-member set, recording the
// snapshotPins an AppendPlan carries (spec.md §4.3 requires these be
// "recorded in the manifest" but does not give them their own schema);
// resolved and documented in DESIGN.md.
type ManifestKind string

const (
	ManifestSegmentOpened   ManifestKind = "segment_opened"
	ManifestSegmentClosed   ManifestKind = "segment_closed"
	ManifestSnapshotPinned  ManifestKind = "snapshot_pinned"
)

// ManifestRecord describes one segment file's lifecycle entry, or one
// snapshot pin, in manifest.jsonl. SegmentPath is relative to the session
// directory.
type ManifestRecord struct {
	Kind            ManifestKind `json:"kind"`
	ManifestIndex   int64        `json:"manifestIndex"`
	SegmentPath     string       `json:"segmentPath,omitempty"`
	FirstEventIndex int64        `json:"firstEventIndex,omitempty"`
	LastEventIndex  int64        `json:"lastEventIndex,omitempty"`
	Sha256          codec.Digest `json:"sha256,omitempty"`
	Bytes           int64        `json:"bytes,omitempty"`
	NodeId          ids.NodeId   `json:"nodeId,omitempty"`
	SnapshotRef     codec.Digest `json:"snapshotRef,omitempty"`
}
