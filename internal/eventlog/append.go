package eventlog

import (
	"os"

	"github.com/workrail/core/internal/ids"
	"github.com/workrail/core/internal/schema"
	"github.com/workrail/core/internal/workrailerr"
)

// Append atomically extends the session's log with plan.Events and records
// plan.SnapshotPins in the manifest, per spec.md §4.3. It enforces witness
// validity, event-index contiguity, and dedupe-key idempotency: a plan whose
// dedupe keys are a subset of what's already recorded is a no-op; a plan
// whose dedupe keys are disjoint from what's recorded is appended; a plan
// that partially overlaps fails without mutating anything.
func (s *Store) Append(witness Witness, sessionId ids.SessionId, plan AppendPlan) error {
	if witness.SessionId() != sessionId || !witness.AssertHeld() {
		return workrailerr.New(workrailerr.CodeSessionStoreInvariantViolation, "append called without a valid lock witness for this session")
	}
	if plan.IsEmpty() {
		return nil
	}

	truth, err := s.Load(sessionId)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(truth.Events))
	lastIndex := int64(-1)
	for _, ev := range truth.Events {
		seen[ev.DedupeKey] = true
		lastIndex = ev.EventIndex
	}

	overlap := 0
	for _, ev := range plan.Events {
		if seen[ev.DedupeKey] {
			overlap++
		}
	}
	switch {
	case len(plan.Events) > 0 && overlap == len(plan.Events):
		// D ⊆ S: the whole batch was already committed by a prior attempt.
		return nil
	case overlap > 0:
		return workrailerr.New(workrailerr.CodeSessionStoreInvariantViolation, "partial idempotency: dedupe keys partially overlap an already-committed batch")
	}

	for i, ev := range plan.Events {
		expected := lastIndex + int64(i) + 1
		if ev.EventIndex != expected {
			return workrailerr.Newf(workrailerr.CodeSessionStoreInvariantViolation, "expected eventIndex %d, got %d", expected, ev.EventIndex)
		}
		if err := ev.Validate(); err != nil {
			return workrailerr.Newf(workrailerr.CodeSessionStoreInvariantViolation, "event %d failed schema validation: %v", ev.EventIndex, err)
		}
	}

	mpath := manifestPath(s.dataDir, string(sessionId))
	existing, err := readManifest(mpath)
	if err != nil && !os.IsNotExist(err) {
		return workrailerr.Newf(workrailerr.CodeSessionStoreCorruption, "failed to read manifest before append: %v", err)
	}

	nextIndex := int64(len(existing))
	var newRecords []schema.ManifestRecord

	if len(plan.Events) > 0 {
		relPath := "segments/" + segmentFileName(nextIndex)
		digest, byteLen, werr := writeSegmentAtomic(sessionDirJoin(s.dataDir, string(sessionId), relPath), plan.Events)
		if werr != nil {
			return werr
		}
		first := plan.Events[0].EventIndex
		last := plan.Events[len(plan.Events)-1].EventIndex
		newRecords = append(newRecords,
			schema.ManifestRecord{Kind: schema.ManifestSegmentOpened, ManifestIndex: nextIndex, SegmentPath: relPath, FirstEventIndex: first, LastEventIndex: last},
			schema.ManifestRecord{Kind: schema.ManifestSegmentClosed, ManifestIndex: nextIndex + 1, SegmentPath: relPath, FirstEventIndex: first, LastEventIndex: last, Sha256: digest, Bytes: byteLen},
		)
		nextIndex += 2
	}

	for _, pin := range plan.SnapshotPins {
		newRecords = append(newRecords, schema.ManifestRecord{Kind: schema.ManifestSnapshotPinned, ManifestIndex: nextIndex, NodeId: pin.NodeId, SnapshotRef: pin.SnapshotRef})
		nextIndex++
	}

	if err := writeManifestAtomic(mpath, append(existing, newRecords...)); err != nil {
		return err
	}

	if s.bus != nil {
		for _, ev := range plan.Events {
			s.bus.Publish(string(sessionId), ev)
		}
	}
	return nil
}
