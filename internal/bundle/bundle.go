// Package bundle implements the export/import bundle format (C9): a
// deterministic, integrity-attested snapshot of an entire session that can
// round-trip through validateBundle with byte-for-byte reproducibility.
// Grounded on the teacher's evidence.VaultConfig deterministic-export shape
// (internal/evidence/vault.go) generalized from an evidence chain's export
// to a full session bundle. The bundleId is supplied by the caller
// (BuildInput.BundleId); this package mints no ids of its own.
package bundle

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/workrail/core/internal/codec"
	"github.com/workrail/core/internal/ids"
	"github.com/workrail/core/internal/schema"
	"github.com/workrail/core/internal/workrailerr"
)

const bundleSchemaVersion = 1

// BuildInput is everything Build needs to assemble a deterministic bundle.
type BuildInput struct {
	BundleId        string
	SessionId       ids.SessionId
	Events          []schema.DomainEvent
	Manifest        []schema.ManifestRecord
	Snapshots       map[codec.Digest]schema.ExecutionSnapshot
	PinnedWorkflows map[codec.Digest]map[string]any
	Producer        schema.BundleProducer
}

// Build assembles a Bundle per spec.md §4.7: canonicalize events and
// manifest separately, one integrity entry per snapshot and pinned
// workflow, with the final entry order sorted lexicographically by path.
func Build(in BuildInput) (schema.Bundle, error) {
	var entries []schema.IntegrityEntry

	eventsEntry, err := canonicalEntry("session/events", in.Events)
	if err != nil {
		return schema.Bundle{}, err
	}
	entries = append(entries, eventsEntry)

	manifestEntry, err := canonicalEntry("session/manifest", in.Manifest)
	if err != nil {
		return schema.Bundle{}, err
	}
	entries = append(entries, manifestEntry)

	snapshots := make(map[string]schema.ExecutionSnapshot, len(in.Snapshots))
	for ref, snap := range in.Snapshots {
		entry, err := canonicalEntry("snapshots/"+string(ref), snap)
		if err != nil {
			return schema.Bundle{}, err
		}
		entries = append(entries, entry)
		snapshots[string(ref)] = snap
	}

	pinnedWorkflows := make(map[string]map[string]any, len(in.PinnedWorkflows))
	for hash, wf := range in.PinnedWorkflows {
		entry, err := canonicalEntry("pinnedWorkflows/"+string(hash), wf)
		if err != nil {
			return schema.Bundle{}, err
		}
		entries = append(entries, entry)
		pinnedWorkflows[string(hash)] = wf
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	return schema.Bundle{
		BundleSchemaVersion: bundleSchemaVersion,
		BundleId:            in.BundleId,
		Producer:            in.Producer,
		Session: schema.SessionPayload{
			SessionId: string(in.SessionId),
			Events:    in.Events,
			Manifest:  in.Manifest,
		},
		Snapshots:       snapshots,
		PinnedWorkflows: pinnedWorkflows,
		Integrity:       schema.Integrity{Entries: entries},
	}, nil
}

func canonicalEntry(path string, v any) (schema.IntegrityEntry, error) {
	b, err := codec.Canonicalize(v)
	if err != nil {
		return schema.IntegrityEntry{}, workrailerr.Newf(workrailerr.CodeBundleInvalidFormat, "failed to canonicalize %s: %v", path, err)
	}
	return schema.IntegrityEntry{Path: path, Sha256: codec.SHA256(b), Bytes: int64(len(b))}, nil
}

// ValidateBundle runs the four locked-order validation phases over raw
// bundle bytes, returning the parsed Bundle only if every phase passes. The
// first failure wins; later phases never run once an earlier one fails.
func ValidateBundle(raw []byte) (schema.Bundle, error) {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return schema.Bundle{}, workrailerr.Newf(workrailerr.CodeBundleInvalidFormat, "bundle is not valid JSON: %v", err)
	}
	obj, ok := generic.(map[string]any)
	if !ok {
		return schema.Bundle{}, workrailerr.New(workrailerr.CodeBundleInvalidFormat, "bundle input is not a JSON object")
	}
	version, ok := obj["bundleSchemaVersion"].(float64)
	if !ok || int(version) != bundleSchemaVersion {
		return schema.Bundle{}, workrailerr.New(workrailerr.CodeBundleUnsupportedVersion, "unsupported bundleSchemaVersion")
	}

	var b schema.Bundle
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&b); err != nil {
		return schema.Bundle{}, workrailerr.Newf(workrailerr.CodeBundleInvalidFormat, "bundle does not match the expected shape: %v", err)
	}

	if err := checkIntegrity(b); err != nil {
		return schema.Bundle{}, err
	}
	if err := checkOrdering(b); err != nil {
		return schema.Bundle{}, err
	}
	if err := checkReferences(b); err != nil {
		return schema.Bundle{}, err
	}
	return b, nil
}

func checkIntegrity(b schema.Bundle) error {
	expected := make(map[string]schema.IntegrityEntry)
	eventsEntry, err := canonicalEntry("session/events", b.Session.Events)
	if err != nil {
		return workrailerr.New(workrailerr.CodeBundleIntegrityFailed, "failed to recompute session/events digest")
	}
	expected[eventsEntry.Path] = eventsEntry

	manifestEntry, err := canonicalEntry("session/manifest", b.Session.Manifest)
	if err != nil {
		return workrailerr.New(workrailerr.CodeBundleIntegrityFailed, "failed to recompute session/manifest digest")
	}
	expected[manifestEntry.Path] = manifestEntry

	for ref, snap := range b.Snapshots {
		entry, err := canonicalEntry("snapshots/"+ref, snap)
		if err != nil {
			return workrailerr.Newf(workrailerr.CodeBundleIntegrityFailed, "failed to recompute digest for snapshots/%s", ref)
		}
		expected[entry.Path] = entry
	}
	for hash, wf := range b.PinnedWorkflows {
		entry, err := canonicalEntry("pinnedWorkflows/"+hash, wf)
		if err != nil {
			return workrailerr.Newf(workrailerr.CodeBundleIntegrityFailed, "failed to recompute digest for pinnedWorkflows/%s", hash)
		}
		expected[entry.Path] = entry
	}

	if len(expected) != len(b.Integrity.Entries) {
		return workrailerr.New(workrailerr.CodeBundleIntegrityFailed, "integrity entry count does not match bundle contents")
	}
	for _, got := range b.Integrity.Entries {
		want, ok := expected[got.Path]
		if !ok {
			return workrailerr.Newf(workrailerr.CodeBundleIntegrityFailed, "integrity entry references unknown path %q", got.Path)
		}
		if got.Sha256 != want.Sha256 || got.Bytes != want.Bytes {
			return workrailerr.Newf(workrailerr.CodeBundleIntegrityFailed, "integrity mismatch for %q", got.Path)
		}
	}
	return nil
}

func checkOrdering(b schema.Bundle) error {
	for i, ev := range b.Session.Events {
		if ev.EventIndex != int64(i) {
			return workrailerr.Newf(workrailerr.CodeBundleEventOrderInvalid, "expected eventIndex %d, got %d", i, ev.EventIndex)
		}
	}
	for i, rec := range b.Session.Manifest {
		if rec.ManifestIndex != int64(i) {
			return workrailerr.Newf(workrailerr.CodeBundleManifestOrderInvalid, "expected manifestIndex %d, got %d", i, rec.ManifestIndex)
		}
	}
	return nil
}

func checkReferences(b schema.Bundle) error {
	for _, ev := range b.Session.Events {
		switch ev.Kind {
		case schema.KindNodeCreated:
			data, err := schema.FromData[schema.NodeCreatedData](ev.Data)
			if err != nil {
				return workrailerr.New(workrailerr.CodeBundleInvalidFormat, "malformed node_created event data")
			}
			if data.SnapshotRef != "" {
				if _, ok := b.Snapshots[string(data.SnapshotRef)]; !ok {
					return workrailerr.Newf(workrailerr.CodeBundleMissingSnapshot, "event references unknown snapshotRef %q", data.SnapshotRef)
				}
			}
		case schema.KindRunStarted:
			data, err := schema.FromData[schema.RunStartedData](ev.Data)
			if err != nil {
				return workrailerr.New(workrailerr.CodeBundleInvalidFormat, "malformed run_started event data")
			}
			if data.WorkflowHash != "" {
				if _, ok := b.PinnedWorkflows[string(data.WorkflowHash)]; !ok {
					return workrailerr.Newf(workrailerr.CodeBundleMissingPinnedWorkflow, "event references unknown workflowHash %q", data.WorkflowHash)
				}
			}
		}
	}
	for _, rec := range b.Session.Manifest {
		if rec.Kind == schema.ManifestSnapshotPinned && rec.SnapshotRef != "" {
			if _, ok := b.Snapshots[string(rec.SnapshotRef)]; !ok {
				return workrailerr.Newf(workrailerr.CodeBundleMissingSnapshot, "manifest references unknown snapshotRef %q", rec.SnapshotRef)
			}
		}
	}
	return nil
}

// ImportAsNew re-keys a validated bundle under a freshly minted sessionId,
// per spec.md §4.7's import-as-new policy: the exported sessionId is never
// reused. It returns the re-keyed bundle so the caller can persist its
// events, manifest, snapshots, and pinned workflows through C4/C5/C6.
func ImportAsNew(b schema.Bundle, newSessionId ids.SessionId) schema.Bundle {
	out := b
	out.Session.SessionId = string(newSessionId)
	out.Session.Events = make([]schema.DomainEvent, len(b.Session.Events))
	for i, ev := range b.Session.Events {
		ev.SessionId = newSessionId
		out.Session.Events[i] = ev
	}
	return out
}
