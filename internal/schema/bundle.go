package schema

import "github.com/workrail/core/internal/codec"

// BundleProducer identifies what produced a bundle.
type BundleProducer struct {
	AppVersion string `json:"appVersion"`
}

// IntegrityEntry is one content-addressed or canonically-hashed component of
// a bundle: its path within the bundle, digest, and byte length.
type IntegrityEntry struct {
	Path   string       `json:"path"`
	Sha256 codec.Digest `json:"sha256"`
	Bytes  int64        `json:"bytes"`
}

// Integrity is the bundle-wide integrity manifest.
type Integrity struct {
	Entries []IntegrityEntry `json:"entries"`
}

// SessionPayload is the session/events + session/manifest section of a
// bundle.
type SessionPayload struct {
	SessionId string           `json:"sessionId"`
	Events    []DomainEvent    `json:"events"`
	Manifest  []ManifestRecord `json:"manifest"`
}

// Bundle is the full export/import document, per spec.md §3.
type Bundle struct {
	BundleSchemaVersion int                          `json:"bundleSchemaVersion"`
	BundleId            string                       `json:"bundleId"`
	Producer            BundleProducer               `json:"producer"`
	Session             SessionPayload                `json:"session"`
	Snapshots           map[string]ExecutionSnapshot  `json:"snapshots"`
	PinnedWorkflows     map[string]map[string]any     `json:"pinnedWorkflows"`
	Integrity           Integrity                      `json:"integrity"`
}
