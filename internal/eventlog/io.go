package eventlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/workrail/core/internal/codec"
	"github.com/workrail/core/internal/schema"
	"github.com/workrail/core/internal/workrailerr"
)

func sessionDirJoin(dataDir, sessionId, relative string) string {
	return filepath.Join(sessionDir(dataDir, sessionId), relative)
}

// readManifest parses manifest.jsonl into its records, in file order.
func readManifest(path string) ([]schema.ManifestRecord, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records []schema.ManifestRecord
	scanner := bufio.NewScanner(bytes.NewReader(b))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec schema.ManifestRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// writeManifestAtomic rewrites manifest.jsonl in full via temp-file + rename,
// matching the keyring store's durability discipline.
func writeManifestAtomic(path string, records []schema.ManifestRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return workrailerr.Newf(workrailerr.CodeSessionStoreCorruption, "failed to create session directory: %v", err)
	}
	var buf bytes.Buffer
	for _, rec := range records {
		line, err := canonicalLine(rec)
		if err != nil {
			return err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	tmp := path + ".tmp"
	if err := writeFileSync(tmp, buf.Bytes()); err != nil {
		return workrailerr.Newf(workrailerr.CodeSessionStoreCorruption, "failed to write manifest temp file: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return workrailerr.Newf(workrailerr.CodeSessionStoreCorruption, "failed to rename manifest temp file: %v", err)
	}
	return nil
}

// writeFileSync writes data to path and fsyncs before returning, so a
// subsequent rename is crash-durable.
func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// writeSegmentAtomic writes the canonical-JSONL encoding of events to path
// via temp-file + rename, and returns the resulting digest and byte length.
func writeSegmentAtomic(path string, events []schema.DomainEvent) (codec.Digest, int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", 0, workrailerr.Newf(workrailerr.CodeSessionStoreCorruption, "failed to create segments directory: %v", err)
	}
	var buf bytes.Buffer
	for _, ev := range events {
		line, err := canonicalLine(ev)
		if err != nil {
			return "", 0, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	content := buf.Bytes()
	tmp := path + ".tmp"
	if err := writeFileSync(tmp, content); err != nil {
		return "", 0, workrailerr.Newf(workrailerr.CodeSessionStoreCorruption, "failed to write segment temp file: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", 0, workrailerr.Newf(workrailerr.CodeSessionStoreCorruption, "failed to rename segment temp file: %v", err)
	}
	return codec.SHA256(content), int64(len(content)), nil
}

// canonicalLine renders v (a manifest record or event) as one canonical JSON
// line, per spec.md §6's "manifest.jsonl (one JSON object per line,
// JCS-canonical)".
func canonicalLine(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, workrailerr.Newf(workrailerr.CodeSessionStoreCorruption, "failed to encode record: %v", err)
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return nil, workrailerr.Newf(workrailerr.CodeSessionStoreCorruption, "failed to decode record for canonicalization: %v", err)
	}
	return codec.Canonicalize(generic)
}
