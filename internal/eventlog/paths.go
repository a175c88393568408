package eventlog

import (
	"path/filepath"
	"strconv"
)

func sessionDir(dataDir string, sessionId string) string {
	return filepath.Join(dataDir, "sessions", sessionId)
}

func manifestPath(dataDir, sessionId string) string {
	return filepath.Join(sessionDir(dataDir, sessionId), "manifest.jsonl")
}

func lockPath(dataDir, sessionId string) string {
	return filepath.Join(sessionDir(dataDir, sessionId), "lock")
}

func segmentsDir(dataDir, sessionId string) string {
	return filepath.Join(sessionDir(dataDir, sessionId), "segments")
}

func segmentPath(dataDir, sessionId string, manifestIndex int64) string {
	return filepath.Join(segmentsDir(dataDir, sessionId), segmentFileName(manifestIndex))
}

func segmentFileName(manifestIndex int64) string {
	return "seg_" + strconv.FormatInt(manifestIndex, 10) + ".jsonl"
}
