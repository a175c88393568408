package usecases

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/workrail/core/internal/ids"
	"github.com/workrail/core/internal/workrailerr"
)

// SessionSummary is one entry in an enumerate-sessions-by-recency listing.
type SessionSummary struct {
	SessionId  ids.SessionId
	ModifiedAt time.Time
}

// EnumerateSessionsByRecency lists every session directory under
// <dataDir>/sessions, sorted desc by mtime, tie-broken by sessionId
// ascending, capped at u.opts.MaxResumeCandidates (no cap if negative). Per
// spec.md §4.8: an alphabetical listing is incorrect and must not be used
// for the cap decision, since the newest session can sort anywhere in the
// alphabet.
func (u *Usecases) EnumerateSessionsByRecency() ([]SessionSummary, error) {
	sessionsDir := filepath.Join(u.dataDir, "sessions")
	entries, err := os.ReadDir(sessionsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, workrailerr.Newf(workrailerr.CodeSessionStoreCorruption, "failed to list sessions directory: %v", err)
	}

	summaries := make([]SessionSummary, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, workrailerr.Newf(workrailerr.CodeSessionStoreCorruption, "failed to stat session directory %q: %v", entry.Name(), err)
		}
		summaries = append(summaries, SessionSummary{SessionId: ids.SessionId(entry.Name()), ModifiedAt: info.ModTime()})
	}

	sort.Slice(summaries, func(i, j int) bool {
		if !summaries[i].ModifiedAt.Equal(summaries[j].ModifiedAt) {
			return summaries[i].ModifiedAt.After(summaries[j].ModifiedAt)
		}
		return summaries[i].SessionId < summaries[j].SessionId
	})

	if u.opts.MaxResumeCandidates >= 0 && len(summaries) > u.opts.MaxResumeCandidates {
		summaries = summaries[:u.opts.MaxResumeCandidates]
	}
	return summaries, nil
}
