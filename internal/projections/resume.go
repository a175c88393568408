package projections

import (
	"sort"
	"strings"

	"github.com/workrail/core/internal/ids"
)

// ResumeQuery is the caller-supplied hint set a resume request is ranked
// against.
type ResumeQuery struct {
	GitHeadSha string
	GitBranch  string
	FreeText   string
}

// ResumeCandidate is one session eligible for resume ranking.
type ResumeCandidate struct {
	SessionId              ids.SessionId
	GitHeadSha             string
	GitBranch              string
	RecapSnippet           string
	WorkflowId             string
	LastActivityEventIndex int64
}

// RankedCandidate is a candidate annotated with the tier it matched.
type RankedCandidate struct {
	Candidate ResumeCandidate
	Tier      int
}

// Tier numbers, lowest (best) to highest (fallback), per spec.md §4.6.
const (
	TierGitHeadSha   = 1
	TierGitBranch    = 2
	TierRecapText    = 3
	TierWorkflowText = 4
	TierRecency      = 5
)

// RankResumeCandidates assigns each candidate the best-matching tier, sorts
// by (tier asc, lastActivityEventIndex desc, sessionId asc), and caps the
// result at maxCandidates.
func RankResumeCandidates(query ResumeQuery, candidates []ResumeCandidate, maxCandidates int) []RankedCandidate {
	ranked := make([]RankedCandidate, len(candidates))
	for i, c := range candidates {
		ranked[i] = RankedCandidate{Candidate: c, Tier: tierFor(query, c)}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Tier != ranked[j].Tier {
			return ranked[i].Tier < ranked[j].Tier
		}
		if ranked[i].Candidate.LastActivityEventIndex != ranked[j].Candidate.LastActivityEventIndex {
			return ranked[i].Candidate.LastActivityEventIndex > ranked[j].Candidate.LastActivityEventIndex
		}
		return ranked[i].Candidate.SessionId < ranked[j].Candidate.SessionId
	})

	if maxCandidates >= 0 && len(ranked) > maxCandidates {
		ranked = ranked[:maxCandidates]
	}
	return ranked
}

func tierFor(query ResumeQuery, c ResumeCandidate) int {
	if query.GitHeadSha != "" && c.GitHeadSha == query.GitHeadSha {
		return TierGitHeadSha
	}
	if query.GitBranch != "" && c.GitBranch != "" &&
		(c.GitBranch == query.GitBranch || strings.HasPrefix(c.GitBranch, query.GitBranch)) {
		return TierGitBranch
	}
	if query.FreeText != "" && strings.Contains(c.RecapSnippet, query.FreeText) {
		return TierRecapText
	}
	if query.FreeText != "" && strings.Contains(c.WorkflowId, query.FreeText) {
		return TierWorkflowText
	}
	return TierRecency
}
