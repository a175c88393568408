package projections

import (
	"github.com/workrail/core/internal/ids"
	"github.com/workrail/core/internal/schema"
)

// Gap is one reduced gap_recorded entry: the latest recorded state for a
// given (category, message) pair within a run, since the event log never
// mutates a prior gap_recorded event, only appends a newer one marking the
// same gap resolved.
type Gap struct {
	Severity schema.GapSeverity
	Category string
	Message  string
	Resolved bool
}

// RunGaps is the aggregated gap read model for one run.
type RunGaps struct {
	Gaps []Gap
}

type gapKey struct {
	category string
	message  string
}

// ComputeGaps aggregates gap_recorded events by run, keeping the latest
// state recorded for each distinct (category, message) pair.
func ComputeGaps(events []schema.DomainEvent) (map[ids.RunId]RunGaps, error) {
	if err := validatePrefix(events); err != nil {
		return nil, err
	}

	byRun := make(map[ids.RunId]map[gapKey]Gap)
	order := make(map[ids.RunId][]gapKey)

	for _, ev := range events {
		if ev.Kind != schema.KindGapRecorded || ev.Scope == nil || ev.Scope.RunId == "" {
			continue
		}
		data, err := schema.FromData[schema.GapRecordedData](ev.Data)
		if err != nil {
			return nil, err
		}
		runId := ev.Scope.RunId
		set, ok := byRun[runId]
		if !ok {
			set = make(map[gapKey]Gap)
			byRun[runId] = set
		}
		key := gapKey{category: data.Category, message: data.Message}
		if _, seen := set[key]; !seen {
			order[runId] = append(order[runId], key)
		}
		set[key] = Gap{Severity: data.Severity, Category: data.Category, Message: data.Message, Resolved: data.Resolved}
	}

	out := make(map[ids.RunId]RunGaps, len(byRun))
	for runId, set := range byRun {
		rg := RunGaps{}
		for _, key := range order[runId] {
			rg.Gaps = append(rg.Gaps, set[key])
		}
		out[runId] = rg
	}
	return out, nil
}

// IsBlocked reports whether a run is blocked: it has an unresolved gap of
// critical severity in the blocking category closed set, and the effective
// autonomy preference at its tip is not full_auto_never_stop. riskPolicy is
// never consulted here — it is advisory only and must never suppress
// disclosure (spec.md §4.6).
func IsBlocked(gaps RunGaps, tipAutonomy schema.AutonomyPreference) bool {
	if tipAutonomy == schema.AutonomyFullAutoNeverStop {
		return false
	}
	for _, g := range gaps.Gaps {
		if !g.Resolved && g.Severity == schema.GapSeverityCritical && schema.BlockingGapCategories[g.Category] {
			return true
		}
	}
	return false
}
