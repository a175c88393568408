package projections

import (
	"github.com/workrail/core/internal/ids"
	"github.com/workrail/core/internal/schema"
	"github.com/workrail/core/internal/workrailerr"
)

// Preferences is the effective preference set at a node: whichever fields a
// preferences_changed event set at the nearest ancestor (inclusive),
// computed independently per field so an autonomy override at one node and
// a risk override higher up can both take effect.
type Preferences struct {
	AutonomyPreference schema.AutonomyPreference
	RiskPolicy         schema.RiskPolicy
}

// ComputePreferences seeds a per-node preference delta from each
// preferences_changed event (last one at a given node wins), validates
// parentOf has no cycle or self-loop, then resolves the effective
// preferences for every node that appears in parentOf or was seeded.
func ComputePreferences(events []schema.DomainEvent, parentOf map[ids.NodeId]ids.NodeId) (map[ids.NodeId]Preferences, error) {
	if err := validatePrefix(events); err != nil {
		return nil, err
	}
	if err := detectCycle(parentOf); err != nil {
		return nil, err
	}

	seeds := make(map[ids.NodeId]Preferences)
	for _, ev := range events {
		if ev.Kind != schema.KindPreferencesChanged || ev.Scope == nil || ev.Scope.NodeId == "" {
			continue
		}
		data, err := schema.FromData[schema.PreferencesChangedData](ev.Data)
		if err != nil {
			return nil, err
		}
		p := seeds[ev.Scope.NodeId]
		if data.AutonomyPreference != "" {
			p.AutonomyPreference = data.AutonomyPreference
		}
		if data.RiskPolicy != "" {
			p.RiskPolicy = data.RiskPolicy
		}
		seeds[ev.Scope.NodeId] = p
	}

	nodeIds := make(map[ids.NodeId]bool)
	for nodeId := range seeds {
		nodeIds[nodeId] = true
	}
	for child, parent := range parentOf {
		nodeIds[child] = true
		nodeIds[parent] = true
	}

	result := make(map[ids.NodeId]Preferences, len(nodeIds))
	for nodeId := range nodeIds {
		result[nodeId] = resolveAncestry(nodeId, seeds, parentOf)
	}
	return result, nil
}

func resolveAncestry(start ids.NodeId, seeds map[ids.NodeId]Preferences, parentOf map[ids.NodeId]ids.NodeId) Preferences {
	var result Preferences
	cur := start
	visited := make(map[ids.NodeId]bool)
	for cur != "" && !visited[cur] {
		visited[cur] = true
		if p, ok := seeds[cur]; ok {
			if result.AutonomyPreference == "" && p.AutonomyPreference != "" {
				result.AutonomyPreference = p.AutonomyPreference
			}
			if result.RiskPolicy == "" && p.RiskPolicy != "" {
				result.RiskPolicy = p.RiskPolicy
			}
		}
		cur = parentOf[cur]
	}
	return result
}

// detectCycle walks parentOf's chains with a three-color DFS, reporting the
// closed-set invariant violation spec.md §4.6 requires for any cycle or
// self-loop (a node listed as its own parent).
func detectCycle(parentOf map[ids.NodeId]ids.NodeId) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[ids.NodeId]int, len(parentOf))

	var visit func(n ids.NodeId) error
	visit = func(n ids.NodeId) error {
		if n == "" {
			return nil
		}
		switch color[n] {
		case gray:
			return workrailerr.Newf(workrailerr.CodeProjectionInvariantViolation, "cycle detected in parent map at node %q", n)
		case black:
			return nil
		}
		color[n] = gray
		parent, ok := parentOf[n]
		if ok {
			if parent == n {
				return workrailerr.Newf(workrailerr.CodeProjectionInvariantViolation, "self-loop detected in parent map at node %q", n)
			}
			if err := visit(parent); err != nil {
				return err
			}
		}
		color[n] = black
		return nil
	}

	for n := range parentOf {
		if err := visit(n); err != nil {
			return err
		}
	}
	return nil
}
