package projections

import (
	"sort"

	"github.com/workrail/core/internal/codec"
	"github.com/workrail/core/internal/ids"
	"github.com/workrail/core/internal/schema"
	"github.com/workrail/core/internal/workrailerr"
)

// Node is a run-DAG node, as established by a node_created event.
type Node struct {
	NodeId      ids.NodeId
	StepId      string
	SnapshotRef codec.Digest
}

// Edge is a deduplicated run-DAG edge.
type Edge struct {
	FromNodeId ids.NodeId
	ToNodeId   ids.NodeId
	Kind       schema.EdgeKind
}

// RunDAG is the per-run read model: nodes, edges, the current tip set, and
// the single preferred tip reached by following acked_step edges from the
// root.
type RunDAG struct {
	RunId              ids.RunId
	RootNodeId         ids.NodeId
	NodesById          map[ids.NodeId]Node
	Edges              []Edge
	TipNodeIds         []ids.NodeId
	PreferredTipNodeId ids.NodeId
}

// BuildRunDAGs builds one RunDAG per runId observed in events. A node is
// "terminating" — and so never appears in TipNodeIds — when an
// advance_recorded event at that node reports outcome "advanced" with no
// newNodeId: the run has nowhere left to go from there. This is the
// resolution recorded in DESIGN.md for the otherwise-unspecified meaning of
// "terminating node" in spec.md §4.6.
func BuildRunDAGs(events []schema.DomainEvent) (map[ids.RunId]*RunDAG, error) {
	if err := validatePrefix(events); err != nil {
		return nil, err
	}

	dags := make(map[ids.RunId]*RunDAG)
	edgeSeen := make(map[string]map[Edge]bool)
	terminal := make(map[ids.RunId]map[ids.NodeId]bool)

	ensure := func(runId ids.RunId) *RunDAG {
		d, ok := dags[runId]
		if !ok {
			d = &RunDAG{RunId: runId, NodesById: make(map[ids.NodeId]Node)}
			dags[runId] = d
			edgeSeen[string(runId)] = make(map[Edge]bool)
			terminal[runId] = make(map[ids.NodeId]bool)
		}
		return d
	}

	// nodeRun tracks which run each node belongs to, since node_created
	// events carry no runId directly — only the enclosing scope does.
	nodeRun := make(map[ids.NodeId]ids.RunId)

	for _, ev := range events {
		switch ev.Kind {
		case schema.KindRunStarted:
			data, err := schema.FromData[schema.RunStartedData](ev.Data)
			if err != nil {
				return nil, err
			}
			d := ensure(data.RunId)
			d.RootNodeId = data.RootNodeId
			nodeRun[data.RootNodeId] = data.RunId

		case schema.KindNodeCreated:
			if ev.Scope == nil || ev.Scope.RunId == "" {
				return nil, workrailerr.New(workrailerr.CodeProjectionInvariantViolation, "node_created event missing run scope")
			}
			data, err := schema.FromData[schema.NodeCreatedData](ev.Data)
			if err != nil {
				return nil, err
			}
			d := ensure(ev.Scope.RunId)
			d.NodesById[data.NodeId] = Node{NodeId: data.NodeId, StepId: data.StepId, SnapshotRef: data.SnapshotRef}
			nodeRun[data.NodeId] = ev.Scope.RunId

		case schema.KindEdgeCreated:
			if ev.Scope == nil || ev.Scope.RunId == "" {
				return nil, workrailerr.New(workrailerr.CodeProjectionInvariantViolation, "edge_created event missing run scope")
			}
			data, err := schema.FromData[schema.EdgeCreatedData](ev.Data)
			if err != nil {
				return nil, err
			}
			d := ensure(ev.Scope.RunId)
			e := Edge{FromNodeId: data.FromNodeId, ToNodeId: data.ToNodeId, Kind: data.Kind}
			if !edgeSeen[string(ev.Scope.RunId)][e] {
				edgeSeen[string(ev.Scope.RunId)][e] = true
				d.Edges = append(d.Edges, e)
			}

		case schema.KindAdvanceRecorded:
			if ev.Scope == nil || ev.Scope.RunId == "" || ev.Scope.NodeId == "" {
				continue
			}
			data, err := schema.FromData[schema.AdvanceRecordedData](ev.Data)
			if err != nil {
				return nil, err
			}
			if data.Outcome.Kind == schema.AdvanceAdvanced && data.Outcome.NewNodeId == "" {
				ensure(ev.Scope.RunId)
				terminal[ev.Scope.RunId][ev.Scope.NodeId] = true
			}
		}
	}

	for runId, d := range dags {
		hasOutgoing := make(map[ids.NodeId]bool, len(d.Edges))
		for _, e := range d.Edges {
			hasOutgoing[e.FromNodeId] = true
		}
		for nodeId := range d.NodesById {
			if !hasOutgoing[nodeId] && !terminal[runId][nodeId] {
				d.TipNodeIds = append(d.TipNodeIds, nodeId)
			}
		}
		sort.Slice(d.TipNodeIds, func(i, j int) bool { return d.TipNodeIds[i] < d.TipNodeIds[j] })
		d.PreferredTipNodeId = preferredTip(d, hasOutgoing)
	}

	return dags, nil
}

// preferredTip follows acked_step edges from the root as far as they go.
// If that walk lands on a current tip, that tip is preferred; otherwise the
// lexicographically smallest tip is used, keeping the result deterministic.
func preferredTip(d *RunDAG, hasOutgoing map[ids.NodeId]bool) ids.NodeId {
	ackedFrom := make(map[ids.NodeId]ids.NodeId)
	for _, e := range d.Edges {
		if e.Kind == schema.EdgeAckedStep {
			ackedFrom[e.FromNodeId] = e.ToNodeId
		}
	}

	isTip := make(map[ids.NodeId]bool, len(d.TipNodeIds))
	for _, t := range d.TipNodeIds {
		isTip[t] = true
	}

	cur := d.RootNodeId
	visited := make(map[ids.NodeId]bool)
	for {
		if cur == "" || visited[cur] {
			break
		}
		visited[cur] = true
		next, ok := ackedFrom[cur]
		if !ok {
			break
		}
		cur = next
	}
	if isTip[cur] {
		return cur
	}
	if len(d.TipNodeIds) > 0 {
		return d.TipNodeIds[0]
	}
	return ""
}
