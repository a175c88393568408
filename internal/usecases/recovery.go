package usecases

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/workrail/core/internal/ids"
	"github.com/workrail/core/internal/projections"
	"github.com/workrail/core/internal/schema"
	"github.com/workrail/core/internal/workrailerr"
)

// truncationMarker is the fixed 13-byte suffix spec.md §4.8 requires when a
// recovery prompt exceeds its byte budget.
const truncationMarker = "\n\n[TRUNCATED]"

const omissionNote = " (ancestry, downstream recap, and function definitions beyond this point were omitted to fit the recovery budget.)"

// RecoveryPrompt is the assembled, budget-truncated rehydrate response.
type RecoveryPrompt struct {
	RunId     ids.RunId
	NodeId    ids.NodeId
	Text      string
	Truncated bool
}

// buildRecoveryPromptForSession loads sessionId's validated event prefix and
// renders the recovery prompt at nodeId. It is a read path and so bypasses
// the gate entirely, per spec.md §4.8/§5: "Read paths bypass the lock."
func (u *Usecases) buildRecoveryPromptForSession(sessionId ids.SessionId, nodeId ids.NodeId) (RecoveryPrompt, error) {
	result, err := u.store.LoadValidatedPrefix(sessionId)
	if err != nil {
		return RecoveryPrompt{}, err
	}
	return BuildRecoveryPrompt(result.Truth.Events, nodeId, u.opts.RecoveryBudgetBytes)
}

// BuildRecoveryPrompt is the recovery prompt renderer (C10), a pure function
// of an event prefix, a node to rehydrate at, and a byte budget. It loads
// the Run-DAG and Outputs projections, assembles an ancestry recap (root
// down to nodeId), a downstream recap along the preferred branch past
// nodeId, and per-node function definitions resolved closest-ancestor-wins,
// then applies a UTF-8-safe byte budget: exceeding it truncates the body to
// budgetBytes-len(truncationMarker), rounded down to a UTF-8 boundary,
// followed by the marker and an omission note.
func BuildRecoveryPrompt(events []schema.DomainEvent, nodeId ids.NodeId, budgetBytes int) (RecoveryPrompt, error) {
	dags, err := projections.BuildRunDAGs(events)
	if err != nil {
		return RecoveryPrompt{}, err
	}
	outputs, err := projections.BuildNodeOutputs(events)
	if err != nil {
		return RecoveryPrompt{}, err
	}

	runId, dag, err := findRunForNode(dags, nodeId)
	if err != nil {
		return RecoveryPrompt{}, err
	}

	parentOf := parentOfFromEdges(dag)
	ancestry := ancestryChain(nodeId, parentOf)
	downstream := downstreamChain(dag, nodeId)
	functionDefs := resolveFunctionDefinitions(events, nodeId, parentOf)

	var b strings.Builder
	b.WriteString("## Ancestry recap\n")
	for _, n := range ancestry {
		writeNodeRecap(&b, dag, outputs, n)
	}
	b.WriteString("\n## Downstream recap (preferred branch)\n")
	for _, n := range downstream {
		writeNodeRecap(&b, dag, outputs, n)
	}
	if len(functionDefs) > 0 {
		b.WriteString("\n## Function definitions\n")
		names := make([]string, 0, len(functionDefs))
		for name := range functionDefs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			b.WriteString(name)
			b.WriteString(": ")
			b.WriteString(functionDefs[name])
			b.WriteString("\n")
		}
	}

	text := b.String()
	truncated := false
	if budgetBytes > 0 && len(text) > budgetBytes {
		keep := budgetBytes - len(truncationMarker)
		if keep < 0 {
			keep = 0
		}
		keep = utf8TruncateIndex([]byte(text), keep)
		text = text[:keep] + truncationMarker + omissionNote
		truncated = true
	}

	return RecoveryPrompt{RunId: runId, NodeId: nodeId, Text: text, Truncated: truncated}, nil
}

func writeNodeRecap(b *strings.Builder, dag *projections.RunDAG, outputs map[ids.NodeId]projections.NodeOutputs, nodeId ids.NodeId) {
	node, ok := dag.NodesById[nodeId]
	stepId := ""
	if ok {
		stepId = node.StepId
	}
	b.WriteString("- ")
	b.WriteString(string(nodeId))
	if stepId != "" {
		b.WriteString(" (")
		b.WriteString(stepId)
		b.WriteString(")")
	}
	if recap := outputs[nodeId].CurrentRecap; recap != "" {
		b.WriteString(": ")
		b.WriteString(recap)
	}
	b.WriteString("\n")
}

// findRunForNode locates which run's DAG contains nodeId.
func findRunForNode(dags map[ids.RunId]*projections.RunDAG, nodeId ids.NodeId) (ids.RunId, *projections.RunDAG, error) {
	for runId, dag := range dags {
		if _, ok := dag.NodesById[nodeId]; ok {
			return runId, dag, nil
		}
	}
	return "", nil, workrailerr.Newf(workrailerr.CodeProjectionInvariantViolation, "node %q does not belong to any run in this event prefix", nodeId)
}

// parentOfFromEdges derives a parent map from a run DAG's edges: the parent
// of an edge's destination is its source. The first edge observed into a
// node wins, matching the edge list's append order (spec.md does not define
// multiple parents per node; this resolves the otherwise-unspecified case,
// recorded in DESIGN.md).
func parentOfFromEdges(dag *projections.RunDAG) map[ids.NodeId]ids.NodeId {
	parentOf := make(map[ids.NodeId]ids.NodeId, len(dag.Edges))
	for _, e := range dag.Edges {
		if _, ok := parentOf[e.ToNodeId]; !ok {
			parentOf[e.ToNodeId] = e.FromNodeId
		}
	}
	return parentOf
}

// ancestryChain walks from the root down to nodeId (inclusive), in
// root-first order, by reversing the parentOf walk up from nodeId.
func ancestryChain(nodeId ids.NodeId, parentOf map[ids.NodeId]ids.NodeId) []ids.NodeId {
	var upward []ids.NodeId
	cur := nodeId
	visited := make(map[ids.NodeId]bool)
	for cur != "" && !visited[cur] {
		visited[cur] = true
		upward = append(upward, cur)
		cur = parentOf[cur]
	}
	chain := make([]ids.NodeId, len(upward))
	for i, n := range upward {
		chain[len(upward)-1-i] = n
	}
	return chain
}

// downstreamChain walks forward from nodeId along acked_step edges to the
// preferred tip, excluding nodeId itself (already covered by the ancestry
// recap).
func downstreamChain(dag *projections.RunDAG, nodeId ids.NodeId) []ids.NodeId {
	ackedFrom := make(map[ids.NodeId]ids.NodeId)
	for _, e := range dag.Edges {
		if e.Kind == schema.EdgeAckedStep {
			ackedFrom[e.FromNodeId] = e.ToNodeId
		}
	}

	var chain []ids.NodeId
	cur := nodeId
	visited := map[ids.NodeId]bool{nodeId: true}
	for {
		next, ok := ackedFrom[cur]
		if !ok || visited[next] {
			break
		}
		visited[next] = true
		chain = append(chain, next)
		cur = next
	}
	return chain
}

// resolveFunctionDefinitions implements spec.md §4.8's "function definitions
// scoped closest-wins": context_set events scoped to a node may carry a
// "functions" map of name -> definition in their Context payload. Each
// function name resolves independently to the definition set at the
// nearest ancestor of nodeId (inclusive) that defines it, mirroring
// ComputePreferences's per-field nearest-ancestor resolution (DESIGN.md
// records this as the reading of an otherwise-unspecified phrase).
func resolveFunctionDefinitions(events []schema.DomainEvent, nodeId ids.NodeId, parentOf map[ids.NodeId]ids.NodeId) map[string]string {
	perNode := make(map[ids.NodeId]map[string]string)
	for _, ev := range events {
		if ev.Kind != schema.KindContextSet || ev.Scope == nil || ev.Scope.NodeId == "" {
			continue
		}
		data, err := schema.FromData[schema.ContextSetData](ev.Data)
		if err != nil {
			continue
		}
		raw, ok := data.Context["functions"].(map[string]any)
		if !ok {
			continue
		}
		defs, ok := perNode[ev.Scope.NodeId]
		if !ok {
			defs = make(map[string]string)
			perNode[ev.Scope.NodeId] = defs
		}
		for name, v := range raw {
			if s, ok := v.(string); ok {
				defs[name] = s
			}
		}
	}

	resolved := make(map[string]string)
	cur := nodeId
	visited := make(map[ids.NodeId]bool)
	// Walk root-ward collecting each function name the first time it is
	// seen; a node's own definitions take priority over any ancestor's.
	seenNames := make(map[string]bool)
	for cur != "" && !visited[cur] {
		visited[cur] = true
		for name, def := range perNode[cur] {
			if !seenNames[name] {
				seenNames[name] = true
				resolved[name] = def
			}
		}
		cur = parentOf[cur]
	}
	return resolved
}

// utf8TruncateIndex returns the largest index <= max that lands on a UTF-8
// rune boundary within b.
func utf8TruncateIndex(b []byte, max int) int {
	if max >= len(b) {
		return len(b)
	}
	if max <= 0 {
		return 0
	}
	i := max
	for i > 0 && !utf8.RuneStart(b[i]) {
		i--
	}
	return i
}
