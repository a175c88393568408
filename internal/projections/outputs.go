package projections

import (
	"sort"

	"github.com/workrail/core/internal/codec"
	"github.com/workrail/core/internal/ids"
	"github.com/workrail/core/internal/schema"
)

// Artifact is one entry in a node's artifact list.
type Artifact struct {
	OutputId    ids.OutputId
	Sha256      codec.Digest
	ContentType string
}

// NodeOutputs is the per-node, per-channel output read model: at most one
// current recap (first wins, respecting an explicit supersedes chain) and
// the live set of artifacts sorted by (sha256, contentType).
type NodeOutputs struct {
	CurrentRecapOutputId ids.OutputId
	CurrentRecap         string
	Artifacts            []Artifact
}

// BuildNodeOutputs derives the output read model for every node referenced
// by a node_output_appended event.
func BuildNodeOutputs(events []schema.DomainEvent) (map[ids.NodeId]NodeOutputs, error) {
	if err := validatePrefix(events); err != nil {
		return nil, err
	}

	type recapState struct {
		outputId ids.OutputId
		recap    string
	}
	recaps := make(map[ids.NodeId]*recapState)
	artifactsByNode := make(map[ids.NodeId]map[ids.OutputId]Artifact)

	for _, ev := range events {
		if ev.Kind != schema.KindNodeOutputAppended || ev.Scope == nil || ev.Scope.NodeId == "" {
			continue
		}
		data, err := schema.FromData[schema.NodeOutputAppendedData](ev.Data)
		if err != nil {
			return nil, err
		}
		nodeId := ev.Scope.NodeId

		switch data.Channel {
		case schema.ChannelRecap:
			cur := recaps[nodeId]
			if cur == nil {
				recaps[nodeId] = &recapState{outputId: data.OutputId, recap: data.Recap}
			} else if data.SupersedesOutputId != "" && data.SupersedesOutputId == cur.outputId {
				recaps[nodeId] = &recapState{outputId: data.OutputId, recap: data.Recap}
			}
			// Otherwise: first wins, this recap is discarded.

		case schema.ChannelArtifact:
			set, ok := artifactsByNode[nodeId]
			if !ok {
				set = make(map[ids.OutputId]Artifact)
				artifactsByNode[nodeId] = set
			}
			if data.SupersedesOutputId != "" {
				delete(set, data.SupersedesOutputId)
			}
			set[data.OutputId] = Artifact{OutputId: data.OutputId, Sha256: data.Sha256, ContentType: data.ContentType}
		}
	}

	out := make(map[ids.NodeId]NodeOutputs)
	nodeIds := make(map[ids.NodeId]bool)
	for nodeId := range recaps {
		nodeIds[nodeId] = true
	}
	for nodeId := range artifactsByNode {
		nodeIds[nodeId] = true
	}
	for nodeId := range nodeIds {
		no := NodeOutputs{}
		if r := recaps[nodeId]; r != nil {
			no.CurrentRecapOutputId = r.outputId
			no.CurrentRecap = r.recap
		}
		for _, a := range artifactsByNode[nodeId] {
			no.Artifacts = append(no.Artifacts, a)
		}
		sort.Slice(no.Artifacts, func(i, j int) bool {
			if no.Artifacts[i].Sha256 != no.Artifacts[j].Sha256 {
				return no.Artifacts[i].Sha256 < no.Artifacts[j].Sha256
			}
			return no.Artifacts[i].ContentType < no.Artifacts[j].ContentType
		})
		out[nodeId] = no
	}
	return out, nil
}
