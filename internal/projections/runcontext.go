package projections

import (
	"github.com/workrail/core/internal/ids"
	"github.com/workrail/core/internal/schema"
)

// ComputeRunContext keeps the latest context_set payload per run.
func ComputeRunContext(events []schema.DomainEvent) (map[ids.RunId]map[string]any, error) {
	if err := validatePrefix(events); err != nil {
		return nil, err
	}

	out := make(map[ids.RunId]map[string]any)
	for _, ev := range events {
		if ev.Kind != schema.KindContextSet || ev.Scope == nil || ev.Scope.RunId == "" {
			continue
		}
		data, err := schema.FromData[schema.ContextSetData](ev.Data)
		if err != nil {
			return nil, err
		}
		out[ev.Scope.RunId] = data.Context
	}
	return out, nil
}
