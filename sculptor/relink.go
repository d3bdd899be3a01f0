package sculptor

import (
	"fmt"
	"time"

	"github.com/emberwright/metaforge/core"
	"github.com/emberwright/metaforge/forge"
	"github.com/emberwright/metaforge/memory"
)

func applyRelink(targets []*memory.Record, intent Intent, resolver func(id string) bool) (map[string]*memory.Record, []*memory.Record, []string, forge.Impact, error) {
	params, ok := intent.Params.(RelinkParams)
	if !ok || len(params.LinkToIDs) == 0 {
		return nil, nil, nil, forge.Impact{}, fmt.Errorf("relink requires a non-empty link_to_ids: %w", core.ErrInvalidIntent)
	}
	for _, id := range params.LinkToIDs {
		if !resolver(id) {
			return nil, nil, nil, forge.Impact{}, fmt.Errorf("relink target %q does not resolve: %w", id, core.ErrInvalidIntent)
		}
	}

	mutated := make(map[string]*memory.Record, len(targets))
	for _, t := range targets {
		r := t.Clone()

		links := r.Links()
		for _, id := range params.LinkToIDs {
			if _, exists := links[id]; !exists {
				links[id] = struct{}{}
				if meta, ok := params.LinkMetadata[id]; ok {
					linkKey := fmt.Sprintf("link_meta.%s", id)
					r.Metadata[linkKey] = map[string]interface{}{
						"created_at": time.Now(),
						"reason":     meta.Reason,
						"extra":      meta.Extra,
					}
				}
			}
		}
		linkSlice := make([]string, 0, len(links))
		for id := range links {
			linkSlice = append(linkSlice, id)
		}
		r.Metadata[memory.MetaLinks] = linkSlice

		mutated[r.ID] = r
	}

	impact := forge.Impact{Cognitive: 5, Structural: 7}
	return mutated, nil, nil, impact, nil
}
