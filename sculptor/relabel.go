package sculptor

import (
	"fmt"

	"github.com/emberwright/metaforge/core"
	"github.com/emberwright/metaforge/forge"
	"github.com/emberwright/metaforge/memory"
)

func applyRelabel(targets []*memory.Record, intent Intent) (map[string]*memory.Record, []*memory.Record, []string, forge.Impact, error) {
	params, ok := intent.Params.(RelabelParams)
	if !ok {
		return nil, nil, nil, forge.Impact{}, fmt.Errorf("relabel requires RelabelParams: %w", core.ErrInvalidIntent)
	}
	if len(params.NewTags) == 0 && len(params.NewMetadata) == 0 {
		return nil, nil, nil, forge.Impact{}, fmt.Errorf("relabel requires new_tags or new_metadata: %w", core.ErrInvalidIntent)
	}

	mutated := make(map[string]*memory.Record, len(targets))
	for _, t := range targets {
		r := t.Clone()

		if params.ReplaceTags {
			r.Tags = make(map[string]struct{}, len(params.NewTags))
			for _, tag := range params.NewTags {
				r.Tags[tag] = struct{}{}
			}
		} else {
			for _, tag := range params.NewTags {
				r.Tags[tag] = struct{}{}
			}
		}

		for k, v := range params.NewMetadata {
			r.Metadata[k] = v
		}

		mutated[r.ID] = r
	}

	impact := forge.Impact{Cognitive: 3, Structural: 2, Emotional: 1}
	return mutated, nil, nil, impact, nil
}
