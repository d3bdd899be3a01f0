package sculptor

import (
	"fmt"
	"time"

	"github.com/emberwright/metaforge/core"
	"github.com/emberwright/metaforge/forge"
	"github.com/emberwright/metaforge/memory"
)

func applyPrune(targets []*memory.Record, intent Intent) (map[string]*memory.Record, []*memory.Record, []string, forge.Impact, error) {
	params, _ := intent.Params.(PruneParams)

	if params.respectProtection() {
		var offending []string
		now := time.Now()
		for _, r := range targets {
			if r.IsProtected(now) {
				offending = append(offending, r.ID)
			}
		}
		if len(offending) > 0 {
			return nil, nil, nil, forge.Impact{}, fmt.Errorf("protected targets %v: %w", offending, core.ErrProtectedTargets)
		}
	}

	deletedIDs := make([]string, len(targets))
	for i, r := range targets {
		deletedIDs[i] = r.ID
	}

	impact := forge.Impact{Cognitive: 8, Structural: 6, Emotional: -1}
	return nil, nil, deletedIDs, impact, nil
}
