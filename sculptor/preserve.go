package sculptor

import (
	"time"

	"github.com/emberwright/metaforge/forge"
	"github.com/emberwright/metaforge/memory"
)

func applyPreserve(targets []*memory.Record, intent Intent) (map[string]*memory.Record, []*memory.Record, []string, forge.Impact, error) {
	params, _ := intent.Params.(PreserveParams)

	mutated := make(map[string]*memory.Record, len(targets))
	for _, t := range targets {
		r := t.Clone()

		r.Metadata[memory.MetaProtected] = true
		if params.PreservationDuration != nil {
			r.Metadata[memory.MetaProtectionExpiresAt] = time.Now().Add(*params.PreservationDuration)
		}
		if params.ProtectionReason != "" {
			r.Metadata[memory.MetaProtectionReason] = params.ProtectionReason
		}
		if !r.HasTag("protected") {
			r.Tags["protected"] = struct{}{}
		}

		mutated[r.ID] = r
	}

	impact := forge.Impact{Cognitive: 2, Structural: 1, Emotional: 3}
	return mutated, nil, nil, impact, nil
}
