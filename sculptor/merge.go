package sculptor

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/emberwright/metaforge/core"
	"github.com/emberwright/metaforge/forge"
	"github.com/emberwright/metaforge/memory"
)

const mergeBoundary = "\n\n---\n\n"

func applyMerge(targets []*memory.Record, intent Intent) (map[string]*memory.Record, []*memory.Record, []string, forge.Impact, error) {
	if len(targets) < 2 {
		return nil, nil, nil, forge.Impact{}, fmt.Errorf("merge requires at least 2 targets: %w", core.ErrInvalidIntent)
	}
	params, _ := intent.Params.(MergeParams)

	sorted := make([]*memory.Record, len(targets))
	copy(sorted, targets)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	allStrings := true
	for _, r := range sorted {
		if _, ok := r.Content.(string); !ok {
			allStrings = false
			break
		}
	}

	var content interface{}
	if allStrings {
		parts := make([]string, len(sorted))
		for i, r := range sorted {
			parts[i] = r.Content.(string)
		}
		content = strings.Join(parts, mergeBoundary)
	} else {
		type sourceEntry struct {
			ID        string
			Timestamp time.Time
			Content   interface{}
		}
		entries := make([]sourceEntry, len(sorted))
		for i, r := range sorted {
			entries[i] = sourceEntry{ID: r.ID, Timestamp: r.Timestamp, Content: r.Content}
		}
		content = entries
	}

	tags := make(map[string]struct{})
	sourceIDs := make([]string, 0, len(sorted))
	for _, r := range sorted {
		for tag := range r.Tags {
			tags[tag] = struct{}{}
		}
		sourceIDs = append(sourceIDs, r.ID)
	}
	for _, tag := range intent.OutputTags {
		tags[tag] = struct{}{}
	}

	merged := &memory.Record{
		ID:        uuid.New().String(),
		Content:   content,
		Tags:      tags,
		Timestamp: time.Now(),
		OwnerID:   sorted[0].OwnerID,
		Metadata: map[string]interface{}{
			memory.MetaMergedFrom:     sourceIDs,
			memory.MetaMergeTimestamp: time.Now(),
			memory.MetaReason:        intent.Reason,
		},
	}

	deletedIDs := []string{}
	if params.deleteOriginals() {
		for _, id := range sourceIDs {
			deletedIDs = append(deletedIDs, id)
		}
	}

	impact := forge.Impact{Cognitive: 7, Structural: 8}
	return nil, []*memory.Record{merged}, deletedIDs, impact, nil
}
