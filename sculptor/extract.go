package sculptor

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/emberwright/metaforge/core"
	"github.com/emberwright/metaforge/forge"
	"github.com/emberwright/metaforge/memory"
)

const extractWindow = 50

type extractEntry struct {
	SourceID string
	Excerpt  string
	Reference bool
}

func applyExtract(targets []*memory.Record, intent Intent) (map[string]*memory.Record, []*memory.Record, []string, forge.Impact, error) {
	params, ok := intent.Params.(ExtractParams)
	if !ok || params.ExtractionPattern == "" {
		return nil, nil, nil, forge.Impact{}, fmt.Errorf("extract requires extraction_pattern: %w", core.ErrInvalidIntent)
	}

	entries := make([]extractEntry, 0, len(targets))
	for _, r := range targets {
		content, isString := r.Content.(string)
		if !isString {
			entries = append(entries, extractEntry{SourceID: r.ID, Reference: true})
			continue
		}
		idx := strings.Index(content, params.ExtractionPattern)
		if idx < 0 {
			continue
		}
		start := idx - extractWindow
		if start < 0 {
			start = 0
		}
		end := idx + len(params.ExtractionPattern) + extractWindow
		if end > len(content) {
			end = len(content)
		}
		entries = append(entries, extractEntry{SourceID: r.ID, Excerpt: content[start:end]})
	}

	tags := map[string]struct{}{"extracted": {}}
	for _, t := range intent.OutputTags {
		tags[t] = struct{}{}
	}

	sourceIDs := make([]string, len(targets))
	for i, r := range targets {
		sourceIDs[i] = r.ID
	}

	owner := ""
	if len(targets) > 0 {
		owner = targets[0].OwnerID
	}

	created := &memory.Record{
		ID:        uuid.New().String(),
		Content:   entries,
		Tags:      tags,
		Timestamp: time.Now(),
		OwnerID:   owner,
		Metadata: map[string]interface{}{
			memory.MetaExtractionSourceIDs: sourceIDs,
			memory.MetaExtractionPattern:   params.ExtractionPattern,
			memory.MetaReason:              intent.Reason,
		},
	}

	impact := forge.Impact{Cognitive: 4, Structural: 5}
	return nil, []*memory.Record{created}, nil, impact, nil
}
