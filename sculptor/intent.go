// Package sculptor implements the Memory Sculptor: a transactional engine
// that applies one of six typed mutations over a set of memory records,
// running pre/post hooks that can veto or observe each operation.
package sculptor

import (
	"time"

	"github.com/emberwright/metaforge/forge"
)

// IntentParams is the operation-specific parameter payload for an
// Intent. Each of the six operations has its own concrete type so
// parameters are statically enumerated rather than carried as an untyped map
// (spec §9's re-architecture note on dynamic "any"-typed payloads).
type IntentParams interface {
	isIntentParams()
}

// RelabelParams configures an OpRelabel intent.
type RelabelParams struct {
	NewTags     []string
	NewMetadata map[string]interface{}
	ReplaceTags bool
}

func (RelabelParams) isIntentParams() {}

// MergeParams configures an OpMerge intent. DeleteOriginals defaults to true
// unless explicitly set false (spec §4.2: "if delete_originals is not
// explicitly false, all sources are deleted").
type MergeParams struct {
	DeleteOriginals *bool
}

func (MergeParams) isIntentParams() {}

// deleteOriginals resolves the default-true semantics.
func (p MergeParams) deleteOriginals() bool {
	if p.DeleteOriginals == nil {
		return true
	}
	return *p.DeleteOriginals
}

// PruneParams configures an OpPrune intent. RespectProtection defaults to
// true unless explicitly set false.
type PruneParams struct {
	RespectProtection *bool
}

func (PruneParams) isIntentParams() {}

func (p PruneParams) respectProtection() bool {
	if p.RespectProtection == nil {
		return true
	}
	return *p.RespectProtection
}

// LinkMeta is the per-link metadata record attached by an OpRelink intent.
type LinkMeta struct {
	CreatedAt time.Time
	Reason    string
	Extra     map[string]interface{}
}

// RelinkParams configures an OpRelink intent.
type RelinkParams struct {
	LinkToIDs    []string
	LinkMetadata map[string]LinkMeta
}

func (RelinkParams) isIntentParams() {}

// ExtractParams configures an OpExtract intent.
type ExtractParams struct {
	ExtractionPattern string
}

func (ExtractParams) isIntentParams() {}

// PreserveParams configures an OpPreserve intent.
type PreserveParams struct {
	PreservationDuration *time.Duration
	ProtectionReason     string
}

func (PreserveParams) isIntentParams() {}

// Intent declares one sculptor operation over a non-empty target id set.
type Intent struct {
	Operation  forge.SculptOperation
	TargetIDs  []string
	AgentID    string
	Reason     string
	OutputTags []string
	Params     IntentParams
}
