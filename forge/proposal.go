package forge

import "time"

// RollbackStrategy names how an execution's rollback plan reverses a change.
type RollbackStrategy string

const (
	RollbackRevert     RollbackStrategy = "revert"
	RollbackCompensate RollbackStrategy = "compensate"
	RollbackAdapt      RollbackStrategy = "adapt"
)

// RollbackPlan is a proposal's required undo contract.
type RollbackPlan struct {
	Strategy RollbackStrategy
	Steps    []string
}

// Specification is the proposal's change payload: a path identifying what is
// being changed, an opaque data blob, and free-form metadata. It replaces a
// single "any"-typed payload with an explicit, inspectable shape (spec §9's
// re-architecture note on dynamic payloads).
type Specification struct {
	Path     string
	Data     map[string]interface{}
	Metadata map[string]interface{}
}

// AffectedPair names two agents whose relationship a proposal's expected
// emotional impact is scoped to.
type AffectedPair struct {
	AgentA string
	AgentB string
}

// BlueprintProposal is a declarative request to modify a system component.
type BlueprintProposal struct {
	ID               string
	Timestamp        time.Time
	ProposerID       string
	Target           TargetComponent
	ChangeType       ChangeType
	Spec             Specification
	Priority         float64
	Risk             RiskLevel
	PurposeAlignment float64
	ExpectedImpact   float64
	AffectedPairs    []AffectedPair
	DependencyIDs    []string
	Constraints      []string
	RollbackPlan     RollbackPlan
}

// IsPurposeLockViolation reports whether the proposal attempts to modify the
// purpose target component — the one invariant the data model calls out
// explicitly (spec §3).
func (p *BlueprintProposal) IsPurposeLockViolation() bool {
	return p.Target == TargetPurpose && p.ChangeType == ChangeModify
}
