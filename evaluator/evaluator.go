// Package evaluator implements the Proposal Evaluator: a pure function from
// a proposal and a purpose core to a weighted score, approval verdict, and
// diagnostics (spec §4.4). It has no suspension points and no mutable state.
package evaluator

import (
	"fmt"
	"strings"

	"github.com/emberwright/metaforge/forge"
)

// PurposeCore is the read-only mapping the evaluator consumes (spec §6).
type PurposeCore struct {
	Mission     string
	Values      []string
	Constraints []string
}

// Fixed axis weights (spec §4.4).
const (
	weightPurpose     = 0.4
	weightFeasibility = 0.3
	weightRisk        = 0.2
	weightResonance   = 0.1
)

// Approval thresholds (spec §4.4).
const (
	minOverall = 0.7
	minPurpose = 0.6
	minRisk    = 0.5
)

// Evaluate scores proposal against purposeCore. It is deterministic: the
// same inputs always produce a bit-identical result (spec testable property 7).
func Evaluate(proposal *forge.BlueprintProposal, purposeCore PurposeCore) forge.EvaluationResult {
	purpose := purposeScore(proposal, purposeCore)
	feasibility := feasibilityScore(proposal)
	risk := riskScore(proposal)
	resonance := (proposal.ExpectedImpact + 1) / 2

	overall := weightPurpose*purpose + weightFeasibility*feasibility + weightRisk*risk + weightResonance*resonance

	approved := overall >= minOverall && purpose >= minPurpose && risk >= minRisk

	recs := recommendations(purpose, feasibility, risk, resonance)

	explanation := fmt.Sprintf(
		"purpose=%.2f feasibility=%.2f risk=%.2f resonance=%.2f overall=%.2f approved=%t",
		purpose, feasibility, risk, resonance, overall, approved,
	)

	return forge.EvaluationResult{
		ProposalID:   proposal.ID,
		Approved:     approved,
		OverallScore: overall,
		SubScores: forge.SubScores{
			Purpose:     purpose,
			Feasibility: feasibility,
			Risk:        risk,
			Resonance:   resonance,
		},
		Explanation:     explanation,
		Recommendations: recs,
	}
}

func purposeScore(p *forge.BlueprintProposal, core PurposeCore) float64 {
	score := p.PurposeAlignment

	if p.IsPurposeLockViolation() {
		score *= 0.1
	}

	if desc, ok := p.Spec.Metadata["description"].(string); ok && desc != "" {
		overlap := keywordOverlap(desc, core.Values)
		score += overlap
	}

	return clamp01(score)
}

// keywordOverlap returns a small, capped credit for how many purpose-core
// values appear in the description.
func keywordOverlap(description string, values []string) float64 {
	if len(values) == 0 {
		return 0
	}
	lower := strings.ToLower(description)
	matches := 0
	for _, v := range values {
		if v == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(v)) {
			matches++
		}
	}
	credit := float64(matches) * 0.05
	if credit > 0.15 {
		credit = 0.15
	}
	return credit
}

var changeTypeFeasibility = map[forge.ChangeType]float64{
	forge.ChangeAdd:    0.9,
	forge.ChangeModify: 0.8,
	forge.ChangeDelete: 0.7,
	forge.ChangeMerge:  0.6,
}

var targetFeasibility = map[forge.TargetComponent]float64{
	forge.TargetMemory:       0.9,
	forge.TargetAgent:        0.8,
	forge.TargetProtocol:     0.7,
	forge.TargetArchitecture: 0.6,
	forge.TargetPurpose:      0.5,
}

func feasibilityScore(p *forge.BlueprintProposal) float64 {
	score := 0.8

	if mult, ok := changeTypeFeasibility[p.ChangeType]; ok {
		score *= mult
	}
	if mult, ok := targetFeasibility[p.Target]; ok {
		score *= mult
	}
	if len(p.DependencyIDs) > 3 {
		score *= 0.8
	}
	if p.Spec.Path == "" || len(p.Spec.Data) == 0 {
		score *= 0.5
	}

	return clamp01(score)
}

var riskBase = map[forge.RiskLevel]float64{
	forge.RiskSafe:         0.9,
	forge.RiskModerate:     0.7,
	forge.RiskHigh:         0.4,
	forge.RiskExperimental: 0.2,
}

var rollbackStrategyWeight = map[forge.RollbackStrategy]float64{
	forge.RollbackRevert:     0.9,
	forge.RollbackCompensate: 0.7,
	forge.RollbackAdapt:      0.5,
}

func riskScore(p *forge.BlueprintProposal) float64 {
	score, ok := riskBase[p.Risk]
	if !ok {
		score = riskBase[forge.RiskModerate]
	}

	if p.RollbackPlan.Strategy != "" {
		quality := rollbackStrategyWeight[p.RollbackPlan.Strategy]
		stepBonus := float64(len(p.RollbackPlan.Steps)) * 0.05
		if stepBonus > 0.2 {
			stepBonus = 0.2
		}
		quality = clamp01(quality + stepBonus)
		score = (score + quality) / 2
	}

	depPenalty := float64(len(p.DependencyIDs)) * 0.05
	if depPenalty > 0.3 {
		depPenalty = 0.3
	}
	score -= depPenalty

	return clamp01(score)
}

func recommendations(purpose, feasibility, risk, resonance float64) []string {
	var recs []string
	if purpose < minPurpose {
		recs = append(recs, "increase purpose alignment or avoid modifying the purpose target")
	}
	if feasibility < 0.5 {
		recs = append(recs, "reduce dependency count or complete required specification fields")
	}
	if risk < minRisk {
		recs = append(recs, "declare a stronger rollback plan or lower the declared risk level")
	}
	if resonance < 0.4 {
		recs = append(recs, "reconsider expected emotional impact on affected agents")
	}
	return recs
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
