package governance

import "github.com/emberwright/metaforge/forge"

var baseImpact = map[forge.SculptOperation]int{
	forge.OpRelabel:  2,
	forge.OpMerge:    8,
	forge.OpPrune:    9,
	forge.OpRelink:   6,
	forge.OpExtract:  4,
	forge.OpPreserve: 3,
}

// DeriveImpact scores a sculpt operation's governance impact on a 1-10
// scale (spec §4.7): a base per operation, plus target-count and risk
// adjustments, plus a purpose-alignment penalty, clamped to the valid
// range. It is a standalone pure function so routing decisions can be
// tested independently of session creation.
func DeriveImpact(op forge.SculptOperation, targetCount int, risk forge.RiskLevel, purposeAlignment float64) int {
	score, ok := baseImpact[op]
	if !ok {
		score = 5
	}

	switch {
	case targetCount > 50:
		score += 2
	case targetCount > 20:
		score += 1
	}

	switch risk {
	case forge.RiskExperimental:
		score += 2
	case forge.RiskModerate:
		score += 1
	}

	if purposeAlignment < 0.5 {
		score++
	}

	if score < 1 {
		score = 1
	}
	if score > 10 {
		score = 10
	}
	return score
}
