package forge

// SubScores holds the four weighted evaluation axes (spec §4.4).
type SubScores struct {
	Purpose     float64
	Feasibility float64
	Risk        float64
	Resonance   float64
}

// EvaluationResult is the pure output of scoring a proposal. It is a value
// type: two evaluations of the same proposal against the same purpose core
// must compare equal.
type EvaluationResult struct {
	ProposalID      string
	Approved        bool
	OverallScore    float64
	SubScores       SubScores
	Explanation     string
	Recommendations []string
}
