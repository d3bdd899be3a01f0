package forge

import "time"

// VoteChoice is a governance member's decision on a session.
type VoteChoice string

const (
	VoteApprove VoteChoice = "approve"
	VoteReject  VoteChoice = "reject"
	VoteAbstain VoteChoice = "abstain"
)

// Vote is one member's cast ballot. Confidence and weight are independent
// axes: confidence is the voter's self-reported certainty, weight is the
// session's (externally supplied) influence factor for that member.
type Vote struct {
	MemberID   string
	Choice     VoteChoice
	Confidence float64
	Weight     float64
	Timestamp  time.Time
}

// SessionStatus is a VotingSession's lifecycle state.
type SessionStatus string

const (
	SessionPending    SessionStatus = "pending"
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionExpired    SessionStatus = "expired"
)

// Decision is a governance session's terminal resolution.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
	DecisionDeferred Decision = "deferred"
)

// VotingSession is a time-bounded weighted vote over a proposal snapshot.
type VotingSession struct {
	ID                 string
	Proposal           BlueprintProposal
	CreatedAt          time.Time
	CompletedAt        *time.Time
	Status             SessionStatus
	Votes              []Vote
	Quorum             int
	ConsensusThreshold float64
	Urgency            Urgency
	Deadline           time.Time
	Decision           *Decision
}

// CastVote records member's latest vote, superseding any earlier vote from
// the same member (spec §3: "one current vote per member — later votes
// supersede").
func (s *VotingSession) CastVote(v Vote) {
	for i := range s.Votes {
		if s.Votes[i].MemberID == v.MemberID {
			s.Votes[i] = v
			return
		}
	}
	s.Votes = append(s.Votes, v)
}

// WeightedTotals returns the sum of weights cast for approve and reject
// respectively, and the total weight of all non-abstain votes.
func (s *VotingSession) WeightedTotals() (approve, reject, total float64) {
	for _, v := range s.Votes {
		switch v.Choice {
		case VoteApprove:
			approve += v.Weight
			total += v.Weight
		case VoteReject:
			reject += v.Weight
			total += v.Weight
		}
	}
	return approve, reject, total
}

// VoterCount returns the number of distinct members who have cast a vote.
func (s *VotingSession) VoterCount() int {
	return len(s.Votes)
}
