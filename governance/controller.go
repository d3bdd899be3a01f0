// Package governance implements the Governance Session Controller: it
// creates time-bounded weighted votes for proposals routed to it, resolves
// them per spec §4.7's quorum/consensus rules, and notifies the engine of
// the outcome through a narrow callback interface (spec §9's DAG note:
// "Governance depends only on the engine's approval callback, never the
// reverse").
package governance

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/emberwright/metaforge/core"
	"github.com/emberwright/metaforge/forge"
	"github.com/emberwright/metaforge/telemetry"

	"github.com/google/uuid"
)

// ApprovalNotifier is the engine-side callback a session resolution
// reports to (engine.Engine.ApproveWithGovernance satisfies this).
type ApprovalNotifier interface {
	ApproveWithGovernance(proposalID string, decision forge.Decision)
}

// EventPublisher is the narrow event-bus surface the controller needs.
type EventPublisher interface {
	Publish(name string, payload map[string]interface{})
}

// Urgency deadline multipliers against BaseVotingTime (spec §4.7).
var urgencyFactor = map[forge.Urgency]float64{
	forge.UrgencyCritical: 0.5,
	forge.UrgencyHigh:     0.75,
	forge.UrgencyMedium:   1.0,
	forge.UrgencyLow:      1.5,
}

// Config bundles the controller's tunables, mirroring the relevant slice of
// Config.Governance. ImpactThreshold is normalized to [0,1]; a derived
// impact (1-10) is compared against it after dividing by 10.
type Config struct {
	MinQuorum               int
	ConsensusThreshold      float64
	ImpactThreshold         float64
	AlwaysRequireReflection map[forge.SculptOperation]struct{}
	BaseVotingTime          time.Duration
}

// DefaultAlwaysRequireReflection is the spec's default set: {prune, merge}.
func DefaultAlwaysRequireReflection() map[forge.SculptOperation]struct{} {
	return map[forge.SculptOperation]struct{}{
		forge.OpPrune: {},
		forge.OpMerge: {},
	}
}

// Controller owns the active-sessions map and the archive of resolved
// sessions; both are single-writer regions guarded by mu (spec §5's shared
// mutable state discipline).
type Controller struct {
	cfg             Config
	eligibleMembers []string
	notifier        ApprovalNotifier
	events          EventPublisher
	logger          core.Logger

	mu      sync.Mutex
	active  map[string]*forge.VotingSession
	archive []*forge.VotingSession
}

// New creates a Controller with a fixed roster of eligible voting members.
func New(cfg Config, eligibleMembers []string, notifier ApprovalNotifier, events EventPublisher) *Controller {
	if cfg.AlwaysRequireReflection == nil {
		cfg.AlwaysRequireReflection = DefaultAlwaysRequireReflection()
	}
	if cfg.BaseVotingTime <= 0 {
		cfg.BaseVotingTime = 15 * time.Minute
	}
	return &Controller{
		cfg:             cfg,
		eligibleMembers: eligibleMembers,
		notifier:        notifier,
		events:          events,
		logger:          &core.NoOpLogger{},
		active:          make(map[string]*forge.VotingSession),
	}
}

// SetLogger scopes logging to the "metaforge/governance" component.
func (c *Controller) SetLogger(logger core.Logger) {
	if logger == nil {
		c.logger = &core.NoOpLogger{}
		return
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		c.logger = cal.WithComponent("metaforge/governance")
		return
	}
	c.logger = logger
}

func (c *Controller) publish(name string, payload map[string]interface{}) {
	if c.events != nil {
		c.events.Publish(name, payload)
	}
}

// RequiresGovernance reports whether a proposal with the given derived
// operation/target-count/risk/purpose-alignment must be routed to a
// governance session rather than auto-approved (spec §4.7's routing rule).
func (c *Controller) RequiresGovernance(op forge.SculptOperation, targetCount int, risk forge.RiskLevel, purposeAlignment float64) bool {
	if _, always := c.cfg.AlwaysRequireReflection[op]; always {
		return true
	}
	impact := DeriveImpact(op, targetCount, risk, purposeAlignment)
	return float64(impact)/10.0 >= c.cfg.ImpactThreshold
}

// CreateSession opens a new voting session for proposal, with quorum and
// deadline derived from the configured roster and urgency (spec §4.7).
func (c *Controller) CreateSession(proposal forge.BlueprintProposal, urgency forge.Urgency) *forge.VotingSession {
	quorum := c.cfg.MinQuorum
	if derived := int(math.Ceil(0.5 * float64(len(c.eligibleMembers)))); derived > quorum {
		quorum = derived
	}

	factor, ok := urgencyFactor[urgency]
	if !ok {
		factor = urgencyFactor[forge.UrgencyMedium]
	}
	deadline := time.Now().Add(time.Duration(float64(c.cfg.BaseVotingTime) * factor))

	session := &forge.VotingSession{
		ID:                 uuid.New().String(),
		Proposal:           proposal,
		CreatedAt:          time.Now(),
		Status:             forge.SessionInProgress,
		Quorum:             quorum,
		ConsensusThreshold: c.cfg.ConsensusThreshold,
		Urgency:            urgency,
		Deadline:           deadline,
	}

	c.mu.Lock()
	c.active[session.ID] = session
	activeCount := len(c.active)
	c.mu.Unlock()

	c.logger.Info("governance session opened", map[string]interface{}{
		"session_id":  session.ID,
		"proposal_id": proposal.ID,
		"quorum":      quorum,
	})
	telemetry.Counter("governance.session_opened", "urgency", string(urgency))
	telemetry.Gauge("governance.active_sessions", float64(activeCount))
	return session
}

// CastVote records a member's vote and resolves the session immediately if
// the outcome is already decided (spec §4.7: resolution can happen before
// every eligible member votes, once quorum and consensus are both met).
func (c *Controller) CastVote(sessionID string, vote forge.Vote) error {
	c.mu.Lock()
	session, ok := c.active[sessionID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("governance session %q: %w", sessionID, core.ErrNotFound)
	}
	if vote.Timestamp.IsZero() {
		vote.Timestamp = time.Now()
	}
	session.CastVote(vote)
	c.mu.Unlock()

	c.tryResolve(session, time.Now())
	return nil
}

// CheckDeadlines resolves or expires every active session whose deadline
// has passed (spec §5: "a governance session has a hard deadline; on
// expiry the controller resolves the session without further votes").
func (c *Controller) CheckDeadlines(now time.Time) {
	c.mu.Lock()
	sessions := make([]*forge.VotingSession, 0, len(c.active))
	for _, s := range c.active {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	for _, s := range sessions {
		if now.After(s.Deadline) || now.Equal(s.Deadline) {
			c.tryResolve(s, now)
		}
	}
}

// tryResolve applies spec §4.7's resolution rules in order; it is a no-op
// if none yet apply.
func (c *Controller) tryResolve(session *forge.VotingSession, now time.Time) {
	c.mu.Lock()
	if _, stillActive := c.active[session.ID]; !stillActive {
		c.mu.Unlock()
		return
	}

	approve, reject, total := session.WeightedTotals()
	var approveRatio, rejectRatio float64
	if total > 0 {
		approveRatio = approve / total
		rejectRatio = reject / total
	}
	quorumMet := session.VoterCount() >= session.Quorum
	allVoted := session.VoterCount() >= len(c.eligibleMembers) && len(c.eligibleMembers) > 0
	deadlineReached := now.After(session.Deadline) || now.Equal(session.Deadline)

	var decision *forge.Decision
	switch {
	case quorumMet && approveRatio >= session.ConsensusThreshold:
		d := forge.DecisionApproved
		decision = &d
	case quorumMet && rejectRatio >= session.ConsensusThreshold:
		d := forge.DecisionRejected
		decision = &d
	case allVoted || deadlineReached:
		switch {
		case !quorumMet:
			d := forge.DecisionDeferred
			decision = &d
		case approve > reject:
			d := forge.DecisionApproved
			decision = &d
		case reject > approve:
			d := forge.DecisionRejected
			decision = &d
		default:
			d := forge.DecisionDeferred
			decision = &d
		}
	}

	if decision == nil {
		c.mu.Unlock()
		return
	}

	completedAt := now
	session.CompletedAt = &completedAt
	session.Decision = decision
	if deadlineReached && !quorumMet {
		session.Status = forge.SessionExpired
	} else {
		session.Status = forge.SessionCompleted
	}

	delete(c.active, session.ID)
	c.archive = append(c.archive, session)
	c.mu.Unlock()

	c.logger.Info("governance session resolved", map[string]interface{}{
		"session_id": session.ID,
		"decision":   string(*decision),
	})
	telemetry.Counter("governance.session_resolved", "decision", string(*decision), "status", string(session.Status))
	telemetry.RecordLatency("governance.session_duration_ms", float64(completedAt.Sub(session.CreatedAt).Milliseconds()), "decision", string(*decision))
	c.publish("governance_session_resolved", map[string]interface{}{"session_id": session.ID, "proposal_id": session.Proposal.ID, "decision": string(*decision)})

	if c.notifier != nil {
		c.notifier.ApproveWithGovernance(session.Proposal.ID, *decision)
	}
}

// Archive returns every resolved session, oldest first.
func (c *Controller) Archive() []*forge.VotingSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*forge.VotingSession, len(c.archive))
	copy(out, c.archive)
	return out
}

// ActiveSessions returns every session still collecting votes.
func (c *Controller) ActiveSessions() []*forge.VotingSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*forge.VotingSession, 0, len(c.active))
	for _, s := range c.active {
		out = append(out, s)
	}
	return out
}
