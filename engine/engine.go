// Package engine implements the Meta-Forging Engine: the single-producer
// queue that evaluates submitted proposals, auto-dispatches the ones that
// clear the approval bar, and holds the rest for governance (spec §4.6).
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/emberwright/metaforge/core"
	"github.com/emberwright/metaforge/evaluator"
	"github.com/emberwright/metaforge/forge"
	"github.com/emberwright/metaforge/telemetry"
)

// ExecutorPort is the slice of executor.Executor the engine depends on,
// narrowed so the engine can be tested against a fake.
type ExecutorPort interface {
	Execute(ctx context.Context, proposal *forge.BlueprintProposal, evaluation forge.EvaluationResult) (*forge.ForgeExecution, error)
	ActiveExecutions() []*forge.ForgeExecution
}

// EventPublisher is the narrow event-bus surface the engine needs.
type EventPublisher interface {
	Publish(name string, payload map[string]interface{})
}

// Config bundles the engine's tunables, mirroring the relevant slice of
// Config.Engine. RequiresGuildConsensus and HumanOversightRequired are
// carried as global toggles (as core.Config defines them), not per-change-type
// or per-target sets.
type Config struct {
	AutoApprovalThreshold   float64
	RequiresGuildConsensus  bool
	HumanOversightRequired  bool
	MaxConcurrentExecutions int
	PurposeLockEnabled      bool
}

// pendingApproval is a proposal the governance controller has already
// approved but that could not be dispatched immediately because the
// executor was at capacity.
type pendingApproval struct {
	proposal   *forge.BlueprintProposal
	evaluation forge.EvaluationResult
}

// Engine owns the FIFO proposal queue and the special-approval holding set.
type Engine struct {
	cfg         Config
	purposeCore evaluator.PurposeCore
	executor    ExecutorPort
	events      EventPublisher
	logger      core.Logger

	mu     sync.Mutex
	queue  []*forge.BlueprintProposal
	held   map[string]*forge.BlueprintProposal
	bypass map[string]pendingApproval
}

// New creates an Engine wired to exec and events.
func New(cfg Config, purposeCore evaluator.PurposeCore, exec ExecutorPort, events EventPublisher) *Engine {
	if cfg.MaxConcurrentExecutions < 1 {
		cfg.MaxConcurrentExecutions = 1
	}
	return &Engine{
		cfg:         cfg,
		purposeCore: purposeCore,
		executor:    exec,
		events:      events,
		logger:      &core.NoOpLogger{},
		held:        make(map[string]*forge.BlueprintProposal),
		bypass:      make(map[string]pendingApproval),
	}
}

// SetLogger scopes logging to the "metaforge/engine" component.
func (e *Engine) SetLogger(logger core.Logger) {
	if logger == nil {
		e.logger = &core.NoOpLogger{}
		return
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		e.logger = cal.WithComponent("metaforge/engine")
		return
	}
	e.logger = logger
}

func (e *Engine) publish(name string, payload map[string]interface{}) {
	if e.events != nil {
		e.events.Publish(name, payload)
	}
}

// HeldProposals returns the proposals currently awaiting governance.
func (e *Engine) HeldProposals() []*forge.BlueprintProposal {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*forge.BlueprintProposal, 0, len(e.held))
	for _, p := range e.held {
		out = append(out, p)
	}
	return out
}

// QueueLength reports how many proposals are waiting to be drained.
func (e *Engine) QueueLength() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Submit validates proposal, enforces the purpose lock, appends it to the
// queue, and triggers a drain. Validation failures emit proposal_rejected
// and fail with InvalidProposal (spec §4.6).
func (e *Engine) Submit(proposal *forge.BlueprintProposal) (string, error) {
	if proposal.ID == "" {
		proposal.ID = uuid.New().String()
	}
	if proposal.Timestamp.IsZero() {
		proposal.Timestamp = time.Now()
	}

	if err := e.validate(proposal); err != nil {
		telemetry.RecordError("engine.submit", "invalid_proposal")
		return "", err
	}

	e.mu.Lock()
	e.queue = append(e.queue, proposal)
	queueLength := len(e.queue)
	e.mu.Unlock()

	telemetry.Counter("engine.proposal_submitted", "proposer", proposal.ProposerID)
	telemetry.Gauge("engine.queue_length", float64(queueLength))

	e.publish("proposal_queued", map[string]interface{}{"proposal_id": proposal.ID})
	e.drain()

	return proposal.ID, nil
}

// ProposeSelfImprovement lets the engine itself originate a proposal,
// tagged with proposer "engine" (spec §4.6).
func (e *Engine) ProposeSelfImprovement(partial forge.BlueprintProposal) (string, error) {
	partial.ProposerID = "engine"
	partial.ID = uuid.New().String()
	return e.Submit(&partial)
}

func (e *Engine) validate(p *forge.BlueprintProposal) error {
	if p.ProposerID == "" || p.Target == "" || p.ChangeType == "" || p.Spec.Path == "" {
		err := fmt.Errorf("proposal %s missing required fields: %w", p.ID, core.ErrInvalidProposal)
		e.publish("proposal_rejected", map[string]interface{}{"proposal_id": p.ID, "reason": err.Error()})
		return err
	}
	if e.cfg.PurposeLockEnabled && p.IsPurposeLockViolation() {
		err := fmt.Errorf("proposal %s violates the purpose lock: %w", p.ID, core.ErrInvalidProposal)
		e.publish("proposal_rejected", map[string]interface{}{"proposal_id": p.ID, "reason": err.Error()})
		return err
	}
	return nil
}

// requiresSpecialApproval implements spec §4.6's routing predicate against
// the toggles core.Config actually exposes.
func (e *Engine) requiresSpecialApproval(p *forge.BlueprintProposal) bool {
	return e.cfg.RequiresGuildConsensus || e.cfg.HumanOversightRequired || p.Risk == forge.RiskExperimental
}

// drain is the engine's single-producer queue-processing loop. It stops
// as soon as the executor is at capacity, leaving the remaining queue
// (including the head that could not be dispatched) for a later drain.
func (e *Engine) drain() {
	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			e.mu.Unlock()
			return
		}
		head := e.queue[0]
		bypassed, hasBypass := e.bypass[head.ID]
		e.mu.Unlock()

		if hasBypass {
			if !e.tryDispatch(head, bypassed.evaluation) {
				return
			}
			e.mu.Lock()
			delete(e.bypass, head.ID)
			e.mu.Unlock()
			continue
		}

		result := evaluator.Evaluate(head, e.purposeCore)
		e.publish("proposal_evaluated", map[string]interface{}{
			"proposal_id":   head.ID,
			"approved":      result.Approved,
			"overall_score": result.OverallScore,
		})

		switch {
		case result.Approved && result.OverallScore >= e.cfg.AutoApprovalThreshold && !e.requiresSpecialApproval(head):
			telemetry.Counter("engine.proposal_routed", "outcome", "auto_dispatch")
			if !e.tryDispatch(head, result) {
				return
			}
		case result.Approved:
			telemetry.Counter("engine.proposal_routed", "outcome", "special_approval")
			e.popHead()
			e.mu.Lock()
			e.held[head.ID] = head
			e.mu.Unlock()
			e.publish("special_approval_required", map[string]interface{}{
				"proposal_id": head.ID,
				"proposal":    *head,
				"urgency":     riskUrgency(head.Risk),
			})
		default:
			telemetry.Counter("engine.proposal_routed", "outcome", "rejected")
			e.popHead()
			e.publish("proposal_rejected", map[string]interface{}{"proposal_id": head.ID, "reason": result.Explanation})
		}
	}
}

// tryDispatch pops and dispatches head if the executor has capacity; it
// reports false (leaving head at the queue's front) if it does not.
func (e *Engine) tryDispatch(head *forge.BlueprintProposal, result forge.EvaluationResult) bool {
	if len(e.executor.ActiveExecutions()) >= e.cfg.MaxConcurrentExecutions {
		return false
	}
	e.popHead()
	e.dispatch(head, result)
	return true
}

func (e *Engine) popHead() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) > 0 {
		e.queue = e.queue[1:]
	}
}

func (e *Engine) dispatch(p *forge.BlueprintProposal, result forge.EvaluationResult) {
	e.publish("processing_started", map[string]interface{}{"proposal_id": p.ID})
	go func() {
		start := time.Now()
		_, err := e.executor.Execute(context.Background(), p, result)
		status := "success"
		if err != nil {
			status = "failed"
			telemetry.RecordError("engine.execution", fmt.Sprintf("%T", err))
		}
		telemetry.RecordLatency("engine.execution_duration_ms", float64(time.Since(start).Milliseconds()), "status", status)
		e.publish("processing_completed", map[string]interface{}{"proposal_id": p.ID, "status": status})
	}()
}

// riskUrgency maps a proposal's declared risk to a governance urgency band.
func riskUrgency(risk forge.RiskLevel) forge.Urgency {
	switch risk {
	case forge.RiskExperimental:
		return forge.UrgencyCritical
	case forge.RiskHigh:
		return forge.UrgencyHigh
	case forge.RiskModerate:
		return forge.UrgencyMedium
	default:
		return forge.UrgencyLow
	}
}

// ApproveWithGovernance finalizes a held proposal. It satisfies
// governance.ApprovalNotifier by structural typing, with no import of the
// governance package needed (spec §9's DAG: governance depends on the
// engine's callback, never the reverse).
func (e *Engine) ApproveWithGovernance(proposalID string, decision forge.Decision) {
	e.mu.Lock()
	p, ok := e.held[proposalID]
	if ok {
		delete(e.held, proposalID)
	}
	e.mu.Unlock()
	if !ok {
		return
	}

	switch decision {
	case forge.DecisionApproved:
		result := evaluator.Evaluate(p, e.purposeCore)
		e.mu.Lock()
		e.bypass[p.ID] = pendingApproval{proposal: p, evaluation: result}
		e.queue = append([]*forge.BlueprintProposal{p}, e.queue...)
		e.mu.Unlock()
		e.drain()
	case forge.DecisionRejected:
		e.publish("proposal_rejected", map[string]interface{}{"proposal_id": p.ID})
	default:
		e.publish("proposal_deferred", map[string]interface{}{"proposal_id": p.ID})
	}
}
