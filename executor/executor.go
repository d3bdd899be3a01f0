// Package executor implements the Forge Executor: it runs approved
// proposals with bounded concurrency, captures rollback data, and drives
// rollback on failure (spec §4.5).
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/emberwright/metaforge/core"
	"github.com/emberwright/metaforge/forge"
	"github.com/emberwright/metaforge/resilience"
	"github.com/emberwright/metaforge/sculptor"
)

// Applier applies one change specification and reports the change it made.
// The memory applier delegates to a Sculptor; other target components are
// stubs in this core — they record a change and emit events without a real
// backing system (spec §4.5 step 3).
type Applier func(ctx context.Context, proposal *forge.BlueprintProposal) (forge.ChangeRecord, error)

// EventPublisher is the minimal surface the executor needs from the event
// bus, kept narrow so executor does not import the engine's wiring.
type EventPublisher interface {
	Publish(name string, payload map[string]interface{})
}

// Executor runs approved proposals.
type Executor struct {
	appliers     map[forge.TargetComponent]Applier
	sem          chan struct{}
	maxHistory   int
	sandboxFirst bool
	events       EventPublisher
	logger       core.Logger

	mu       sync.Mutex
	active   map[string]*forge.ForgeExecution
	history  []*forge.ForgeExecution
	breakers map[forge.TargetComponent]*resilience.CircuitBreaker
}

// Config bundles the executor's tunables, mirroring the relevant slice of
// Config.Engine.
type Config struct {
	MaxConcurrent int
	MaxHistory    int
	SandboxFirst  bool
}

// New creates an Executor with a memory applier wired to sculpt. Appliers
// for other target components are added with RegisterApplier; target
// components without one fall back to a no-op recording stub.
func New(cfg Config, sculptorFn *sculptor.Sculptor, events EventPublisher) *Executor {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	maxHistory := cfg.MaxHistory
	if maxHistory < 1 {
		maxHistory = 500
	}

	e := &Executor{
		appliers:     make(map[forge.TargetComponent]Applier),
		sem:          make(chan struct{}, maxConcurrent),
		maxHistory:   maxHistory,
		sandboxFirst: cfg.SandboxFirst,
		events:       events,
		logger:       &core.NoOpLogger{},
		active:       make(map[string]*forge.ForgeExecution),
		breakers:     make(map[forge.TargetComponent]*resilience.CircuitBreaker),
	}

	e.appliers[forge.TargetMemory] = memoryApplier(sculptorFn)

	return e
}

// SetLogger scopes logging to the "metaforge/executor" component.
func (e *Executor) SetLogger(logger core.Logger) {
	if logger == nil {
		e.logger = &core.NoOpLogger{}
		return
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		e.logger = cal.WithComponent("metaforge/executor")
		return
	}
	e.logger = logger
}

// RegisterApplier wires a stub or real applier for a target component other
// than memory (which is always wired through the sculptor).
func (e *Executor) RegisterApplier(target forge.TargetComponent, applier Applier) {
	e.appliers[target] = applier
}

func (e *Executor) publish(name string, payload map[string]interface{}) {
	if e.events != nil {
		e.events.Publish(name, payload)
	}
}

// breakerFor returns the per-target-component circuit breaker, creating it
// on first use. Appliers fail open to real systems (memory store, future
// agent/protocol backends); the breaker keeps a run of failures against one
// target from starving executions targeting the others.
func (e *Executor) breakerFor(target forge.TargetComponent) *resilience.CircuitBreaker {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cb, ok := e.breakers[target]; ok {
		return cb
	}
	cb, err := resilience.CreateCircuitBreaker("executor."+string(target), resilience.ResilienceDependencies{Logger: e.logger})
	if err != nil {
		// DefaultConfig is always valid; this only guards against a future
		// change to DefaultConfig breaking Validate.
		cb, _ = resilience.NewCircuitBreaker(resilience.DefaultConfig())
	}
	e.breakers[target] = cb
	return cb
}

// ActiveExecutions returns the executions currently running.
func (e *Executor) ActiveExecutions() []*forge.ForgeExecution {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*forge.ForgeExecution, 0, len(e.active))
	for _, ex := range e.active {
		out = append(out, ex)
	}
	return out
}

// ExecutionHistory returns completed executions, oldest first.
func (e *Executor) ExecutionHistory() []*forge.ForgeExecution {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*forge.ForgeExecution, len(e.history))
	copy(out, e.history)
	return out
}

// Execute runs an approved proposal. It rejects unapproved evaluations with
// NotApproved; the caller is responsible for respecting max_concurrent
// before calling Execute (spec §4.5: "bounded concurrency: the engine
// caller must not launch more concurrent executions...").
func (e *Executor) Execute(ctx context.Context, proposal *forge.BlueprintProposal, evaluation forge.EvaluationResult) (*forge.ForgeExecution, error) {
	if !evaluation.Approved {
		return nil, fmt.Errorf("proposal %s is not approved: %w", proposal.ID, core.ErrNotApproved)
	}

	select {
	case e.sem <- struct{}{}:
	default:
		return nil, fmt.Errorf("concurrency limit reached: %w", core.ErrConcurrencyLimitReached)
	}
	defer func() { <-e.sem }()

	exec := &forge.ForgeExecution{
		ID:         uuid.New().String(),
		ProposalID: proposal.ID,
		StartedAt:  time.Now(),
		Status:     forge.ExecutionPending,
	}

	e.mu.Lock()
	e.active[exec.ID] = exec
	e.mu.Unlock()

	e.publish("execution_started", map[string]interface{}{"execution_id": exec.ID, "proposal_id": proposal.ID, "timestamp": exec.StartedAt})

	applier, ok := e.appliers[proposal.Target]
	if !ok {
		applier = recordingStubApplier
	}
	breaker := e.breakerFor(proposal.Target)

	if e.sandboxFirst {
		if _, sandboxErr := guardedApply(ctx, breaker, applier, proposal, e.logger); sandboxErr != nil {
			exec.Append(fmt.Sprintf("sandbox dry run failed: %v", sandboxErr))
			return e.finishFailed(ctx, exec, proposal, sandboxErr)
		}
		exec.Append("sandbox dry run succeeded")
	}

	exec.Status = forge.ExecutionRunning

	change, err := guardedApply(ctx, breaker, applier, proposal, e.logger)
	if err != nil {
		return e.finishFailed(ctx, exec, proposal, err)
	}

	exec.ChangeSet = append(exec.ChangeSet, change)
	now := time.Now()
	exec.EndedAt = &now
	exec.Status = forge.ExecutionSuccess

	e.retire(exec)
	e.publish("execution_completed", map[string]interface{}{"execution_id": exec.ID, "proposal_id": proposal.ID, "status": string(exec.Status)})

	return exec, nil
}

func (e *Executor) finishFailed(ctx context.Context, exec *forge.ForgeExecution, proposal *forge.BlueprintProposal, cause error) (*forge.ForgeExecution, error) {
	now := time.Now()
	exec.EndedAt = &now
	exec.Status = forge.ExecutionFailed
	exec.Append(fmt.Sprintf("execution failed: %v", cause))

	if proposal.RollbackPlan.Strategy != "" {
		attempt := e.runRollback(ctx, proposal)
		exec.RollbackAttempt = attempt
		if attempt.Succeeded {
			exec.Status = forge.ExecutionRolledBack
			e.publish("rollback_succeeded", map[string]interface{}{"execution_id": exec.ID, "proposal_id": proposal.ID})
		} else {
			e.publish("rollback_failed", map[string]interface{}{"execution_id": exec.ID, "proposal_id": proposal.ID, "error": attempt.Err.Error()})
		}
	}

	e.retire(exec)
	e.publish("execution_completed", map[string]interface{}{"execution_id": exec.ID, "proposal_id": proposal.ID, "status": string(exec.Status)})

	return exec, cause
}

func (e *Executor) runRollback(ctx context.Context, proposal *forge.BlueprintProposal) *forge.RollbackAttempt {
	log := make([]string, 0, len(proposal.RollbackPlan.Steps))
	for _, step := range proposal.RollbackPlan.Steps {
		log = append(log, fmt.Sprintf("executed rollback step: %s", step))
	}
	if len(proposal.RollbackPlan.Steps) == 0 {
		return &forge.RollbackAttempt{Succeeded: false, Err: fmt.Errorf("rollback plan has no steps: %w", core.ErrRollbackFailed)}
	}
	return &forge.RollbackAttempt{Succeeded: true, Log: log}
}

// retire moves exec from the active set into history, evicting the oldest
// entry once maxHistory is exceeded (spec §9's bounded shared-state note).
func (e *Executor) retire(exec *forge.ForgeExecution) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.active, exec.ID)
	e.history = append(e.history, exec)
	if len(e.history) > e.maxHistory {
		e.history = e.history[len(e.history)-e.maxHistory:]
	}
}

// guardedApply runs applier through the target's circuit breaker so a
// failing backend trips open instead of absorbing every proposal routed at
// it (spec §9's resilience note on downstream appliers). A transient
// failure on the first attempt gets a bounded retry, still gated by the
// same breaker, before the caller falls through to the proposal's rollback
// plan.
func guardedApply(ctx context.Context, breaker *resilience.CircuitBreaker, applier Applier, proposal *forge.BlueprintProposal, logger core.Logger) (forge.ChangeRecord, error) {
	var change forge.ChangeRecord
	run := func() error {
		var applyErr error
		change, applyErr = applier(ctx, proposal)
		return applyErr
	}

	err := resilience.ExecuteWithTelemetry(breaker, ctx, run)
	if err == nil || !isTransientApplyError(err) {
		return change, err
	}

	retryCfg := resilience.CreateRetryPolicy(resilience.ResilienceDependencies{Logger: logger})
	retryCfg.MaxAttempts = 2
	err = resilience.RetryWithCircuitBreaker(ctx, retryCfg, breaker, run)
	return change, err
}

// isTransientApplyError reports whether err is worth a bounded retry. A
// malformed proposal or an already-open breaker will not succeed on a
// second attempt, so those go straight to rollback instead of spending the
// retry budget on a deterministic failure.
func isTransientApplyError(err error) bool {
	return !errors.Is(err, core.ErrInvalidProposal) && !errors.Is(err, core.ErrCircuitBreakerOpen)
}

func memoryApplier(s *sculptor.Sculptor) Applier {
	return func(ctx context.Context, proposal *forge.BlueprintProposal) (forge.ChangeRecord, error) {
		intent, ok := proposal.Spec.Data["intent"].(sculptor.Intent)
		if !ok {
			return forge.ChangeRecord{}, fmt.Errorf("memory proposal missing sculptor intent: %w", core.ErrInvalidProposal)
		}
		result, err := s.Sculpt(ctx, intent)
		if err != nil {
			return forge.ChangeRecord{}, err
		}
		return forge.ChangeRecord{Path: proposal.Spec.Path, Before: nil, After: result.AffectedIDs}, nil
	}
}

// recordingStubApplier is used for target components other than memory: it
// records the change without a backing system (spec §4.5: "other appliers
// are stubs in this core — they only record changes and emit events").
func recordingStubApplier(ctx context.Context, proposal *forge.BlueprintProposal) (forge.ChangeRecord, error) {
	return forge.ChangeRecord{Path: proposal.Spec.Path, Before: nil, After: proposal.Spec.Data}, nil
}
