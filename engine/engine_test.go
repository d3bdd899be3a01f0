package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberwright/metaforge/evaluator"
	"github.com/emberwright/metaforge/forge"
)

type fakeExecutor struct {
	mu       sync.Mutex
	executed []*forge.BlueprintProposal
	active   int
	fail     bool
}

func (f *fakeExecutor) Execute(ctx context.Context, proposal *forge.BlueprintProposal, evaluation forge.EvaluationResult) (*forge.ForgeExecution, error) {
	f.mu.Lock()
	f.executed = append(f.executed, proposal)
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return nil, assertErr
	}
	return &forge.ForgeExecution{ID: "exec-" + proposal.ID, ProposalID: proposal.ID, Status: forge.ExecutionSuccess}, nil
}

func (f *fakeExecutor) ActiveExecutions() []*forge.ForgeExecution {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*forge.ForgeExecution, f.active)
	return out
}

var assertErr = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

type recordingPublisher struct {
	mu    sync.Mutex
	names []string
}

func (p *recordingPublisher) Publish(name string, payload map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.names = append(p.names, name)
}

func (p *recordingPublisher) saw(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, n := range p.names {
		if n == name {
			return true
		}
	}
	return false
}

func baseProposal() *forge.BlueprintProposal {
	return &forge.BlueprintProposal{
		ProposerID:       "agent-1",
		Target:           forge.TargetMemory,
		ChangeType:       forge.ChangeModify,
		Risk:             forge.RiskSafe,
		PurposeAlignment: 0.9,
		ExpectedImpact:   0.1,
		Spec: forge.Specification{
			Path: "memory/r1",
			Data: map[string]interface{}{"k": "v"},
		},
	}
}

func TestSubmitAutoApprovedDispatches(t *testing.T) {
	exec := &fakeExecutor{}
	pub := &recordingPublisher{}
	e := New(Config{AutoApprovalThreshold: 0.5, MaxConcurrentExecutions: 2}, evaluator.PurposeCore{}, exec, pub)

	id, err := e.Submit(baseProposal())
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	assert.True(t, pub.saw("proposal_queued"))
	assert.True(t, pub.saw("proposal_evaluated"))
	assert.True(t, pub.saw("processing_started"))
	assert.Equal(t, 0, e.QueueLength())
}

func TestSubmitRejectsMissingFields(t *testing.T) {
	exec := &fakeExecutor{}
	pub := &recordingPublisher{}
	e := New(Config{AutoApprovalThreshold: 0.5}, evaluator.PurposeCore{}, exec, pub)

	_, err := e.Submit(&forge.BlueprintProposal{})
	require.Error(t, err)
	assert.True(t, pub.saw("proposal_rejected"))
}

func TestSubmitRejectsPurposeLockViolation(t *testing.T) {
	exec := &fakeExecutor{}
	pub := &recordingPublisher{}
	e := New(Config{AutoApprovalThreshold: 0.5, PurposeLockEnabled: true}, evaluator.PurposeCore{}, exec, pub)

	p := baseProposal()
	p.Target = forge.TargetPurpose
	p.ChangeType = forge.ChangeModify

	_, err := e.Submit(p)
	require.Error(t, err)
}

func TestSubmitExperimentalRiskHeldForGovernance(t *testing.T) {
	exec := &fakeExecutor{}
	pub := &recordingPublisher{}
	e := New(Config{AutoApprovalThreshold: 0.1, MaxConcurrentExecutions: 2}, evaluator.PurposeCore{}, exec, pub)

	p := baseProposal()
	p.Risk = forge.RiskExperimental
	p.RollbackPlan = forge.RollbackPlan{Strategy: forge.RollbackRevert, Steps: []string{"a", "b", "c", "d"}}

	id, err := e.Submit(p)
	require.NoError(t, err)

	assert.True(t, pub.saw("special_approval_required"))
	held := e.HeldProposals()
	require.Len(t, held, 1)
	assert.Equal(t, id, held[0].ID)
}

func TestApproveWithGovernanceDispatchesHeldProposal(t *testing.T) {
	exec := &fakeExecutor{}
	pub := &recordingPublisher{}
	e := New(Config{AutoApprovalThreshold: 0.1, MaxConcurrentExecutions: 2}, evaluator.PurposeCore{}, exec, pub)

	p := baseProposal()
	p.Risk = forge.RiskExperimental
	p.RollbackPlan = forge.RollbackPlan{Strategy: forge.RollbackRevert, Steps: []string{"a", "b", "c", "d"}}
	id, err := e.Submit(p)
	require.NoError(t, err)

	e.ApproveWithGovernance(id, forge.DecisionApproved)

	// Dispatch runs the executor on its own goroutine.
	require.Eventually(t, func() bool {
		exec.mu.Lock()
		defer exec.mu.Unlock()
		return len(exec.executed) >= 1
	}, time.Second, 5*time.Millisecond)
	exec.mu.Lock()
	executed := len(exec.executed)
	exec.mu.Unlock()
	assert.Equal(t, 1, executed)
}

func TestApproveWithGovernanceRejectedEmitsEvent(t *testing.T) {
	exec := &fakeExecutor{}
	pub := &recordingPublisher{}
	e := New(Config{AutoApprovalThreshold: 0.1, MaxConcurrentExecutions: 2}, evaluator.PurposeCore{}, exec, pub)

	p := baseProposal()
	p.Risk = forge.RiskExperimental
	p.RollbackPlan = forge.RollbackPlan{Strategy: forge.RollbackRevert, Steps: []string{"a", "b", "c", "d"}}
	id, err := e.Submit(p)
	require.NoError(t, err)
	require.Len(t, e.HeldProposals(), 1)

	e.ApproveWithGovernance(id, forge.DecisionRejected)
	assert.True(t, pub.saw("proposal_rejected"))
	assert.Empty(t, e.HeldProposals())
}

func TestSubmitBlocksWhenExecutorSaturated(t *testing.T) {
	exec := &fakeExecutor{active: 1}
	pub := &recordingPublisher{}
	e := New(Config{AutoApprovalThreshold: 0.1, MaxConcurrentExecutions: 1}, evaluator.PurposeCore{}, exec, pub)

	_, err := e.Submit(baseProposal())
	require.NoError(t, err)

	assert.Equal(t, 1, e.QueueLength())
	assert.False(t, pub.saw("processing_started"))
}

func TestProposeSelfImprovementSetsProposer(t *testing.T) {
	exec := &fakeExecutor{}
	pub := &recordingPublisher{}
	e := New(Config{AutoApprovalThreshold: 0.1, MaxConcurrentExecutions: 2}, evaluator.PurposeCore{}, exec, pub)

	id, err := e.ProposeSelfImprovement(forge.BlueprintProposal{
		Target:           forge.TargetMemory,
		ChangeType:       forge.ChangeAdd,
		Risk:             forge.RiskSafe,
		PurposeAlignment: 0.9,
		Spec:             forge.Specification{Path: "memory/new", Data: map[string]interface{}{"k": "v"}},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	// Dispatch runs the executor on its own goroutine.
	require.Eventually(t, func() bool {
		exec.mu.Lock()
		defer exec.mu.Unlock()
		return len(exec.executed) >= 1
	}, time.Second, 5*time.Millisecond)
	exec.mu.Lock()
	defer exec.mu.Unlock()
	require.Len(t, exec.executed, 1)
	assert.Equal(t, "engine", exec.executed[0].ProposerID)
}
