package executor

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberwright/metaforge/core"
	"github.com/emberwright/metaforge/forge"
	"github.com/emberwright/metaforge/memory"
	"github.com/emberwright/metaforge/sculptor"
)

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

func newMemoryProposal(t *testing.T, intent sculptor.Intent) *forge.BlueprintProposal {
	t.Helper()
	return &forge.BlueprintProposal{
		ID:     "prop-1",
		Target: forge.TargetMemory,
		Spec: forge.Specification{
			Path: "memory/r1",
			Data: map[string]interface{}{"intent": intent},
		},
	}
}

func approvedEvaluation() forge.EvaluationResult {
	return forge.EvaluationResult{Approved: true, OverallScore: 0.9}
}

func TestExecuteMemoryProposalAppliesSculpt(t *testing.T) {
	r1 := memory.NewRecord("r1", "hello", []string{"a"}, "agent-1")
	store := memory.NewInMemoryStore()
	require.NoError(t, store.Put(context.Background(), r1))
	s := sculptor.New(store, nil, 50)

	pub := &recordingPublisher{}
	ex := New(Config{MaxConcurrent: 2, MaxHistory: 10}, s, pub)

	proposal := newMemoryProposal(t, sculptor.Intent{
		Operation: forge.OpRelabel,
		TargetIDs: []string{"r1"},
		AgentID:   "agent-1",
		Params:    sculptor.RelabelParams{NewTags: []string{"b"}},
	})

	exec, err := ex.Execute(context.Background(), proposal, approvedEvaluation())
	require.NoError(t, err)
	assert.Equal(t, forge.ExecutionSuccess, exec.Status)
	assert.NotNil(t, exec.EndedAt)
	assert.Len(t, exec.ChangeSet, 1)
	assert.True(t, pub.saw("execution_started"))
	assert.True(t, pub.saw("execution_completed"))

	after, err := store.Get(context.Background(), "r1")
	require.NoError(t, err)
	assert.True(t, after.HasTag("b"))

	assert.Empty(t, ex.ActiveExecutions())
	history := ex.ExecutionHistory()
	require.Len(t, history, 1)
	assert.Equal(t, exec.ID, history[0].ID)
}

func TestExecuteRejectsUnapproved(t *testing.T) {
	store := memory.NewInMemoryStore()
	s := sculptor.New(store, nil, 50)
	ex := New(Config{MaxConcurrent: 1}, s, nil)

	proposal := newMemoryProposal(t, sculptor.Intent{})
	_, err := ex.Execute(context.Background(), proposal, forge.EvaluationResult{Approved: false})

	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrNotApproved)
}

func TestExecuteFailureRunsRollbackPlan(t *testing.T) {
	store := memory.NewInMemoryStore()
	s := sculptor.New(store, nil, 50)
	ex := New(Config{MaxConcurrent: 1}, s, nil)

	proposal := newMemoryProposal(t, sculptor.Intent{
		Operation: forge.OpRelabel,
		TargetIDs: []string{"missing"},
		AgentID:   "agent-1",
		Params:    sculptor.RelabelParams{NewTags: []string{"b"}},
	})
	proposal.RollbackPlan = forge.RollbackPlan{Strategy: forge.RollbackRevert, Steps: []string{"restore snapshot"}}

	exec, err := ex.Execute(context.Background(), proposal, approvedEvaluation())
	require.Error(t, err)
	assert.Equal(t, forge.ExecutionRolledBack, exec.Status)
	require.NotNil(t, exec.RollbackAttempt)
	assert.True(t, exec.RollbackAttempt.Succeeded)
}

func TestExecuteConcurrencyLimitReached(t *testing.T) {
	store := memory.NewInMemoryStore()
	s := sculptor.New(store, nil, 50)
	ex := New(Config{MaxConcurrent: 1}, s, nil)

	ex.sem <- struct{}{}
	defer func() { <-ex.sem }()

	proposal := newMemoryProposal(t, sculptor.Intent{})
	_, err := ex.Execute(context.Background(), proposal, approvedEvaluation())

	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrConcurrencyLimitReached)
}

func TestExecutionHistoryEvictsOldest(t *testing.T) {
	r1 := memory.NewRecord("r1", "hello", nil, "agent-1")
	store := memory.NewInMemoryStore()
	require.NoError(t, store.Put(context.Background(), r1))
	s := sculptor.New(store, nil, 50)
	ex := New(Config{MaxConcurrent: 1, MaxHistory: 2}, s, nil)

	for i := 0; i < 3; i++ {
		proposal := newMemoryProposal(t, sculptor.Intent{
			Operation: forge.OpPreserve,
			TargetIDs: []string{"r1"},
			AgentID:   "agent-1",
		})
		_, err := ex.Execute(context.Background(), proposal, approvedEvaluation())
		require.NoError(t, err)
	}

	assert.Len(t, ex.ExecutionHistory(), 2)
}

func TestRecordingStubApplierForNonMemoryTarget(t *testing.T) {
	store := memory.NewInMemoryStore()
	s := sculptor.New(store, nil, 50)
	ex := New(Config{MaxConcurrent: 1}, s, nil)

	proposal := &forge.BlueprintProposal{
		ID:     "prop-agent",
		Target: forge.TargetAgent,
		Spec:   forge.Specification{Path: "agent/x", Data: map[string]interface{}{"k": "v"}},
	}

	exec, err := ex.Execute(context.Background(), proposal, approvedEvaluation())
	require.NoError(t, err)
	assert.Equal(t, forge.ExecutionSuccess, exec.Status)
	require.Len(t, exec.ChangeSet, 1)
	assert.Equal(t, "agent/x", exec.ChangeSet[0].Path)
}
