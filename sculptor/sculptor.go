package sculptor

import (
	"context"
	"fmt"

	"github.com/emberwright/metaforge/core"
	"github.com/emberwright/metaforge/events"
	"github.com/emberwright/metaforge/forge"
	"github.com/emberwright/metaforge/memory"
)

// EventPublisher is the narrow event-bus surface the sculptor needs to
// announce a completed transaction (spec §4.8's "on_consolidate" detector
// trigger, which fires after any successful sculpt, not merges alone).
type EventPublisher interface {
	Publish(name string, payload map[string]interface{})
}

// Sculptor applies one of six typed mutations over a set of memory records
// as a single logical transaction (spec §4.2).
type Sculptor struct {
	store      memory.Store
	hooks      *Registry
	maxTargets int
	logger     core.Logger
	events     EventPublisher
}

// New creates a Sculptor bounded by maxTargets (spec's
// max_memories_per_operation) and wired to hooks and store.
func New(store memory.Store, hooks *Registry, maxTargets int) *Sculptor {
	if hooks == nil {
		hooks = NewRegistry()
	}
	return &Sculptor{
		store:      store,
		hooks:      hooks,
		maxTargets: maxTargets,
		logger:     &core.NoOpLogger{},
	}
}

// SetLogger scopes logging to the "metaforge/sculptor" component.
func (s *Sculptor) SetLogger(logger core.Logger) {
	if logger == nil {
		s.logger = &core.NoOpLogger{}
		return
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		s.logger = cal.WithComponent("metaforge/sculptor")
		return
	}
	s.logger = logger
}

// SetEventPublisher wires the sculptor to announce completed transactions.
// Nil disables announcements (the default).
func (s *Sculptor) SetEventPublisher(pub EventPublisher) {
	s.events = pub
}

// Hooks exposes the registry so callers can register pre/post hooks.
func (s *Sculptor) Hooks() *Registry { return s.hooks }

func (s *Sculptor) validate(intent Intent) error {
	if intent.AgentID == "" {
		return fmt.Errorf("agent id is required: %w", core.ErrInvalidIntent)
	}
	if len(intent.TargetIDs) == 0 {
		return fmt.Errorf("targets are required: %w", core.ErrInvalidIntent)
	}
	if s.maxTargets > 0 && len(intent.TargetIDs) > s.maxTargets {
		return fmt.Errorf("target count %d exceeds max %d: %w", len(intent.TargetIDs), s.maxTargets, core.ErrInvalidIntent)
	}
	if !forge.ValidOperation(intent.Operation) {
		return fmt.Errorf("unsupported operation %q: %w", intent.Operation, core.ErrInvalidIntent)
	}
	return nil
}

// Sculpt runs intent as a logical transaction: it resolves targets, invokes
// pre-hooks, dispatches to the operation-specific applier, rolls back any
// partial mutation on failure, commits on success, and finally invokes
// post-hooks with the outcome.
func (s *Sculptor) Sculpt(ctx context.Context, intent Intent) (*Result, error) {
	if err := s.validate(intent); err != nil {
		return nil, err
	}

	targets := make([]*memory.Record, 0, len(intent.TargetIDs))
	for _, id := range intent.TargetIDs {
		r, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("resolving target %q: %w", id, err)
		}
		targets = append(targets, r)
	}

	if veto, reason := s.hooks.InvokePre(intent); veto {
		result := &Result{Intent: intent, Success: false, Err: fmt.Errorf("%s: %w", reason, core.ErrHookVetoed)}
		s.hooks.InvokePost(result)
		return result, result.Err
	}

	mutated, created, deletedIDs, impact, err := s.dispatch(ctx, targets, intent)
	if err != nil {
		result := &Result{Intent: intent, Success: false, Err: err}
		s.hooks.InvokePost(result)
		return result, err
	}

	before := make(map[string]*memory.Record, len(targets))
	for _, t := range targets {
		before[t.ID] = t
	}

	committed := make([]string, 0, len(mutated)+len(created)+len(deletedIDs))
	rollback := func() {
		for _, id := range committed {
			if b, ok := before[id]; ok {
				_ = s.store.Put(ctx, b)
			} else {
				_ = s.store.Delete(ctx, id)
			}
		}
	}

	for id, rec := range mutated {
		if putErr := s.store.Put(ctx, rec); putErr != nil {
			rollback()
			result := &Result{Intent: intent, Success: false, Err: fmt.Errorf("committing %q: %w", id, putErr)}
			s.hooks.InvokePost(result)
			return result, result.Err
		}
		committed = append(committed, id)
	}
	for _, rec := range created {
		if putErr := s.store.Put(ctx, rec); putErr != nil {
			rollback()
			result := &Result{Intent: intent, Success: false, Err: fmt.Errorf("creating %q: %w", rec.ID, putErr)}
			s.hooks.InvokePost(result)
			return result, result.Err
		}
		committed = append(committed, rec.ID)
	}
	for _, id := range deletedIDs {
		if delErr := s.store.Delete(ctx, id); delErr != nil {
			rollback()
			result := &Result{Intent: intent, Success: false, Err: fmt.Errorf("deleting %q: %w", id, delErr)}
			s.hooks.InvokePost(result)
			return result, result.Err
		}
		committed = append(committed, id)
	}

	affected := make([]string, 0, len(mutated)+len(created)+len(deletedIDs))
	pairs := make([]RecordPair, 0, len(mutated))
	for id, after := range mutated {
		pairs = append(pairs, RecordPair{Before: before[id], After: after})
		affected = append(affected, id)
	}
	for _, rec := range created {
		affected = append(affected, rec.ID)
	}
	affected = append(affected, deletedIDs...)

	result := &Result{
		Intent:      intent,
		Success:     true,
		Modified:    pairs,
		Created:     created,
		DeletedIDs:  deletedIDs,
		AffectedIDs: affected,
		Impact:      impact,
	}
	s.hooks.InvokePost(result)

	if s.events != nil {
		s.events.Publish(events.OnConsolidate, map[string]interface{}{
			"operation":    string(intent.Operation),
			"agent_id":     intent.AgentID,
			"affected_ids": affected,
		})
	}

	return result, nil
}

func (s *Sculptor) dispatch(ctx context.Context, targets []*memory.Record, intent Intent) (map[string]*memory.Record, []*memory.Record, []string, forge.Impact, error) {
	switch intent.Operation {
	case forge.OpRelabel:
		return applyRelabel(targets, intent)
	case forge.OpMerge:
		return applyMerge(targets, intent)
	case forge.OpPrune:
		return applyPrune(targets, intent)
	case forge.OpRelink:
		return applyRelink(targets, intent, func(id string) bool {
			_, err := s.store.Get(ctx, id)
			return err == nil
		})
	case forge.OpExtract:
		return applyExtract(targets, intent)
	case forge.OpPreserve:
		return applyPreserve(targets, intent)
	default:
		return nil, nil, nil, forge.Impact{}, fmt.Errorf("unsupported operation %q: %w", intent.Operation, core.ErrInvalidIntent)
	}
}
