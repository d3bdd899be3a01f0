// Package bridge implements the Reflexive Bridge: it watches memory-store
// activity, runs opportunity detectors over what it sees, and synthesizes
// BlueprintProposals from whatever a detector surfaces (spec §4.8).
package bridge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/emberwright/metaforge/core"
	"github.com/emberwright/metaforge/events"
	"github.com/emberwright/metaforge/forge"
	"github.com/emberwright/metaforge/memory"
	"github.com/emberwright/metaforge/resilience"
	"github.com/emberwright/metaforge/sculptor"
	"github.com/emberwright/metaforge/telemetry"
)

// Candidate is one detector's opportunity: an operation worth proposing
// over a set of targets, with the reasoning and confidence that produced
// it (spec §4.8).
type Candidate struct {
	Operation  forge.SculptOperation
	TargetIDs  []string
	AgentID    string
	Reasoning  string
	Confidence float64
	Urgency    forge.Urgency
}

// Strategy is the policy the bridge uses to turn a Candidate into a full
// BlueprintProposal (spec §4.8 names three, leaving their output to the
// implementer — see SPEC_FULL.md §5).
type Strategy string

const (
	StrategyConservative Strategy = "conservative"
	StrategyAggressive   Strategy = "aggressive"
	StrategyAdaptive     Strategy = "adaptive"
)

type strategyProfile struct {
	Priority     float64
	Risk         forge.RiskLevel
	RollbackPlan forge.RollbackPlan
}

// profiles gives each strategy a fully-specified priority/risk/rollback
// default per operation. Conservative favors low priority and a revert
// plan; aggressive raises priority and accepts thinner rollback coverage;
// adaptive scales priority with the detector's own confidence at proposal
// synthesis time (see synthesize).
var profiles = map[Strategy]map[forge.SculptOperation]strategyProfile{
	StrategyConservative: {
		forge.OpMerge:    {Priority: 0.3, Risk: forge.RiskModerate, RollbackPlan: forge.RollbackPlan{Strategy: forge.RollbackRevert, Steps: []string{"restore originals", "delete merged record"}}},
		forge.OpPrune:     {Priority: 0.2, Risk: forge.RiskModerate, RollbackPlan: forge.RollbackPlan{Strategy: forge.RollbackRevert, Steps: []string{"restore pruned records from checkpoint"}}},
		forge.OpPreserve:  {Priority: 0.4, Risk: forge.RiskSafe, RollbackPlan: forge.RollbackPlan{Strategy: forge.RollbackRevert, Steps: []string{"clear protection flag"}}},
		forge.OpRelink:    {Priority: 0.3, Risk: forge.RiskSafe, RollbackPlan: forge.RollbackPlan{Strategy: forge.RollbackRevert, Steps: []string{"remove added links"}}},
		forge.OpRelabel:   {Priority: 0.3, Risk: forge.RiskSafe, RollbackPlan: forge.RollbackPlan{Strategy: forge.RollbackRevert, Steps: []string{"restore previous tags"}}},
	},
	StrategyAggressive: {
		forge.OpMerge:    {Priority: 0.7, Risk: forge.RiskModerate, RollbackPlan: forge.RollbackPlan{Strategy: forge.RollbackCompensate, Steps: []string{"delete merged record"}}},
		forge.OpPrune:    {Priority: 0.8, Risk: forge.RiskHigh, RollbackPlan: forge.RollbackPlan{Strategy: forge.RollbackCompensate, Steps: []string{"recreate from last known content"}}},
		forge.OpPreserve: {Priority: 0.5, Risk: forge.RiskSafe, RollbackPlan: forge.RollbackPlan{Strategy: forge.RollbackRevert, Steps: []string{"clear protection flag"}}},
		forge.OpRelink:   {Priority: 0.6, Risk: forge.RiskSafe, RollbackPlan: forge.RollbackPlan{Strategy: forge.RollbackRevert, Steps: []string{"remove added links"}}},
		forge.OpRelabel:  {Priority: 0.6, Risk: forge.RiskSafe, RollbackPlan: forge.RollbackPlan{Strategy: forge.RollbackRevert, Steps: []string{"restore previous tags"}}},
	},
	StrategyAdaptive: {
		forge.OpMerge:    {Priority: 0.5, Risk: forge.RiskModerate, RollbackPlan: forge.RollbackPlan{Strategy: forge.RollbackAdapt, Steps: []string{"restore originals", "delete merged record"}}},
		forge.OpPrune:    {Priority: 0.5, Risk: forge.RiskModerate, RollbackPlan: forge.RollbackPlan{Strategy: forge.RollbackAdapt, Steps: []string{"restore pruned records from checkpoint"}}},
		forge.OpPreserve: {Priority: 0.5, Risk: forge.RiskSafe, RollbackPlan: forge.RollbackPlan{Strategy: forge.RollbackAdapt, Steps: []string{"clear protection flag"}}},
		forge.OpRelink:   {Priority: 0.5, Risk: forge.RiskSafe, RollbackPlan: forge.RollbackPlan{Strategy: forge.RollbackAdapt, Steps: []string{"remove added links"}}},
		forge.OpRelabel:  {Priority: 0.5, Risk: forge.RiskSafe, RollbackPlan: forge.RollbackPlan{Strategy: forge.RollbackAdapt, Steps: []string{"restore previous tags"}}},
	},
}

// ProposalSubmitter is the slice of engine.Engine the bridge depends on.
type ProposalSubmitter interface {
	Submit(proposal *forge.BlueprintProposal) (string, error)
}

// Config bundles the bridge's tunables, mirroring the relevant slices of
// Config.Sculptor and Config.Bridge. AutoApprovalRiskThreshold has no
// core.Config counterpart, and the bridge does not read it: every
// synthesized proposal, whatever its risk, is submitted to the engine and
// follows the engine's ordinary routing, governance included.
type Config struct {
	Strategy                  Strategy
	MergeThreshold            float64
	PruneAgeThreshold         time.Duration
	ProposalCooldownPeriod    time.Duration
	AutoApprovalRiskThreshold forge.RiskLevel
	PreserveQueryFrequency    int
}

// Bridge watches store activity and synthesizes proposals.
type Bridge struct {
	store     memory.Store
	submitter ProposalSubmitter
	cfg       Config
	logger    core.Logger

	mu            sync.Mutex
	lastProposed  map[string]time.Time
	queryHitCount map[string]int
	inQuery       bool
	unsubscribe   []func()
}

// New creates a Bridge. Call Subscribe to start observing bus activity.
func New(store memory.Store, submitter ProposalSubmitter, cfg Config) *Bridge {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyAdaptive
	}
	if cfg.PreserveQueryFrequency < 1 {
		cfg.PreserveQueryFrequency = 3
	}
	return &Bridge{
		store:         store,
		submitter:     submitter,
		cfg:           cfg,
		logger:        &core.NoOpLogger{},
		lastProposed:  make(map[string]time.Time),
		queryHitCount: make(map[string]int),
	}
}

// SetLogger scopes logging to the "metaforge/bridge" component.
func (b *Bridge) SetLogger(logger core.Logger) {
	if logger == nil {
		b.logger = &core.NoOpLogger{}
		return
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		b.logger = cal.WithComponent("metaforge/bridge")
		return
	}
	b.logger = logger
}

// Subscribe registers the bridge's detectors against bus. Call Close to
// unsubscribe.
func (b *Bridge) Subscribe(bus events.Bus) {
	b.unsubscribe = append(b.unsubscribe,
		bus.Subscribe(events.OnStore, b.handleOnStore),
		bus.Subscribe(events.OnQuery, b.handleOnQuery),
		bus.Subscribe(events.OnConsolidate, b.handleOnConsolidate),
	)
}

// Close unsubscribes the bridge from every bus it was wired to.
func (b *Bridge) Close() {
	for _, unsub := range b.unsubscribe {
		unsub()
	}
	b.unsubscribe = nil
}

func (b *Bridge) handleOnStore(ev events.Event) {
	candidates := append(b.detectMerge(ev), b.detectRelink(ev)...)
	b.synthesizeAndSubmit(candidates)
}

// handleOnQuery ignores on_query events raised while it is already running:
// its detectors query the store, and every store query raises on_query.
func (b *Bridge) handleOnQuery(ev events.Event) {
	b.mu.Lock()
	if b.inQuery {
		b.mu.Unlock()
		return
	}
	b.inQuery = true
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.inQuery = false
		b.mu.Unlock()
	}()

	candidates := append(b.detectPrune(ev), b.detectPreserve(ev)...)
	b.synthesizeAndSubmit(candidates)
}

func (b *Bridge) handleOnConsolidate(ev events.Event) {
	candidates := append(b.detectPrune(ev), b.detectRelabel(ev)...)
	b.synthesizeAndSubmit(candidates)
}

// detectMerge proposes merging the new record into any other record owned
// by the same agent that shares at least MergeThreshold of its tags.
func (b *Bridge) detectMerge(ev events.Event) []Candidate {
	id, _ := ev.Payload["id"].(string)
	ownerID, _ := ev.Payload["owner_id"].(string)
	tags, _ := ev.Payload["tags"].([]string)
	if id == "" || ownerID == "" || len(tags) == 0 {
		return nil
	}

	others, err := b.store.Query(context.Background(), ownerID, func(r *memory.Record) bool { return r.ID != id })
	if err != nil {
		return nil
	}

	var out []Candidate
	for _, other := range others {
		overlap := tagOverlap(tags, other.TagSlice())
		if overlap >= b.cfg.MergeThreshold {
			out = append(out, Candidate{
				Operation:  forge.OpMerge,
				TargetIDs:  []string{id, other.ID},
				AgentID:    ownerID,
				Reasoning:  "new record shares enough tags with an existing record to warrant a merge",
				Confidence: overlap,
				Urgency:    forge.UrgencyLow,
			})
		}
	}
	return out
}

// detectRelink proposes linking records whose content overlaps with the
// new record's, without meeting the merge bar.
func (b *Bridge) detectRelink(ev events.Event) []Candidate {
	id, _ := ev.Payload["id"].(string)
	ownerID, _ := ev.Payload["owner_id"].(string)
	if id == "" || ownerID == "" {
		return nil
	}

	self, err := b.store.Get(context.Background(), id)
	if err != nil {
		return nil
	}
	selfText, ok := self.Content.(string)
	if !ok {
		return nil
	}

	others, err := b.store.Query(context.Background(), ownerID, func(r *memory.Record) bool { return r.ID != id })
	if err != nil {
		return nil
	}

	var out []Candidate
	for _, other := range others {
		otherText, ok := other.Content.(string)
		if !ok {
			continue
		}
		overlap := wordOverlap(selfText, otherText)
		if overlap > 0 && overlap < b.cfg.MergeThreshold {
			out = append(out, Candidate{
				Operation:  forge.OpRelink,
				TargetIDs:  []string{id, other.ID},
				AgentID:    ownerID,
				Reasoning:  "new record's content overlaps with an existing record without meeting the merge bar",
				Confidence: overlap,
				Urgency:    forge.UrgencyLow,
			})
		}
	}
	return out
}

// detectPrune proposes pruning records untouched for at least
// PruneAgeThreshold that are not protected.
func (b *Bridge) detectPrune(ev events.Event) []Candidate {
	agentID, _ := ev.Payload["agent_id"].(string)
	if agentID == "" {
		return nil
	}

	now := time.Now()
	records, err := b.store.Query(context.Background(), agentID, func(r *memory.Record) bool {
		return !r.IsProtected(now) && now.Sub(r.Timestamp) >= b.cfg.PruneAgeThreshold
	})
	if err != nil || len(records) == 0 {
		return nil
	}

	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	return []Candidate{{
		Operation:  forge.OpPrune,
		TargetIDs:  ids,
		AgentID:    agentID,
		Reasoning:  "records untouched past the prune age threshold and not under protection",
		Confidence: 0.6,
		Urgency:    forge.UrgencyLow,
	}}
}

// detectPreserve proposes protecting records returned often enough by
// high-signal queries to be worth keeping around.
func (b *Bridge) detectPreserve(ev events.Event) []Candidate {
	agentID, _ := ev.Payload["agent_id"].(string)
	resultIDs, _ := ev.Payload["result_ids"].([]string)
	if agentID == "" || len(resultIDs) == 0 {
		return nil
	}

	b.mu.Lock()
	var hot []string
	for _, id := range resultIDs {
		b.queryHitCount[id]++
		if b.queryHitCount[id] >= b.cfg.PreserveQueryFrequency {
			hot = append(hot, id)
		}
	}
	b.mu.Unlock()

	if len(hot) == 0 {
		return nil
	}
	return []Candidate{{
		Operation:  forge.OpPreserve,
		TargetIDs:  hot,
		AgentID:    agentID,
		Reasoning:  "records returned repeatedly by high-signal queries",
		Confidence: 0.5,
		Urgency:    forge.UrgencyLow,
	}}
}

// detectRelabel proposes relabeling recently merged records that lack
// descriptive tags.
func (b *Bridge) detectRelabel(ev events.Event) []Candidate {
	operation, _ := ev.Payload["operation"].(string)
	if operation != string(forge.OpMerge) {
		return nil
	}
	agentID, _ := ev.Payload["agent_id"].(string)
	affected, _ := ev.Payload["affected_ids"].([]string)
	if agentID == "" || len(affected) == 0 {
		return nil
	}

	var sparse []string
	for _, id := range affected {
		r, err := b.store.Get(context.Background(), id)
		if err != nil {
			continue
		}
		if len(r.TagSlice()) < 2 {
			sparse = append(sparse, id)
		}
	}
	if len(sparse) == 0 {
		return nil
	}
	return []Candidate{{
		Operation:  forge.OpRelabel,
		TargetIDs:  sparse,
		AgentID:    agentID,
		Reasoning:  "recently merged record lacks descriptive tags",
		Confidence: 0.5,
		Urgency:    forge.UrgencyLow,
	}}
}

// submitRetryConfig bounds how hard the bridge pushes a synthesized
// proposal at the engine before giving up on this cycle; the engine-side
// submission path may be briefly unavailable (e.g. mid-governance-session
// bookkeeping) without the candidate being worth discarding outright.
func submitRetryConfig() *resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = 2
	cfg.InitialDelay = 10 * time.Millisecond
	cfg.MaxDelay = 50 * time.Millisecond
	return cfg
}

func (b *Bridge) synthesizeAndSubmit(candidates []Candidate) {
	for _, c := range candidates {
		telemetry.Counter("bridge.candidate_detected", "operation", string(c.Operation))

		if b.onCooldown(c.AgentID) {
			telemetry.Counter("bridge.candidate_suppressed", "operation", string(c.Operation), "reason", "cooldown")
			continue
		}

		proposal := b.synthesize(c)
		err := resilience.RetryWithTelemetry(context.Background(), "bridge.submit_proposal", submitRetryConfig(), func() error {
			_, submitErr := b.submitter.Submit(proposal)
			return submitErr
		})
		if err != nil {
			b.logger.Warn("bridge-synthesized proposal rejected", map[string]interface{}{"agent_id": c.AgentID, "operation": string(c.Operation), "error": err.Error()})
			telemetry.RecordError("bridge.submit_proposal", fmt.Sprintf("%T", err))
			continue
		}

		telemetry.Counter("bridge.proposal_submitted", "operation", string(c.Operation))
		b.markProposed(c.AgentID)
	}
}

func (b *Bridge) onCooldown(agentID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	last, ok := b.lastProposed[agentID]
	if !ok {
		return false
	}
	return time.Since(last) < b.cfg.ProposalCooldownPeriod
}

func (b *Bridge) markProposed(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastProposed[agentID] = time.Now()
}

func (b *Bridge) synthesize(c Candidate) *forge.BlueprintProposal {
	profile := profiles[b.cfg.Strategy][c.Operation]

	priority := profile.Priority
	if b.cfg.Strategy == StrategyAdaptive {
		priority = c.Confidence
	}

	targetIDs := c.TargetIDs
	var params sculptor.IntentParams
	switch c.Operation {
	case forge.OpRelink:
		// relink links TargetIDs[0] to the rest; the detector always
		// orders the new record first.
		if len(c.TargetIDs) > 1 {
			targetIDs = c.TargetIDs[:1]
			params = sculptor.RelinkParams{LinkToIDs: c.TargetIDs[1:]}
		}
	default:
		params = operationParams(c.Operation)
	}

	intent := sculptor.Intent{
		Operation: c.Operation,
		TargetIDs: targetIDs,
		AgentID:   c.AgentID,
		Reason:    c.Reasoning,
		Params:    params,
	}

	return &forge.BlueprintProposal{
		ID:               uuid.New().String(),
		Timestamp:        time.Now(),
		ProposerID:       "reflexive-bridge",
		Target:           forge.TargetMemory,
		ChangeType:       operationChangeType(c.Operation),
		Priority:         priority,
		Risk:             profile.Risk,
		PurposeAlignment: c.Confidence,
		ExpectedImpact:   0,
		RollbackPlan:     profile.RollbackPlan,
		Spec: forge.Specification{
			Path: "memory/" + string(c.Operation),
			Data: map[string]interface{}{
				"intent": intent,
			},
			Metadata: map[string]interface{}{
				"description": c.Reasoning,
				"confidence":  c.Confidence,
				"detector":    string(c.Operation),
			},
		},
	}
}

// operationParams fills in the minimal, default-behaving params for a
// detector-synthesized intent. Detectors never need anything more specific
// than the operation's defaults (spec §4.2's delete_originals/
// respect_protection defaults apply unchanged).
func operationParams(op forge.SculptOperation) sculptor.IntentParams {
	switch op {
	case forge.OpMerge:
		return sculptor.MergeParams{}
	case forge.OpPrune:
		return sculptor.PruneParams{}
	case forge.OpRelabel:
		return sculptor.RelabelParams{NewTags: []string{"reviewed"}}
	case forge.OpPreserve:
		return sculptor.PreserveParams{ProtectionReason: "reflexive bridge preserve detector"}
	default:
		return nil
	}
}

func operationChangeType(op forge.SculptOperation) forge.ChangeType {
	switch op {
	case forge.OpMerge:
		return forge.ChangeMerge
	case forge.OpPrune:
		return forge.ChangeDelete
	default:
		return forge.ChangeModify
	}
}

func tagOverlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(b))
	for _, t := range b {
		set[t] = struct{}{}
	}
	matches := 0
	for _, t := range a {
		if _, ok := set[t]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(a))
}

func wordOverlap(a, b string) float64 {
	wordsA := strings.Fields(strings.ToLower(a))
	wordsB := strings.Fields(strings.ToLower(b))
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(wordsB))
	for _, w := range wordsB {
		set[w] = struct{}{}
	}
	matches := 0
	for _, w := range wordsA {
		if _, ok := set[w]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(wordsA))
}
