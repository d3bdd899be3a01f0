// Package events implements the pipeline's event sink: a subscribe surface
// over stable, component-defined event names (spec §6's "Event sink"
// collaborator contract). It replaces an emitter-object pattern with a single
// typed envelope published through a bus, keeping event plumbing separate
// from control flow.
package events

import (
	"sync"
	"time"
)

// Event is the payload published on the bus. Payloads carry at minimum the
// relevant proposal, execution, or session id plus a timestamp, per spec §6.
type Event struct {
	Name      string
	Payload   map[string]interface{}
	Timestamp time.Time
}

// Well-known event names, stable strings per spec §4.6/§4.8.
const (
	ProposalQueued          = "proposal_queued"
	ProposalEvaluated       = "proposal_evaluated"
	ProposalRejected        = "proposal_rejected"
	ProposalDeferred        = "proposal_deferred"
	ProposalCancelled       = "proposal_cancelled"
	SpecialApprovalRequired = "special_approval_required"
	ProcessingStarted       = "processing_started"
	ProcessingCompleted     = "processing_completed"
	ConfigUpdated           = "config_updated"
	ExecutionStarted        = "execution_started"
	ExecutionCompleted      = "execution_completed"
	RollbackSucceeded       = "rollback_succeeded"
	RollbackFailed          = "rollback_failed"

	// Memory-store lifecycle events the Reflexive Bridge subscribes to
	// (spec §4.8).
	OnStore       = "on_store"
	OnQuery       = "on_query"
	OnConsolidate = "on_consolidate"
)

// Handler receives published events. Handlers run synchronously with respect
// to Publish so causal ordering between events for the same proposal id is
// preserved (spec §5: "events for a given proposal id are emitted in causal
// order").
type Handler func(Event)

// Bus is the subscribe surface consumed by every domain component.
type Bus interface {
	Publish(e Event)
	Subscribe(name string, h Handler) (unsubscribe func())
}

// InProcessBus is a single-process, synchronous-dispatch Bus implementation.
type InProcessBus struct {
	mu       sync.Mutex
	handlers map[string][]Handler
}

// NewBus creates an empty in-process event bus.
func NewBus() *InProcessBus {
	return &InProcessBus{handlers: make(map[string][]Handler)}
}

// Publish dispatches e to every handler registered for e.Name, in
// registration order. Publish stamps Timestamp if the caller left it zero.
func (b *InProcessBus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.Lock()
	handlers := make([]Handler, len(b.handlers[e.Name]))
	copy(handlers, b.handlers[e.Name])
	b.mu.Unlock()

	for _, h := range handlers {
		if h != nil {
			h(e)
		}
	}
}

// Subscribe registers h for events named name and returns a function that
// removes the registration.
func (b *InProcessBus) Subscribe(name string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[name] = append(b.handlers[name], h)
	idx := len(b.handlers[name]) - 1

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.handlers[name]
		if idx < len(list) {
			list[idx] = nil // tombstone, preserves other subscribers' indices
		}
	}
}

// Sink adapts a Bus to the narrow (name, payload) publishing shape most
// domain components depend on, so they need not import Event directly.
type Sink struct {
	bus Bus
}

// NewSink wraps bus in a Sink.
func NewSink(bus Bus) *Sink {
	return &Sink{bus: bus}
}

// Publish stamps a new Event from name and payload and publishes it.
func (s *Sink) Publish(name string, payload map[string]interface{}) {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.Publish(Event{Name: name, Payload: payload})
}
