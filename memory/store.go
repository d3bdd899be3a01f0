package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/emberwright/metaforge/core"
	"github.com/emberwright/metaforge/events"
)

// Predicate filters records during a Query.
type Predicate func(*Record) bool

// Store is the contract the forging pipeline consumes: typed CRUD plus a
// predicate query, scoped by owning agent. Implementations external to this
// module are free to back it with any durable storage; InMemoryStore below
// is the reference implementation used by tests and local development.
type Store interface {
	Get(ctx context.Context, id string) (*Record, error)
	Query(ctx context.Context, agentID string, pred Predicate) ([]*Record, error)
	Put(ctx context.Context, record *Record) error
	Delete(ctx context.Context, id string) error
}

// EventPublisher is the narrow event-bus surface the store needs to
// announce lifecycle events the Reflexive Bridge observes (spec §4.8's
// "on_store"/"on_query" detector triggers).
type EventPublisher interface {
	Publish(name string, payload map[string]interface{})
}

// InMemoryStore is a mutex-protected, process-local Store implementation.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	logger  core.Logger
	events  EventPublisher
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[string]*Record),
		logger:  &core.NoOpLogger{},
	}
}

// SetLogger configures the logger for this store, scoping it to the
// "metaforge/memory" component when the logger supports it.
func (s *InMemoryStore) SetLogger(logger core.Logger) {
	if logger == nil {
		s.logger = &core.NoOpLogger{}
		return
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		s.logger = cal.WithComponent("metaforge/memory")
		return
	}
	s.logger = logger
}

// SetEventPublisher wires the store to announce lifecycle events. Nil
// disables announcements (the default).
func (s *InMemoryStore) SetEventPublisher(pub EventPublisher) {
	s.events = pub
}

func (s *InMemoryStore) publish(name string, payload map[string]interface{}) {
	if s.events != nil {
		s.events.Publish(name, payload)
	}
}

// Get retrieves a record by id. Returns a clone so callers cannot mutate
// store-owned state without going through Put.
func (s *InMemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		s.logger.Debug("record not found", map[string]interface{}{"id": id})
		return nil, fmt.Errorf("memory record %q: %w", id, core.ErrNotFound)
	}
	return r.Clone(), nil
}

// Query returns records owned by agentID matching pred, in id order for
// determinism (the contract itself leaves ordering implementation-defined).
func (s *InMemoryStore) Query(ctx context.Context, agentID string, pred Predicate) ([]*Record, error) {
	s.mu.RLock()
	var matches []*Record
	for _, r := range s.records {
		if agentID != "" && r.OwnerID != agentID {
			continue
		}
		if pred != nil && !pred(r) {
			continue
		}
		matches = append(matches, r.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })

	if registry := core.GetGlobalMetricsRegistry(); registry != nil {
		registry.Counter("memory.store.query", "result_count", fmt.Sprintf("%d", len(matches)))
	}

	s.publish(events.OnQuery, map[string]interface{}{"agent_id": agentID, "result_ids": recordIDs(matches)})

	return matches, nil
}

func recordIDs(records []*Record) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return ids
}

// Put inserts or fully replaces a record by id.
func (s *InMemoryStore) Put(ctx context.Context, record *Record) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("put requires a record with a non-empty id: %w", core.ErrInvalidConfiguration)
	}

	s.mu.Lock()
	s.records[record.ID] = record.Clone()
	size := len(s.records)
	s.mu.Unlock()

	s.logger.Debug("record stored", map[string]interface{}{
		"id":        record.ID,
		"tag_count": len(record.Tags),
	})

	if registry := core.GetGlobalMetricsRegistry(); registry != nil {
		registry.Counter("memory.store.put")
		registry.Gauge("memory.store.size", float64(size))
	}

	// Published after the lock is released: subscribers such as the bridge's
	// detectors read the store from inside their handlers.
	s.publish(events.OnStore, map[string]interface{}{
		"id":       record.ID,
		"owner_id": record.OwnerID,
		"tags":     record.TagSlice(),
	})

	return nil
}

// Delete removes a record by id. Fails with NotFound if absent.
func (s *InMemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return fmt.Errorf("memory record %q: %w", id, core.ErrNotFound)
	}
	delete(s.records, id)

	if registry := core.GetGlobalMetricsRegistry(); registry != nil {
		registry.Counter("memory.store.delete")
		registry.Gauge("memory.store.size", float64(len(s.records)))
	}

	return nil
}
