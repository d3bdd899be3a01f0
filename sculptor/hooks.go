package sculptor

import (
	"sort"
	"sync"

	"github.com/emberwright/metaforge/core"
	"github.com/emberwright/metaforge/forge"
)

// ScopeFilter ANDs on operation set and agent id set; an empty set on either
// axis means wildcard (spec §4.3).
type ScopeFilter struct {
	Operations map[forge.SculptOperation]struct{}
	AgentIDs   map[string]struct{}
}

// Admits reports whether the filter matches the given operation/agent pair.
func (f ScopeFilter) Admits(op forge.SculptOperation, agentID string) bool {
	if len(f.Operations) > 0 {
		if _, ok := f.Operations[op]; !ok {
			return false
		}
	}
	if len(f.AgentIDs) > 0 {
		if _, ok := f.AgentIDs[agentID]; !ok {
			return false
		}
	}
	return true
}

// PreHookFunc runs before mutation. Returning veto=true with a reason aborts
// the whole sculpt with HookVetoed.
type PreHookFunc func(intent Intent) (veto bool, reason string)

// PostHookFunc observes the final (successful or failed) result.
// Errors it returns are logged and swallowed.
type PostHookFunc func(result *Result) error

// HookEntry is one registered hook.
type HookEntry struct {
	ID       string
	Filter   ScopeFilter
	Priority int
	Pre      PreHookFunc
	Post     PostHookFunc
}

type registeredHook struct {
	HookEntry
	order int
}

// Registry owns hook registration, ordering, and pre/post veto semantics.
// Invocation is sequential and single-threaded relative to a single sculpt
// call, as spec §4.3 requires.
type Registry struct {
	mu      sync.Mutex
	hooks   map[string]*registeredHook
	counter int
	logger  core.Logger
}

// NewRegistry creates an empty hook registry.
func NewRegistry() *Registry {
	return &Registry{
		hooks:  make(map[string]*registeredHook),
		logger: &core.NoOpLogger{},
	}
}

// SetLogger scopes logging to the "metaforge/sculptor" component.
func (r *Registry) SetLogger(logger core.Logger) {
	if logger == nil {
		r.logger = &core.NoOpLogger{}
		return
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		r.logger = cal.WithComponent("metaforge/sculptor")
		return
	}
	r.logger = logger
}

// Register adds or replaces (by id) a hook entry.
func (r *Registry) Register(entry HookEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order := r.counter
	if existing, ok := r.hooks[entry.ID]; ok {
		order = existing.order // preserve original registration order on replace
	} else {
		r.counter++
	}

	r.hooks[entry.ID] = &registeredHook{HookEntry: entry, order: order}
}

// Unregister removes a hook by id.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.hooks, id)
}

// ordered returns hooks sorted by priority descending, then registration
// order ascending (stable tie-break).
func (r *Registry) ordered() []*registeredHook {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := make([]*registeredHook, 0, len(r.hooks))
	for _, h := range r.hooks {
		list = append(list, h)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Priority != list[j].Priority {
			return list[i].Priority > list[j].Priority
		}
		return list[i].order < list[j].order
	})
	return list
}

// InvokePre runs every pre-hook whose filter admits intent, in priority
// order. The first veto stops the chain and is returned.
func (r *Registry) InvokePre(intent Intent) (veto bool, reason string) {
	for _, h := range r.ordered() {
		if h.Pre == nil || !h.Filter.Admits(intent.Operation, intent.AgentID) {
			continue
		}
		if v, why := h.Pre(intent); v {
			r.logger.Debug("pre-hook vetoed intent", map[string]interface{}{
				"hook_id":   h.ID,
				"operation": string(intent.Operation),
				"reason":    why,
			})
			return true, why
		}
	}
	return false, ""
}

// InvokePost runs every post-hook whose filter admits the result's intent,
// in priority order. Errors are logged and swallowed, never propagated.
func (r *Registry) InvokePost(result *Result) {
	for _, h := range r.ordered() {
		if h.Post == nil || !h.Filter.Admits(result.Intent.Operation, result.Intent.AgentID) {
			continue
		}
		if err := h.Post(result); err != nil {
			r.logger.Warn("post-hook failed", map[string]interface{}{
				"hook_id": h.ID,
				"error":   err.Error(),
			})
		}
	}
}
