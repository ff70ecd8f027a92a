package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/torqconsole/agentcore/pkg/capability"
	"github.com/torqconsole/agentcore/pkg/orcerr"
	"github.com/torqconsole/agentcore/pkg/registry"
	"github.com/torqconsole/agentcore/pkg/tool"
)

// defaultUnregisterGraceWindow is how long Unregister waits for a busy
// agent to go idle before failing with a ConflictError (spec §4.3
// "unregister... fails while the agent is busy, beyond a grace window").
const defaultUnregisterGraceWindow = 5 * time.Second

const unregisterPollInterval = 10 * time.Millisecond

// Registry is the capability-indexed agent directory (spec §4.3): register,
// unregister, instantiate, get, find_by_capability, health_all, grounded on
// the teacher's AgentRegistry (pkg/agent/registry.go) generalized off A2A
// protobuf and layered over the reusable BaseRegistry[T].
type Registry struct {
	base *registry.BaseRegistry[*Entry]

	mu       sync.RWMutex
	byCap    map[capability.Capability]map[string]struct{} // capability -> set of agent_id
	statusMu sync.Mutex

	unregisterGraceWindow time.Duration
}

// RegistryOption configures a Registry at construction time.
type RegistryOption func(*Registry)

// WithUnregisterGraceWindow overrides how long Unregister tolerates a busy
// agent before failing with ConflictError. Mainly useful to tests, which
// would otherwise wait out the production default.
func WithUnregisterGraceWindow(d time.Duration) RegistryOption {
	return func(r *Registry) { r.unregisterGraceWindow = d }
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		base:                  registry.NewBaseRegistry[*Entry](),
		byCap:                 make(map[capability.Capability]map[string]struct{}),
		unregisterGraceWindow: defaultUnregisterGraceWindow,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds an agent, rejecting duplicate ids, unresolved
// dependencies, and descriptors whose dependencies would introduce a
// cycle (spec §4.3 "register").
func (r *Registry) Register(a Agent) error {
	desc := a.Describe()
	if desc.AgentID == "" {
		return orcerr.Validation("AgentRegistry", "agent descriptor must have a non-empty agent_id")
	}
	for _, c := range desc.Capabilities.Slice() {
		if !capability.Valid(c) {
			return orcerr.Validation("AgentRegistry", "agent %q declares unknown capability %q", desc.AgentID, c)
		}
	}

	entry := &Entry{Agent: a, Descriptor: desc, LastHealthy: time.Time{}}
	if entry.Descriptor.Status == "" {
		entry.Descriptor.Status = StatusUninitialized
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, dep := range desc.Dependencies {
		if _, ok := r.base.Get(dep); !ok {
			return orcerr.Validation("AgentRegistry",
				"agent %q declares dependency on unresolved agent_id %q", desc.AgentID, dep)
		}
	}

	if err := r.detectCycle(desc); err != nil {
		return err
	}

	if err := r.base.Register(desc.AgentID, entry); err != nil {
		return orcerr.Conflict("AgentRegistry", "%v", err)
	}
	for _, c := range desc.Capabilities.Slice() {
		if r.byCap[c] == nil {
			r.byCap[c] = make(map[string]struct{})
		}
		r.byCap[c][desc.AgentID] = struct{}{}
	}
	return nil
}

// detectCycle performs a DFS over the dependency graph of declared
// Dependencies (direct agent_id edges) to ensure adding this descriptor
// keeps the graph acyclic. Must be called with r.mu held.
func (r *Registry) detectCycle(newDesc Descriptor) error {
	graph := make(map[string][]string) // agent_id -> agent_ids it depends on
	for _, item := range r.base.List() {
		graph[item.Descriptor.AgentID] = item.Descriptor.Dependencies
	}
	graph[newDesc.AgentID] = newDesc.Dependencies

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)
	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for _, dep := range graph[id] {
			switch color[dep] {
			case gray:
				return &routingCycleError{agentID: id}
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}

	for id := range graph {
		if color[id] == white {
			if err := visit(id); err != nil {
				return orcerr.Wrap(orcerr.KindValidation, "AgentRegistry",
					"registering agent would create a dependency cycle", err)
			}
		}
	}
	return nil
}

type routingCycleError struct{ agentID string }

func (e *routingCycleError) Error() string { return "dependency cycle detected at agent " + e.agentID }

// Unregister shuts an agent down then removes it from the directory (spec
// §4.3 "unregister: shutdown then remove"). An agent still busy is given a
// grace window to finish; if it's still busy once the window elapses,
// Unregister fails with a ConflictError instead of yanking live work.
func (r *Registry) Unregister(ctx context.Context, agentID string) error {
	entry, ok := r.base.Get(agentID)
	if !ok {
		return orcerr.Validation("AgentRegistry", "agent %q not registered", agentID)
	}

	deadline := time.Now().Add(r.unregisterGraceWindow)
	for {
		r.statusMu.Lock()
		status := entry.Descriptor.Status
		r.statusMu.Unlock()
		if status != StatusBusy {
			break
		}
		if time.Now().After(deadline) {
			return orcerr.Conflict("AgentRegistry",
				"agent %q is still busy after the %s unregister grace window", agentID, r.unregisterGraceWindow)
		}
		select {
		case <-ctx.Done():
			return orcerr.Cancelled("AgentRegistry", "unregister of %q cancelled while waiting on busy agent", agentID)
		case <-time.After(unregisterPollInterval):
		}
	}

	if err := entry.Agent.Shutdown(ctx); err != nil {
		return orcerr.Wrap(orcerr.KindInternalInvariant, "AgentRegistry",
			fmt.Sprintf("agent %q shutdown failed", agentID), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range entry.Descriptor.Capabilities.Slice() {
		delete(r.byCap[c], agentID)
	}
	return r.base.Remove(agentID)
}

// Instantiate lazily initializes a registered-but-uninitialized agent (spec
// §4.3 "instantiate: lazy initialization; transitions uninitialized ->
// ready... runs the agent's constructor and a self-check; on failure the
// status becomes failed"). If the descriptor carries a Constructor thunk it
// is invoked to obtain the live Agent handle; the resulting handle's Health
// probe is the self-check. Failure is surfaced to the caller, not swallowed.
func (r *Registry) Instantiate(ctx context.Context, agentID string) error {
	entry, ok := r.base.Get(agentID)
	if !ok {
		return orcerr.Validation("AgentRegistry", "agent %q not registered", agentID)
	}
	if entry.Descriptor.Status != StatusUninitialized {
		return orcerr.Conflict("AgentRegistry",
			"agent %q is not uninitialized (status %s)", agentID, entry.Descriptor.Status)
	}

	if entry.Descriptor.Constructor != nil {
		built, err := entry.Descriptor.Constructor(ctx)
		if err != nil {
			_ = r.Transition(agentID, StatusFailed)
			return orcerr.Wrap(orcerr.KindInternalInvariant, "AgentRegistry",
				fmt.Sprintf("agent %q constructor failed", agentID), err)
		}
		entry.Agent = built
	}

	report := entry.Agent.Health(ctx)
	if report.Status == tool.HealthUnavailable {
		_ = r.Transition(agentID, StatusFailed)
		return orcerr.InternalInvariant("AgentRegistry",
			"agent %q failed its self-check after instantiation", agentID)
	}

	return r.Transition(agentID, StatusReady)
}

// StartHealthLoop runs HealthAll on a ticker until ctx is cancelled,
// demoting unresponsive agents to degraded in the background rather than
// only when something happens to call HealthAll directly.
func (r *Registry) StartHealthLoop(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.HealthAll(ctx)
			}
		}
	}()
}

// Get returns the registered entry for agentID.
func (r *Registry) Get(agentID string) (*Entry, bool) {
	return r.base.Get(agentID)
}

// FindByCapability returns every registered agent declaring c, in
// registration order being unspecified (map-backed index); callers that
// need a deterministic tie-break should sort by a secondary key (spec
// §4.4 "fitness" does this).
func (r *Registry) FindByCapability(c capability.Capability) []*Entry {
	r.mu.RLock()
	ids := make([]string, 0, len(r.byCap[c]))
	for id := range r.byCap[c] {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	out := make([]*Entry, 0, len(ids))
	for _, id := range ids {
		if e, ok := r.base.Get(id); ok {
			out = append(out, e)
		}
	}
	return out
}

// List returns every registered entry.
func (r *Registry) List() []*Entry {
	return r.base.List()
}

// Count returns the number of registered agents.
func (r *Registry) Count() int { return r.base.Count() }

// Transition moves an agent to a new lifecycle status, rejecting illegal
// edges (spec §4.3).
func (r *Registry) Transition(agentID string, to Status) error {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()

	entry, ok := r.base.Get(agentID)
	if !ok {
		return orcerr.Validation("AgentRegistry", "agent %q not registered", agentID)
	}
	if !entry.Descriptor.CanTransition(to) {
		return orcerr.Validation("AgentRegistry", "illegal lifecycle transition for agent %q: %s -> %s",
			agentID, entry.Descriptor.Status, to)
	}
	entry.Descriptor.Status = to
	if to == StatusReady {
		entry.LastHealthy = time.Now()
	}
	return nil
}

// HealthAll probes every registered agent's health, transitioning agents
// whose probe reports unavailable into the degraded state.
func (r *Registry) HealthAll(ctx context.Context) map[string]bool {
	entries := r.base.List()
	out := make(map[string]bool, len(entries))
	for _, e := range entries {
		report := e.Agent.Health(ctx)
		healthy := report.Status != "unavailable"
		out[e.Descriptor.AgentID] = healthy
		if !healthy {
			_ = r.Transition(e.Descriptor.AgentID, StatusDegraded)
		}
	}
	return out
}
