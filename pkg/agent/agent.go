// Package agent defines the Agent surface and the capability-indexed
// directory the Query Router and Orchestrator consult (spec §4.3).
package agent

import (
	"context"
	"time"

	"github.com/torqconsole/agentcore/pkg/capability"
	"github.com/torqconsole/agentcore/pkg/tool"
)

// Status is a node in the agent lifecycle state machine (spec §4.3
// "uninitialized -> ready -> busy -> ready", with degraded/failed/shutdown
// as terminal or recoverable side states).
type Status string

const (
	StatusUninitialized Status = "uninitialized"
	StatusReady         Status = "ready"
	StatusBusy          Status = "busy"
	StatusDegraded      Status = "degraded"
	StatusFailed        Status = "failed"
	StatusShutdown      Status = "shutdown"
)

// transitions enumerates the legal lifecycle edges; any move not listed
// here is rejected by Registry.Transition (spec §4.3 "illegal transitions
// are rejected").
var transitions = map[Status]map[Status]bool{
	StatusUninitialized: {StatusReady: true, StatusFailed: true},
	StatusReady:         {StatusBusy: true, StatusDegraded: true, StatusFailed: true, StatusShutdown: true},
	StatusBusy:          {StatusReady: true, StatusDegraded: true, StatusFailed: true},
	StatusDegraded:      {StatusReady: true, StatusFailed: true, StatusShutdown: true},
	StatusFailed:        {StatusUninitialized: true, StatusShutdown: true},
	StatusShutdown:      {},
}

// Invocation is one call into an agent's capability surface (spec §4.3
// "invoke(query, context) -> Response").
type Invocation struct {
	Query     string
	SessionID string
	Context   map[string]any
}

// Response is what an agent returns from Invoke.
type Response struct {
	Text       string
	Confidence float64
	ToolsUsed  []string
}

// ToolExecutor lets an agent invoke a tool the Orchestrator's Tool Manager
// owns without importing pkg/tool's Manager directly, keeping the
// dependency edge one-way (orchestrator -> agent): the Orchestrator binds
// this under Invocation.Context["tool_executor"] alongside
// Context["tool_scope"] (the names the agent may call), so an agent that
// wants a tool mid-invocation dispatches through the same privilege-checked,
// panic-safe path the core would use itself (spec §4.5 "Dispatch contract").
type ToolExecutor func(ctx context.Context, name, action string, arguments map[string]any) tool.UnifiedResult

// Agent is the minimal surface every orchestratable unit presents
// (spec §4.3): invoke, health, describe, shutdown.
type Agent interface {
	Invoke(ctx context.Context, in Invocation) (Response, error)
	Health(ctx context.Context) tool.HealthReport
	Describe() Descriptor
	// Shutdown releases whatever the agent holds (connections, goroutines,
	// provider handles) before the registry removes it (spec §4.3
	// "unregister: shutdown then remove").
	Shutdown(ctx context.Context) error
}

// Constructor lazily builds a live Agent handle for a descriptor that was
// registered before it was ready to run (spec §4.3 "the descriptor carries
// a constructor thunk").
type Constructor func(ctx context.Context) (Agent, error)

// Descriptor is an agent's registry-facing metadata (spec §3 "Agent
// record"): identity, declared capabilities, declared agent_id
// dependencies, and free-form config.
type Descriptor struct {
	AgentID      string
	Name         string
	Type         string
	Capabilities capability.Set
	// Dependencies lists other agent_ids this agent requires to be
	// registered and resolvable before it can be dispatched (spec §3
	// "a dependencies list of other agent_ids").
	Dependencies []string
	Config       map[string]any
	Status       Status
	// Constructor builds the agent on demand when Registry.Instantiate is
	// called against a StatusUninitialized entry. Nil when the entry was
	// registered already constructed.
	Constructor Constructor
}

// CanTransition reports whether moving from the descriptor's current
// status to `to` is a legal lifecycle edge.
func (d Descriptor) CanTransition(to Status) bool {
	return transitions[d.Status][to]
}

// Entry pairs a live Agent handle with its descriptor and lifecycle clock,
// matching the teacher's AgentEntry (pkg/agent/registry.go) generalized
// past A2A protobuf to the plain Agent interface.
type Entry struct {
	Agent       Agent
	Descriptor  Descriptor
	LastHealthy time.Time
}
