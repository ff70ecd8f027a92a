// Package orchestrator implements the multi-mode execution engine (spec
// §4.5): the public process contract, the exclusively-owned session
// table, dependency-ordered dispatch across the five orchestration modes,
// confidence aggregation, retries, cancellation, and interaction
// recording.
package orchestrator

import (
	"github.com/torqconsole/agentcore/pkg/routing"
)

// ProcessOptions recognized by the core (spec §6 "ProcessOptions").
type ProcessOptions struct {
	DeadlineMs            int64
	ForceMode             *routing.Mode
	ForceAgentID          *string
	CancelOnFirstFailure  bool
	MaxParallelWidth      int
	RetrievalLimit        int
}

// Contribution is one agent's share of an OrchestrationResult.
type Contribution struct {
	AgentID    string
	Capability string
	Response   string
	Confidence float64
	Success    bool
	FailedKind string // empty on success
	LatencyMs  int64
	ToolsUsed  []string
}

// OrchestrationResult is what `process` returns (spec §4.5).
type OrchestrationResult struct {
	InteractionID   string
	Content         string
	Contributions   []Contribution
	ToolsInvoked    []string
	TotalLatencyMs  int64
	Confidence      float64
	Success         bool
	Mode            routing.Mode
}

// PlanNode is one node of a dynamic-mode plan (spec §4.5 "dynamic").
type PlanNode struct {
	AgentID       string
	Action        string
	InputBinding  string
	DependsOn     []string
	Optional      bool
}

// Plan is returned by an orchestration agent for dynamic mode.
type Plan struct {
	Nodes      []PlanNode
	Aggregator string // not read: dynamic-mode confidence is always the unweighted mean of the successful nodes' confidences
}
