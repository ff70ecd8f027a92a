// Package routing defines the RoutingDecision shape produced by the Query
// Router and consumed by the Orchestrator and Memory Fabric (spec §3
// "Routing decision"). It is a separate package from router so that the
// Memory Fabric can reference a decision inside a recorded Interaction
// without importing the router package that depends on the Fabric.
package routing

import "github.com/torqconsole/agentcore/pkg/capability"

// Mode is one of the five fixed orchestration primitives (spec §3, §4.5).
type Mode string

const (
	ModeSingle     Mode = "single"
	ModeSequential Mode = "sequential"
	ModeParallel   Mode = "parallel"
	ModePipeline   Mode = "pipeline"
	ModeDynamic    Mode = "dynamic"
)

// Assignment binds one selected agent to one capability with a weight used
// for parallel fusion and tie-break ordering (spec §3 "Routing decision").
type Assignment struct {
	AgentID      string
	Capability   capability.Capability
	Weight       float64
}

// Decision is the immutable output of one routing pass (spec §3).
//
// Invariant: every AgentID referenced exists in the Registry and carries
// the assigned Capability; Weights sum to 1.0 when Mode == ModeParallel.
type Decision struct {
	Assignments []Assignment
	Mode        Mode
	Confidence  float64
}

// FailureReason enumerates why routing could not produce a Decision.
type FailureReason string

const (
	ReasonNoCapableAgent FailureReason = "no_capable_agent"
	ReasonCyclicPlan     FailureReason = "cyclic_plan"
)

// Failure is returned instead of a Decision when routing cannot proceed
// (spec §4.4 "RoutingFailure").
type Failure struct {
	Reason     FailureReason
	MissingCap capability.Capability
}

func (f *Failure) Error() string {
	if f.MissingCap != "" {
		return "routing failure: " + string(f.Reason) + " (" + string(f.MissingCap) + ")"
	}
	return "routing failure: " + string(f.Reason)
}
