// Package tool defines the uniform invocation, result, and health contract
// every capability-bearing tool the core consumes must present (spec §4.1).
package tool

import (
	"context"
	"time"

	"github.com/torqconsole/agentcore/pkg/orcerr"
)

// Health is the tri-state availability a tool reports.
type Health string

const (
	HealthAvailable   Health = "available"
	HealthDegraded    Health = "degraded"
	HealthUnavailable Health = "unavailable"
)

// HealthReport is the result of a tool's health() probe.
type HealthReport struct {
	Status           Health
	LastResponseTime time.Duration
}

// UnifiedResult is the shape every tool invocation returns (spec §4.1).
type UnifiedResult struct {
	Success         bool
	Data            any
	ErrorKind       orcerr.Kind // zero value when Success is true
	ErrorMessage    string
	ExecutionTimeMs int64
	ToolName        string
	Category        string
}

// Failure builds a failed UnifiedResult tagged with an error kind.
func Failure(toolName, category string, kind orcerr.Kind, message string, elapsed time.Duration) UnifiedResult {
	return UnifiedResult{
		Success:         false,
		ErrorKind:       kind,
		ErrorMessage:    message,
		ExecutionTimeMs: elapsed.Milliseconds(),
		ToolName:        toolName,
		Category:        category,
	}
}

// Succeed builds a successful UnifiedResult.
func Succeed(toolName, category string, data any, elapsed time.Duration) UnifiedResult {
	return UnifiedResult{
		Success:         true,
		Data:            data,
		ExecutionTimeMs: elapsed.Milliseconds(),
		ToolName:        toolName,
		Category:        category,
	}
}

// Tool is the uniform surface every capability-bearing tool presents.
// Any value presenting this surface is a tool; there is no separate
// registration type (spec §9 "duck-typed tool objects").
type Tool interface {
	// Name is the tool's unique, namespace-qualifying identifier.
	Name() string

	// Capabilities declares which capability labels this tool implements.
	Capabilities() []string

	// Execute invokes a namespaced action with validated arguments.
	// Unknown actions fail with orcerr.KindValidation (spec §4.1).
	Execute(ctx context.Context, action string, arguments map[string]any) UnifiedResult

	// Initialize prepares the tool for use (opening connections, etc).
	Initialize(ctx context.Context) error

	// Shutdown releases any resources held by the tool.
	Shutdown(ctx context.Context) error

	// Health probes current availability.
	Health(ctx context.Context) HealthReport
}

// ActionSchema declares the JSON Schema for one namespaced action's
// arguments, used to validate arguments before Execute runs (spec §4.1
// "Arguments are validated before invocation").
type ActionSchema struct {
	Action string
	Schema map[string]any // JSON Schema document; nil means no-argument action
}

// SchemaProvider is implemented by tools that want their Execute arguments
// validated against a declared JSON Schema by the Tool Manager before the
// call reaches the tool.
type SchemaProvider interface {
	Tool
	Schemas() []ActionSchema
}

// Privileged is implemented by tools that perform file writes, shell
// execution, or outbound network posts. Such tools must advertise a
// PrivilegePolicy; the core refuses to register one that doesn't
// (spec §4.1 "privileged tools").
type Privileged interface {
	Tool
	Policy() PrivilegePolicy
}

// PrivilegePolicy is a sealed variant evaluated at the call boundary for
// privileged tools (spec §9 "a small sealed PrivilegePolicy variant").
type PrivilegePolicy interface {
	// Allow reports whether action/arguments are permitted to execute.
	Allow(action string, arguments map[string]any) (bool, string)
	isPrivilegePolicy()
}

// AllowlistPolicy permits only the named actions.
type AllowlistPolicy struct {
	Actions map[string]struct{}
}

func NewAllowlistPolicy(actions ...string) AllowlistPolicy {
	set := make(map[string]struct{}, len(actions))
	for _, a := range actions {
		set[a] = struct{}{}
	}
	return AllowlistPolicy{Actions: set}
}

func (p AllowlistPolicy) Allow(action string, _ map[string]any) (bool, string) {
	if _, ok := p.Actions[action]; ok {
		return true, ""
	}
	return false, "action not in allowlist"
}

func (AllowlistPolicy) isPrivilegePolicy() {}

// BlocklistPolicy denies the named actions and allows everything else.
type BlocklistPolicy struct {
	Actions map[string]struct{}
}

func NewBlocklistPolicy(actions ...string) BlocklistPolicy {
	set := make(map[string]struct{}, len(actions))
	for _, a := range actions {
		set[a] = struct{}{}
	}
	return BlocklistPolicy{Actions: set}
}

func (p BlocklistPolicy) Allow(action string, _ map[string]any) (bool, string) {
	if _, ok := p.Actions[action]; ok {
		return false, "action is blocklisted"
	}
	return true, ""
}

func (BlocklistPolicy) isPrivilegePolicy() {}

// CombinedPolicy requires every sub-policy to allow the action (AND logic),
// mirroring the teacher's Predicate Combine composition (pkg/tool/tool.go).
type CombinedPolicy struct {
	Policies []PrivilegePolicy
}

func Combine(policies ...PrivilegePolicy) CombinedPolicy {
	return CombinedPolicy{Policies: policies}
}

func (p CombinedPolicy) Allow(action string, arguments map[string]any) (bool, string) {
	for _, sub := range p.Policies {
		if ok, reason := sub.Allow(action, arguments); !ok {
			return false, reason
		}
	}
	return true, ""
}

func (CombinedPolicy) isPrivilegePolicy() {}
