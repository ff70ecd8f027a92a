package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/torqconsole/agentcore/pkg/orcerr"
)

// Manager is the reference ToolManager port implementation (spec §6
// "ToolManager"): it owns tool handles exclusively, validates arguments
// against declared schemas, enforces privilege policy at the call boundary,
// and never lets a tool panic or raise across the port boundary.
type Manager struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]map[string]*jsonschema.Schema // tool -> action -> compiled schema
	logger  *slog.Logger
}

// NewManager creates an empty Manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		tools:   make(map[string]Tool),
		schemas: make(map[string]map[string]*jsonschema.Schema),
		logger:  logger,
	}
}

// Register adds a tool to the manager, compiling any declared action
// schemas and enforcing the privileged-tool policy requirement.
func (m *Manager) Register(ctx context.Context, t Tool) error {
	if t == nil || t.Name() == "" {
		return orcerr.Validation("ToolManager", "tool must have a non-empty name")
	}

	if priv, ok := t.(Privileged); ok {
		if priv.Policy() == nil {
			return orcerr.Validation("ToolManager",
				"privileged tool %q must advertise a PrivilegePolicy", t.Name())
		}
	}

	compiled := make(map[string]*jsonschema.Schema)
	if sp, ok := t.(SchemaProvider); ok {
		for _, as := range sp.Schemas() {
			if as.Schema == nil {
				continue
			}
			sch, err := compileSchema(as.Action, as.Schema)
			if err != nil {
				return orcerr.Wrap(orcerr.KindValidation, "ToolManager",
					fmt.Sprintf("tool %q action %q has invalid schema", t.Name(), as.Action), err)
			}
			compiled[as.Action] = sch
		}
	}

	if err := t.Initialize(ctx); err != nil {
		return orcerr.Wrap(orcerr.KindTransient, "ToolManager",
			fmt.Sprintf("failed to initialize tool %q", t.Name()), err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tools[t.Name()]; exists {
		return orcerr.Conflict("ToolManager", "tool %q already registered", t.Name())
	}
	m.tools[t.Name()] = t
	m.schemas[t.Name()] = compiled
	return nil
}

func compileSchema(action string, doc map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(toInterfaceMap(doc))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	url := "mem://" + action
	if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

// toInterfaceMap is a narrow adapter so callers can author schemas as
// map[string]any literals without importing the jsonschema decoder.
func toInterfaceMap(doc map[string]any) any { return doc }

// List returns the names of every registered tool.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.tools))
	for name := range m.tools {
		names = append(names, name)
	}
	return names
}

// Execute validates arguments (if a schema is declared), enforces privilege
// policy, and invokes the named tool's action. This method performs exactly
// one attempt, and the tool_executor the Orchestrator binds calls it
// directly, so no tool call is retried, TransientError or not (spec §4.1
// "the core never retries privileged tool invocations automatically").
func (m *Manager) Execute(ctx context.Context, name, action string, arguments map[string]any) UnifiedResult {
	start := time.Now()

	m.mu.RLock()
	t, ok := m.tools[name]
	schemas := m.schemas[name]
	m.mu.RUnlock()

	if !ok {
		return Failure(name, "", orcerr.KindValidation, fmt.Sprintf("tool %q not registered", name), time.Since(start))
	}

	if sch, declared := schemas[action]; declared {
		if err := sch.Validate(arguments); err != nil {
			return Failure(name, "", orcerr.KindValidation,
				fmt.Sprintf("invalid arguments for action %q: %v", action, err), time.Since(start))
		}
	}

	if priv, ok := t.(Privileged); ok {
		if allowed, reason := priv.Policy().Allow(action, arguments); !allowed {
			return Failure(name, "", orcerr.KindValidation,
				fmt.Sprintf("action %q denied by privilege policy: %s", action, reason), time.Since(start))
		}
	}

	result := m.safeExecute(ctx, t, action, arguments)
	if !result.Success {
		m.logger.Debug("tool execution failed", "tool", name, "action", action, "error", result.ErrorMessage)
	}
	return result
}

// safeExecute runs Tool.Execute recovering from panics, so a misbehaving
// tool can never propagate a panic across the port boundary (spec §6
// "never raises across the boundary").
func (m *Manager) safeExecute(ctx context.Context, t Tool, action string, arguments map[string]any) (result UnifiedResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result = Failure(t.Name(), "", orcerr.KindInternalInvariant,
				fmt.Sprintf("tool panicked: %v", r), time.Since(start))
		}
	}()
	return t.Execute(ctx, action, arguments)
}

// HealthAll probes every registered tool's health.
func (m *Manager) HealthAll(ctx context.Context) map[string]HealthReport {
	m.mu.RLock()
	tools := make([]Tool, 0, len(m.tools))
	for _, t := range m.tools {
		tools = append(tools, t)
	}
	m.mu.RUnlock()

	out := make(map[string]HealthReport, len(tools))
	for _, t := range tools {
		out[t.Name()] = t.Health(ctx)
	}
	return out
}

// Shutdown shuts down every registered tool, collecting the first error.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	tools := make([]Tool, 0, len(m.tools))
	for _, t := range m.tools {
		tools = append(tools, t)
	}
	m.tools = make(map[string]Tool)
	m.schemas = make(map[string]map[string]*jsonschema.Schema)
	m.mu.Unlock()

	var firstErr error
	for _, t := range tools {
		if err := t.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
