package tool

import (
	"context"
	"fmt"
	"time"

	"github.com/torqconsole/agentcore/pkg/memory"
	"github.com/torqconsole/agentcore/pkg/orcerr"
)

// MemorySearchTool exposes the Memory Fabric's relevance retrieval as a
// tool action, so an agent that needs prior context mid-invocation (beyond
// the memory_context the Orchestrator already injects up front) can query
// it explicitly, grounded on the teacher's SearchTool
// (pkg/tool/searchtool/search.go) generalized from scoped document stores
// to the Fabric's single long-term memory surface.
type MemorySearchTool struct {
	fabric       *memory.Fabric
	defaultLimit int
}

// NewMemorySearchTool wraps fabric behind a "memory_search" tool. defaultLimit
// bounds how many memories the "search" action returns when the caller
// doesn't specify one.
func NewMemorySearchTool(fabric *memory.Fabric, defaultLimit int) *MemorySearchTool {
	if defaultLimit <= 0 {
		defaultLimit = 5
	}
	return &MemorySearchTool{fabric: fabric, defaultLimit: defaultLimit}
}

func (t *MemorySearchTool) Name() string { return "memory_search" }

func (t *MemorySearchTool) Capabilities() []string { return []string{"retrieval"} }

// Schemas declares the "search" action's expected arguments so the Tool
// Manager validates them before Execute runs (spec §4.1 "Arguments are
// validated before invocation").
func (t *MemorySearchTool) Schemas() []ActionSchema {
	return []ActionSchema{{
		Action: "search",
		Schema: map[string]any{
			"type":     "object",
			"required": []any{"query"},
			"properties": map[string]any{
				"query": map[string]any{"type": "string"},
				"limit": map[string]any{"type": "integer", "minimum": 1},
			},
		},
	}}
}

func (t *MemorySearchTool) Execute(ctx context.Context, action string, arguments map[string]any) UnifiedResult {
	start := time.Now()
	if action != "search" {
		return Failure(t.Name(), "retrieval", orcerr.KindValidation,
			fmt.Sprintf("unknown action %q", action), time.Since(start))
	}
	query, _ := arguments["query"].(string)
	if query == "" {
		return Failure(t.Name(), "retrieval", orcerr.KindValidation, "action \"search\" requires a non-empty query", time.Since(start))
	}
	limit := t.defaultLimit
	if v, ok := arguments["limit"].(float64); ok && v > 0 {
		limit = int(v)
	}

	rc, err := t.fabric.RelevantContextLimit(ctx, query, nil, limit)
	if err != nil {
		return Failure(t.Name(), "retrieval", orcerr.KindTransient, err.Error(), time.Since(start))
	}
	return Succeed(t.Name(), "retrieval", rc, time.Since(start))
}

func (t *MemorySearchTool) Initialize(ctx context.Context) error { return nil }

func (t *MemorySearchTool) Shutdown(ctx context.Context) error { return nil }

func (t *MemorySearchTool) Health(ctx context.Context) HealthReport {
	if t.fabric == nil {
		return HealthReport{Status: HealthUnavailable}
	}
	return HealthReport{Status: HealthAvailable}
}
