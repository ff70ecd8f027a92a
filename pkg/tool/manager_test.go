package tool_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torqconsole/agentcore/pkg/orcerr"
	"github.com/torqconsole/agentcore/pkg/tool"
)

type echoTool struct {
	name   string
	policy tool.PrivilegePolicy
}

func (e *echoTool) Name() string              { return e.name }
func (e *echoTool) Capabilities() []string     { return []string{"search"} }
func (e *echoTool) Initialize(context.Context) error { return nil }
func (e *echoTool) Shutdown(context.Context) error   { return nil }
func (e *echoTool) Health(context.Context) tool.HealthReport {
	return tool.HealthReport{Status: tool.HealthAvailable}
}

func (e *echoTool) Execute(ctx context.Context, action string, args map[string]any) tool.UnifiedResult {
	start := time.Now()
	if action != "echo" {
		return tool.Failure(e.name, "search", orcerr.KindValidation, "unknown action", time.Since(start))
	}
	return tool.Succeed(e.name, "search", args["text"], time.Since(start))
}

func (e *echoTool) Schemas() []tool.ActionSchema {
	return []tool.ActionSchema{{
		Action: "echo",
		Schema: map[string]any{
			"type":                 "object",
			"properties":           map[string]any{"text": map[string]any{"type": "string"}},
			"required":             []any{"text"},
			"additionalProperties": false,
		},
	}}
}

func TestManager_ExecuteValidatesArguments(t *testing.T) {
	m := tool.NewManager(nil)
	require.NoError(t, m.Register(context.Background(), &echoTool{name: "echo1"}))

	res := m.Execute(context.Background(), "echo1", "echo", map[string]any{"text": "hi"})
	assert.True(t, res.Success)
	assert.Equal(t, "hi", res.Data)

	bad := m.Execute(context.Background(), "echo1", "echo", map[string]any{"wrong": 1})
	assert.False(t, bad.Success)
	assert.Equal(t, orcerr.KindValidation, bad.ErrorKind)
}

func TestManager_UnknownToolFails(t *testing.T) {
	m := tool.NewManager(nil)
	res := m.Execute(context.Background(), "missing", "echo", nil)
	assert.False(t, res.Success)
	assert.Equal(t, orcerr.KindValidation, res.ErrorKind)
}

func TestManager_RejectsPrivilegedToolWithoutPolicy(t *testing.T) {
	m := tool.NewManager(nil)
	err := m.Register(context.Background(), &privilegedNoPolicy{echoTool: echoTool{name: "priv"}})
	assert.Error(t, err)
	assert.True(t, orcerr.IsValidation(err))
}

type privilegedNoPolicy struct {
	echoTool
}

func (p *privilegedNoPolicy) Policy() tool.PrivilegePolicy { return nil }

func TestManager_PrivilegePolicyDeniesAction(t *testing.T) {
	m := tool.NewManager(nil)
	pt := &echoTool{name: "priv2", policy: tool.NewAllowlistPolicy("other")}
	require.NoError(t, m.Register(context.Background(), &privileged{pt}))

	res := m.Execute(context.Background(), "priv2", "echo", map[string]any{"text": "x"})
	assert.False(t, res.Success)
	assert.Equal(t, orcerr.KindValidation, res.ErrorKind)
}

type privileged struct {
	*echoTool
}

func (p *privileged) Policy() tool.PrivilegePolicy { return p.policy }

func TestManager_DuplicateRegistrationConflicts(t *testing.T) {
	m := tool.NewManager(nil)
	require.NoError(t, m.Register(context.Background(), &echoTool{name: "dup"}))
	err := m.Register(context.Background(), &echoTool{name: "dup"})
	assert.Error(t, err)
	assert.True(t, orcerr.IsConflict(err))
}
