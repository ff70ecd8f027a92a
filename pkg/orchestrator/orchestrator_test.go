package orchestrator_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torqconsole/agentcore/pkg/agent"
	"github.com/torqconsole/agentcore/pkg/capability"
	"github.com/torqconsole/agentcore/pkg/config"
	"github.com/torqconsole/agentcore/pkg/learning"
	"github.com/torqconsole/agentcore/pkg/memory"
	"github.com/torqconsole/agentcore/pkg/orcerr"
	"github.com/torqconsole/agentcore/pkg/orchestrator"
	"github.com/torqconsole/agentcore/pkg/router"
	"github.com/torqconsole/agentcore/pkg/routing"
	"github.com/torqconsole/agentcore/pkg/tool"
)

// scriptedAgent is a configurable Agent fixture: it can fail transiently a
// fixed number of times, fail forever, or sleep before answering, letting
// each scenario below drive dispatch/retry/deadline behavior deterministically.
type scriptedAgent struct {
	desc agent.Descriptor

	mu         sync.Mutex
	calls      int
	failFirstN int
	alwaysFail bool
	delay      time.Duration
	confidence float64
	text       string
}

func (a *scriptedAgent) Invoke(ctx context.Context, in agent.Invocation) (agent.Response, error) {
	a.mu.Lock()
	a.calls++
	call := a.calls
	a.mu.Unlock()

	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return agent.Response{}, ctx.Err()
		}
	}
	if a.alwaysFail || call <= a.failFirstN {
		return agent.Response{}, orcerr.Transient(a.desc.AgentID, errors.New("scripted transient failure"))
	}

	conf := a.confidence
	if conf == 0 {
		conf = 0.9
	}
	text := a.text
	if text == "" {
		text = a.desc.AgentID + " response"
	}
	return agent.Response{Text: text, Confidence: conf}, nil
}

func (a *scriptedAgent) Health(context.Context) tool.HealthReport {
	return tool.HealthReport{Status: tool.HealthAvailable}
}
func (a *scriptedAgent) Describe() agent.Descriptor   { return a.desc }
func (a *scriptedAgent) Shutdown(context.Context) error { return nil }

func (a *scriptedAgent) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func newScripted(id string, caps ...capability.Capability) *scriptedAgent {
	return &scriptedAgent{desc: agent.Descriptor{
		AgentID:      id,
		Capabilities: capability.NewSet(caps...),
		Status:       agent.StatusReady,
	}}
}

// planningAgent implements orchestrator.Planner for dynamic-mode scenarios.
type planningAgent struct {
	desc agent.Descriptor
	plan orchestrator.Plan
	err  error
}

func (p *planningAgent) Invoke(context.Context, agent.Invocation) (agent.Response, error) {
	return agent.Response{Text: "planned", Confidence: 0.9}, nil
}
func (p *planningAgent) Health(context.Context) tool.HealthReport {
	return tool.HealthReport{Status: tool.HealthAvailable}
}
func (p *planningAgent) Describe() agent.Descriptor   { return p.desc }
func (p *planningAgent) Shutdown(context.Context) error { return nil }
func (p *planningAgent) Plan(context.Context, agent.Invocation) (orchestrator.Plan, error) {
	return p.plan, p.err
}

func newPlanner(id string, plan orchestrator.Plan) *planningAgent {
	return &planningAgent{
		desc: agent.Descriptor{AgentID: id, Capabilities: capability.NewSet(capability.Orchestration), Status: agent.StatusReady},
		plan: plan,
	}
}

type harness struct {
	orc    *orchestrator.Orchestrator
	reg    *agent.Registry
	fabric *memory.Fabric
	loop   *learning.Loop
}

func newHarness(t *testing.T) harness {
	t.Helper()
	reg := agent.NewRegistry()
	fabric := memory.NewFabric(memory.NewInMemoryPort(), 64, nil)
	loop := learning.NewLoop(0.9, fabric, nil)
	t.Cleanup(loop.Stop)
	r := router.NewRouter(reg, fabric, loop, nil)

	cfg := *config.Default()
	cfg.PerAgentTimeoutMs = 2000
	cfg.RetryBaseBackoffMs = 1
	cfg.RetryMaxN = 2

	orc := orchestrator.New(reg, r, fabric, nil, loop, nil, cfg, nil)
	return harness{orc: orc, reg: reg, fabric: fabric, loop: loop}
}

// Scenario 1: single-agent conversational, confidence boosts on repeat.
func TestScenario_SingleAgentConversational(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.reg.Register(newScripted("greeter", capability.Conversational)))

	sid := h.orc.CreateSession("user-1")

	first, err := h.orc.Process(context.Background(), sid, "Hello there", orchestrator.ProcessOptions{})
	require.NoError(t, err)
	assert.Equal(t, routing.ModeSingle, first.Mode)
	assert.True(t, first.Success)
	require.NoError(t, h.fabric.Flush(context.Background()))

	second, err := h.orc.Process(context.Background(), sid, "Hello there", orchestrator.ProcessOptions{})
	require.NoError(t, err)
	assert.Greater(t, second.Confidence, first.Confidence)
	assert.LessOrEqual(t, second.Confidence-first.Confidence, 0.3+1e-9)
}

// Scenario 2: pipeline research with a mid-pipeline transient retry.
func TestScenario_PipelineResearchRetriesTransientStage(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.reg.Register(newScripted("search_agent", capability.Search)))
	analysis := newScripted("analysis_agent", capability.Analysis)
	analysis.failFirstN = 1
	require.NoError(t, h.reg.Register(analysis))
	require.NoError(t, h.reg.Register(newScripted("synthesis_agent", capability.Synthesis)))
	require.NoError(t, h.reg.Register(newScripted("response_agent", capability.Response)))

	sid := h.orc.CreateSession("user-2")
	result, err := h.orc.Process(context.Background(), sid, "latest developments in quantum error correction", orchestrator.ProcessOptions{})
	require.NoError(t, err)

	assert.Equal(t, routing.ModePipeline, result.Mode)
	require.Len(t, result.Contributions, 4)
	for _, c := range result.Contributions {
		assert.True(t, c.Success, "stage %s should have succeeded after retry", c.AgentID)
	}
	assert.True(t, result.Success)
	assert.InDelta(t, 0.9*0.9*0.9*0.9, result.Confidence, 0.05)
	assert.Equal(t, 2, analysis.callCount(), "analysis_agent should have been retried exactly once")
}

// Scenario 3: parallel with one branch exhausting its retry budget.
func TestScenario_ParallelWithOneBranchFailing(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.reg.Register(newScripted("voter_a", capability.Search)))
	require.NoError(t, h.reg.Register(newScripted("voter_b", capability.Search)))
	failing := newScripted("voter_c", capability.Search)
	failing.alwaysFail = true
	require.NoError(t, h.reg.Register(failing))

	sid := h.orc.CreateSession("user-3")
	mode := routing.ModeParallel
	result, err := h.orc.Process(context.Background(), sid, "find the config file", orchestrator.ProcessOptions{
		ForceMode: &mode,
	})
	require.NoError(t, err)

	var succeeded, failed int
	for _, c := range result.Contributions {
		if c.Success {
			succeeded++
		} else {
			failed++
			assert.Equal(t, "voter_c", c.AgentID)
		}
	}
	assert.Equal(t, 2, succeeded)
	assert.Equal(t, 1, failed)
	assert.True(t, result.Success)
}

// Scenario 4: a dynamic plan with a dependency cycle is rejected before
// any dispatch, and no interaction is recorded.
func TestScenario_DynamicPlanWithDependencyCycleIsRejected(t *testing.T) {
	h := newHarness(t)
	plan := orchestrator.Plan{Nodes: []orchestrator.PlanNode{
		{AgentID: "b", DependsOn: []string{"c"}},
		{AgentID: "c", DependsOn: []string{"b"}},
	}}
	require.NoError(t, h.reg.Register(newPlanner("orchestration_agent", plan)))

	sid := h.orc.CreateSession("user-4")
	_, err := h.orc.Process(context.Background(), sid, "orchestrate the plan across services", orchestrator.ProcessOptions{})
	require.Error(t, err)
	assert.True(t, orcerr.IsValidation(err))

	_, recorded := h.fabric.Interaction("does-not-matter")
	assert.False(t, recorded)

	require.NoError(t, h.fabric.Flush(context.Background()))
	rc, err := h.fabric.RelevantContext(context.Background(), "orchestrate the plan across services", nil)
	require.NoError(t, err)
	assert.Empty(t, rc.Memories)
}

// Scenario 5: deadline expiry mid-pipeline surfaces a CancelledError and
// records a failed interaction scaled by the completed-stage fraction.
func TestScenario_DeadlineExpiryMidPipeline(t *testing.T) {
	h := newHarness(t)
	slow := newScripted("search_agent", capability.Search)
	slow.delay = 80 * time.Millisecond
	require.NoError(t, h.reg.Register(slow))
	require.NoError(t, h.reg.Register(newScripted("analysis_agent", capability.Analysis)))
	require.NoError(t, h.reg.Register(newScripted("synthesis_agent", capability.Synthesis)))
	require.NoError(t, h.reg.Register(newScripted("response_agent", capability.Response)))

	sid := h.orc.CreateSession("user-5")
	result, err := h.orc.Process(context.Background(), sid, "research distributed consensus options", orchestrator.ProcessOptions{
		DeadlineMs: 50,
	})

	require.Error(t, err)
	assert.True(t, orcerr.IsCancelled(err))
	assert.False(t, result.Success)
	assert.Equal(t, 0.0, result.Confidence)
}

// Scenario 6: negative feedback on each answered interaction demotes
// whichever agent served it; after three rounds a1 (demoted twice) sits
// below a2 (demoted once), shifting the next equivalent query's tie-break.
func TestScenario_FeedbackDrivesRerouting(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.reg.Register(newScripted("a1", capability.CodeGeneration)))
	require.NoError(t, h.reg.Register(newScripted("a2", capability.CodeGeneration)))

	sid := h.orc.CreateSession("user-6")

	first, err := h.orc.Process(context.Background(), sid, "write a function to parse CSV", orchestrator.ProcessOptions{})
	require.NoError(t, err)
	require.Len(t, first.Contributions, 1)
	assert.Equal(t, "a1", first.Contributions[0].AgentID, "a1 wins the initial tie-break by agent_id")

	for i := 0; i < 3; i++ {
		result, err := h.orc.Process(context.Background(), sid, "write a function to parse CSV", orchestrator.ProcessOptions{})
		require.NoError(t, err)
		require.Len(t, result.Contributions, 1)
		require.NoError(t, h.orc.SubmitFeedback(context.Background(), feedbackID(i), result.InteractionID, -1, "wrong approach"))
		h.loop.Sync()
	}

	next, err := h.orc.Process(context.Background(), sid, "write a function to parse CSV", orchestrator.ProcessOptions{})
	require.NoError(t, err)
	require.Len(t, next.Contributions, 1)
	assert.Equal(t, "a2", next.Contributions[0].AgentID, "a2 should now be preferred after a1's fitness dropped")
}

func feedbackID(i int) string {
	return "fb-" + string(rune('0'+i))
}

// toolUsingAgent calls through the tool_executor the Orchestrator binds into
// Invocation.Context, exercising the tool_scope/tool_executor wiring (spec
// §4.5 "Dispatch contract").
type toolUsingAgent struct {
	desc agent.Descriptor
}

func (a *toolUsingAgent) Invoke(ctx context.Context, in agent.Invocation) (agent.Response, error) {
	executor, ok := in.Context["tool_executor"].(agent.ToolExecutor)
	if !ok {
		return agent.Response{}, orcerr.InternalInvariant(a.desc.AgentID, "no tool_executor bound in invocation context")
	}
	scope, _ := in.Context["tool_scope"].([]string)

	var used []string
	for _, name := range scope {
		result := executor(ctx, name, "search", map[string]any{"query": in.Query})
		if result.Success {
			used = append(used, name)
		}
	}
	return agent.Response{Text: "searched", Confidence: 0.8, ToolsUsed: used}, nil
}

func (a *toolUsingAgent) Health(context.Context) tool.HealthReport {
	return tool.HealthReport{Status: tool.HealthAvailable}
}
func (a *toolUsingAgent) Describe() agent.Descriptor     { return a.desc }
func (a *toolUsingAgent) Shutdown(context.Context) error { return nil }

// Scenario 7: an agent dispatches through the tool_executor the Orchestrator
// binds into the invocation context, and the tool it actually called shows
// up in OrchestrationResult.ToolsInvoked rather than the agent's own id.
func TestScenario_AgentDispatchesThroughToolExecutor(t *testing.T) {
	reg := agent.NewRegistry()
	fabric := memory.NewFabric(memory.NewInMemoryPort(), 64, nil)
	loop := learning.NewLoop(0.9, fabric, nil)
	t.Cleanup(loop.Stop)
	r := router.NewRouter(reg, fabric, loop, nil)

	tools := tool.NewManager(nil)
	require.NoError(t, tools.Register(context.Background(), tool.NewMemorySearchTool(fabric, 5)))

	cfg := *config.Default()
	cfg.PerAgentTimeoutMs = 2000

	orc := orchestrator.New(reg, r, fabric, tools, loop, nil, cfg, nil)
	require.NoError(t, reg.Register(&toolUsingAgent{desc: agent.Descriptor{
		AgentID: "researcher", Capabilities: capability.NewSet(capability.Search), Status: agent.StatusReady,
	}}))

	sid := orc.CreateSession("user-7")
	result, err := orc.Process(context.Background(), sid, "find the config file", orchestrator.ProcessOptions{})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, []string{"memory_search"}, result.ToolsInvoked)
	assert.Equal(t, []string{"memory_search"}, result.Contributions[0].ToolsUsed)
}
