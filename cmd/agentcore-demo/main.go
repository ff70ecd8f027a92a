// Command agentcore-demo wires the Agent Registry, Query Router, Memory
// Fabric, Tool Manager, Learning Loop, and Orchestrator together against a
// handful of Echo-backed agents and drives a couple of queries through
// them. It exists to exercise the full stack end-to-end outside of tests,
// not as an installable CLI (spec §1 Non-goals exclude concrete providers
// and a distributed deployment surface; this is a single-process demo).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/torqconsole/agentcore/pkg/agent"
	"github.com/torqconsole/agentcore/pkg/capability"
	"github.com/torqconsole/agentcore/pkg/config"
	"github.com/torqconsole/agentcore/pkg/learning"
	"github.com/torqconsole/agentcore/pkg/llm"
	"github.com/torqconsole/agentcore/pkg/logger"
	"github.com/torqconsole/agentcore/pkg/memory"
	"github.com/torqconsole/agentcore/pkg/orchestrator"
	"github.com/torqconsole/agentcore/pkg/router"
	"github.com/torqconsole/agentcore/pkg/telemetry"
	"github.com/torqconsole/agentcore/pkg/tool"
)

// echoAgent adapts an llm.Provider into an agent.Agent, grounded on the
// teacher's echo-llm plugin pattern generalized from a standalone
// generation endpoint to a capability-tagged orchestratable unit.
type echoAgent struct {
	desc     agent.Descriptor
	provider llm.Provider
}

func newEchoAgent(id string, caps ...capability.Capability) *echoAgent {
	return &echoAgent{
		desc: agent.Descriptor{
			AgentID:      id,
			Name:         id,
			Type:         "echo",
			Capabilities: capability.NewSet(caps...),
			Status:       agent.StatusReady,
		},
		provider: llm.NewEcho(id + ": "),
	}
}

func (a *echoAgent) Invoke(ctx context.Context, in agent.Invocation) (agent.Response, error) {
	text, err := a.provider.Generate(ctx, in.Query, llm.GenerateParams{MaxTokens: 256, Temperature: 0.2})
	if err != nil {
		return agent.Response{}, err
	}
	return agent.Response{Text: text, Confidence: 0.85}, nil
}

func (a *echoAgent) Health(context.Context) tool.HealthReport {
	return tool.HealthReport{Status: tool.HealthAvailable}
}

func (a *echoAgent) Describe() agent.Descriptor { return a.desc }

func (a *echoAgent) Shutdown(context.Context) error { return nil }

// llmFallback adapts an llm.Provider into a router.Fallback, used when the
// classifier's heuristic rules don't match a query (spec §4.4 step 1b).
type llmFallback struct {
	provider llm.Provider
}

func (f llmFallback) Classify(query string) (router.Classification, error) {
	_, err := f.provider.Generate(context.Background(), "classify intent: "+query, llm.GenerateParams{MaxTokens: 16})
	if err != nil {
		return router.Classification{}, err
	}
	return router.Classification{Intent: router.IntentConversational, Confidence: 0.4}, nil
}

func main() {
	logger.Init(slog.LevelInfo, os.Stderr, "simple")
	log := logger.GetLogger()

	cfg := config.Default()

	registry := agent.NewRegistry()
	for _, a := range []*echoAgent{
		newEchoAgent("greeter", capability.Conversational),
		newEchoAgent("search_agent", capability.Search),
		newEchoAgent("analysis_agent", capability.Analysis),
		newEchoAgent("synthesis_agent", capability.Synthesis),
		newEchoAgent("response_agent", capability.Response),
	} {
		if err := registry.Register(a); err != nil {
			log.Error("failed to register agent", "agent_id", a.desc.AgentID, "error", err)
			os.Exit(1)
		}
	}

	healthCtx, stopHealthLoop := context.WithCancel(context.Background())
	defer stopHealthLoop()
	registry.StartHealthLoop(healthCtx, time.Duration(cfg.HealthCheckIntervalMs)*time.Millisecond)

	fabric := memory.NewFabric(memory.NewInMemoryPort(), cfg.MemoryBufferCapacity, log,
		memory.WithRetrievalLimitK(cfg.RetrievalLimitK),
		memory.WithRelevanceThreshold(cfg.RelevanceThresholdTau),
		memory.WithConfidenceBoostCap(cfg.ConfidenceBoostCap),
		memory.WithFeedbackGamma(cfg.FeedbackGamma),
	)

	loop := learning.NewLoop(cfg.EWMALambda, fabric, log)
	defer loop.Stop()

	classifier := router.NewClassifier(llmFallback{provider: llm.NewEcho("classifier: ")})
	r := router.NewRouter(registry, fabric, loop, classifier)

	tools := tool.NewManager(log)
	if err := tools.Register(context.Background(), tool.NewMemorySearchTool(fabric, cfg.RetrievalLimitK)); err != nil {
		log.Error("failed to register memory_search tool", "error", err)
		os.Exit(1)
	}
	sink := telemetry.NewOtelSink(log)

	orc := orchestrator.New(registry, r, fabric, tools, loop, sink, *cfg, log)

	sessionID := orc.CreateSession("demo-user")
	defer orc.CloseSession(sessionID)

	queries := []string{
		"Hello there, how are you?",
		"latest developments in distributed consensus research",
	}
	for _, q := range queries {
		result, err := orc.Process(context.Background(), sessionID, q, orchestrator.ProcessOptions{})
		if err != nil {
			log.Warn("process returned an error", "query", q, "error", err)
		}
		fmt.Printf("query: %s\nmode: %s success: %v confidence: %.2f\n%s\n\n",
			q, result.Mode, result.Success, result.Confidence, result.Content)
	}
}
