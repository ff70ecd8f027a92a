package orchestrator

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/torqconsole/agentcore/pkg/agent"
	"github.com/torqconsole/agentcore/pkg/orcerr"
	"github.com/torqconsole/agentcore/pkg/routing"
)

// dispatchParams bundles the per-agent dispatch knobs threaded through every
// mode, avoiding a five-argument signature repeated on each function below.
type dispatchParams struct {
	perAgentTimeout time.Duration
	retryMaxN       int
	baseBackoff     time.Duration
}

// dispatchToContribution runs one assignment through dispatch and shapes the
// result into a Contribution (spec §4.5 "Dispatch contract").
func dispatchToContribution(ctx context.Context, registry *agent.Registry, a routing.Assignment, in agent.Invocation, p dispatchParams) Contribution {
	entry, ok := registry.Get(a.AgentID)
	if !ok {
		return Contribution{AgentID: a.AgentID, Capability: string(a.Capability), FailedKind: string(orcerr.KindValidation)}
	}

	res := dispatch(ctx, registry, entry, in, p.perAgentTimeout, p.retryMaxN, p.baseBackoff)
	c := Contribution{AgentID: a.AgentID, Capability: string(a.Capability), LatencyMs: res.LatencyMs}
	if res.Err != nil {
		c.FailedKind = errorKind(res.Err)
		return c
	}
	c.Success = true
	c.Response = res.Response.Text
	c.Confidence = res.Response.Confidence
	c.ToolsUsed = res.Response.ToolsUsed
	return c
}

func errorKind(err error) string {
	var ce *orcerr.CoreError
	if errors.As(err, &ce) {
		return string(ce.Kind)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return string(orcerr.KindCancelled)
	}
	return string(orcerr.KindTransient)
}

// runSingle dispatches the sole assignment in decision (spec §4.5 "single").
func runSingle(ctx context.Context, registry *agent.Registry, decision routing.Decision, in agent.Invocation, p dispatchParams) []Contribution {
	return []Contribution{dispatchToContribution(ctx, registry, decision.Assignments[0], in, p)}
}

// withPriorResponse returns a copy of in with the prior stage's response
// bound under "prior_response" (spec §4.5 "sequential"/"pipeline": each
// stage sees the previous stage's output).
func withPriorResponse(in agent.Invocation, prior Contribution) agent.Invocation {
	next := in
	merged := make(map[string]any, len(in.Context)+1)
	for k, v := range in.Context {
		merged[k] = v
	}
	merged["prior_response"] = prior.Response
	next.Context = merged
	return next
}

// runSequential dispatches assignments in order, aborting after the first
// failure when cancelOnFirstFailure is set (spec §4.5 "sequential", §7
// "abort sequential/pipeline" on TransientError exhaustion).
func runSequential(ctx context.Context, registry *agent.Registry, decision routing.Decision, in agent.Invocation, cancelOnFirstFailure bool, p dispatchParams) []Contribution {
	contributions := make([]Contribution, 0, len(decision.Assignments))
	cur := in
	for _, a := range decision.Assignments {
		c := dispatchToContribution(ctx, registry, a, cur, p)
		contributions = append(contributions, c)
		if !c.Success && cancelOnFirstFailure {
			break
		}
		cur = withPriorResponse(cur, c)
	}
	return contributions
}

// runPipeline dispatches the Router's dependency-ordered stages in sequence
// (spec §4.5 "pipeline: search -> analysis -> synthesis -> response"),
// always aborting on the first stage failure since a later stage's input
// binds to an unavailable predecessor's output.
func runPipeline(ctx context.Context, registry *agent.Registry, decision routing.Decision, in agent.Invocation, p dispatchParams) []Contribution {
	return runSequential(ctx, registry, decision, in, true, p)
}

// runParallel fans every assignment out concurrently, bounded by
// maxParallelWidth (spec §4.5 "parallel", §6 "max_parallel_width"; §7 "mark
// branch failed in parallel/dynamic" rather than aborting the others),
// grounded on the teacher's errgroup fan-out (workflowagent.runParallel).
func runParallel(ctx context.Context, registry *agent.Registry, decision routing.Decision, in agent.Invocation, maxParallelWidth int, p dispatchParams) []Contribution {
	if maxParallelWidth <= 0 {
		maxParallelWidth = 4
	}
	contributions := make([]Contribution, len(decision.Assignments))
	sem := semaphore.NewWeighted(int64(maxParallelWidth))
	g, gctx := errgroup.WithContext(ctx)

	for i, a := range decision.Assignments {
		i, a := i, a
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				contributions[i] = Contribution{AgentID: a.AgentID, Capability: string(a.Capability),
					FailedKind: string(orcerr.KindCancelled)}
				return nil
			}
			defer sem.Release(1)
			contributions[i] = dispatchToContribution(gctx, registry, a, in, p)
			return nil
		})
	}
	_ = g.Wait()
	return contributions
}

// Planner is implemented by orchestration-capable agents that produce a
// dynamic-mode Plan instead of a direct Response (spec §4.5 "dynamic: an
// orchestration agent is invoked first; it returns a plan").
type Planner interface {
	Plan(ctx context.Context, in agent.Invocation) (Plan, error)
}

// dynamicNodeOrder topologically orders plan nodes by their declared
// DependsOn edges, grouped into waves that may dispatch concurrently;
// rejects a cyclic plan (spec §8 scenario 4 "Dynamic plan with dependency
// cycle" -> ValidationError{cyclic_plan}, no dispatch).
func dynamicNodeOrder(plan Plan) ([][]PlanNode, error) {
	byID := make(map[string]PlanNode, len(plan.Nodes))
	indegree := make(map[string]int, len(plan.Nodes))
	dependents := make(map[string][]string)
	for _, n := range plan.Nodes {
		byID[n.AgentID] = n
		if _, ok := indegree[n.AgentID]; !ok {
			indegree[n.AgentID] = 0
		}
	}
	for _, n := range plan.Nodes {
		for _, dep := range n.DependsOn {
			if _, ok := byID[dep]; !ok {
				continue
			}
			dependents[dep] = append(dependents[dep], n.AgentID)
			indegree[n.AgentID]++
		}
	}

	var waves [][]PlanNode
	remaining := len(plan.Nodes)
	for remaining > 0 {
		var wave []PlanNode
		for id, deg := range indegree {
			if deg == 0 {
				wave = append(wave, byID[id])
			}
		}
		if len(wave) == 0 {
			return nil, orcerr.Validation("Orchestrator", "cyclic_plan")
		}
		for _, n := range wave {
			delete(indegree, n.AgentID)
			remaining--
			for _, dependent := range dependents[n.AgentID] {
				indegree[dependent]--
			}
		}
		waves = append(waves, wave)
	}
	return waves, nil
}

// runDynamic invokes the orchestration agent's Planner, validates the plan
// is acyclic, then executes it wave-by-wave with each wave bounded by
// maxParallelWidth (spec §4.5 "dynamic").
func runDynamic(ctx context.Context, registry *agent.Registry, planner Planner, in agent.Invocation,
	maxParallelWidth int, p dispatchParams) ([]Contribution, error) {

	plan, err := planner.Plan(ctx, in)
	if err != nil {
		return nil, orcerr.Wrap(orcerr.KindTransient, "Orchestrator", "orchestration agent failed to produce a plan", err)
	}

	waves, err := dynamicNodeOrder(plan)
	if err != nil {
		return nil, err
	}

	if maxParallelWidth <= 0 {
		maxParallelWidth = 4
	}

	var contributions []Contribution
	outputs := make(map[string]string)
	for _, wave := range waves {
		waveContribs := make([]Contribution, len(wave))
		sem := semaphore.NewWeighted(int64(maxParallelWidth))
		g, gctx := errgroup.WithContext(ctx)
		for i, node := range wave {
			i, node := i, node
			g.Go(func() error {
				if err := sem.Acquire(gctx, 1); err != nil {
					waveContribs[i] = Contribution{AgentID: node.AgentID, FailedKind: string(orcerr.KindCancelled)}
					return nil
				}
				defer sem.Release(1)

				nodeIn := in
				if node.InputBinding != "" {
					if bound, ok := outputs[node.InputBinding]; ok {
						merged := make(map[string]any, len(in.Context)+1)
						for k, v := range in.Context {
							merged[k] = v
						}
						merged["bound_input"] = bound
						nodeIn.Context = merged
					}
				}

				entry, ok := registry.Get(node.AgentID)
				if !ok {
					waveContribs[i] = Contribution{AgentID: node.AgentID, FailedKind: string(orcerr.KindValidation)}
					return nil
				}
				res := dispatch(gctx, registry, entry, nodeIn, p.perAgentTimeout, p.retryMaxN, p.baseBackoff)
				c := Contribution{AgentID: node.AgentID, LatencyMs: res.LatencyMs}
				if res.Err != nil {
					c.FailedKind = errorKind(res.Err)
					if !node.Optional {
						waveContribs[i] = c
						return nil
					}
				} else {
					c.Success = true
					c.Response = res.Response.Text
					c.Confidence = res.Response.Confidence
					c.ToolsUsed = res.Response.ToolsUsed
				}
				waveContribs[i] = c
				return nil
			})
		}
		_ = g.Wait()
		for _, c := range waveContribs {
			outputs[c.AgentID] = c.Response
		}
		contributions = append(contributions, waveContribs...)
	}
	return contributions, nil
}
