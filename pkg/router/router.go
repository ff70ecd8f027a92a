// Package router implements the Query Router (spec §4.4): intent
// classification, capability mapping, candidate selection, contextual
// boost scoring, mode selection, and dependency-ordered assembly into a
// routing decision.
package router

import (
	"context"
	"sort"

	"github.com/torqconsole/agentcore/pkg/agent"
	"github.com/torqconsole/agentcore/pkg/capability"
	"github.com/torqconsole/agentcore/pkg/memory"
	"github.com/torqconsole/agentcore/pkg/routing"
)

// FitnessProvider supplies the Learning Loop's running scores (spec §4.4
// step 4, §4.6). Defined here rather than imported from a learning
// package so the Router never depends on the Learning Loop's internals —
// only this narrow interface, which the Loop implements.
type FitnessProvider interface {
	AgentFitness(agentID string, intent Intent) float64
	RecentSuccessRate(agentID string, intent Intent) float64
	RecentLatencyMs(agentID string) float64
}

// ZeroFitness is a FitnessProvider returning zero for every query, usable
// before a Learning Loop has accumulated observations.
type ZeroFitness struct{}

func (ZeroFitness) AgentFitness(string, Intent) float64      { return 0 }
func (ZeroFitness) RecentSuccessRate(string, Intent) float64 { return 0 }
func (ZeroFitness) RecentLatencyMs(string) float64           { return 0 }

// Options tune one routing pass beyond the default algorithm (spec §6
// "ProcessOptions" fields relevant to routing).
type Options struct {
	ForceMode               *routing.Mode
	ForceAgentID            *string
	ParallelIdeaGeneration  bool
	// Route fills Alpha and Beta with 0.3 and 0.2 when zero, but candidate
	// scoring (selectBest, selectAll) always uses those fixed weights; other
	// values do not change the decision.
	Alpha                   float64 // weight on recent_success_rate, default 0.3
	Beta                    float64 // weight on memory_prior, default 0.2
}

// Router resolves a query to a routing.Decision (spec §4.4).
type Router struct {
	registry   *agent.Registry
	fabric     *memory.Fabric
	fitness    FitnessProvider
	classifier *Classifier
}

func NewRouter(registry *agent.Registry, fabric *memory.Fabric, fitness FitnessProvider, classifier *Classifier) *Router {
	if fitness == nil {
		fitness = ZeroFitness{}
	}
	if classifier == nil {
		classifier = NewClassifier(nil)
	}
	return &Router{registry: registry, fabric: fabric, fitness: fitness, classifier: classifier}
}

type scoredCandidate struct {
	agentID string
	score   float64
	latency float64
}

// Route runs the full algorithm of spec §4.4 and returns a Decision, or a
// *routing.Failure when no candidate satisfies a required capability or
// the selected agents' dependencies cannot be acyclically ordered.
func (r *Router) Route(ctx context.Context, query string, opts Options) (routing.Decision, error) {
	if opts.Alpha == 0 {
		opts.Alpha = 0.3
	}
	if opts.Beta == 0 {
		opts.Beta = 0.2
	}

	classification := r.classifier.Classify(query)
	required := RequiredCapabilities(classification.Intent)

	if opts.ForceAgentID != nil {
		entry, ok := r.registry.Get(*opts.ForceAgentID)
		if !ok || entry.Descriptor.Status != agent.StatusReady {
			return routing.Decision{}, &routing.Failure{Reason: routing.ReasonNoCapableAgent}
		}
		mode := routing.ModeSingle
		if opts.ForceMode != nil {
			mode = *opts.ForceMode
		}
		return routing.Decision{
			Mode:        mode,
			Confidence:  classification.Confidence,
			Assignments: []routing.Assignment{{AgentID: entry.Descriptor.AgentID, Capability: required[0], Weight: 1.0}},
		}, nil
	}

	var selected []routing.Assignment
	fanOut := opts.ParallelIdeaGeneration || (opts.ForceMode != nil && *opts.ForceMode == routing.ModeParallel)
	if fanOut && len(required) == 1 {
		// Parallel idea generation (requested directly, or by forcing
		// parallel mode) fans a single capability out across every ready
		// candidate instead of picking just the best one
		// (spec §3 "a user-tagged 'parallel idea generation'").
		candidates := r.selectAll(ctx, query, classification.Intent, required[0])
		if len(candidates) == 0 {
			return routing.Decision{}, &routing.Failure{Reason: routing.ReasonNoCapableAgent, MissingCap: required[0]}
		}
		selected = make([]routing.Assignment, 0, len(candidates))
		for _, c := range candidates {
			selected = append(selected, routing.Assignment{AgentID: c.agentID, Capability: required[0], Weight: c.score})
		}
	} else {
		selected = make([]routing.Assignment, 0, len(required))
		for _, cap := range required {
			candidate, ok := r.selectBest(ctx, query, classification.Intent, cap)
			if !ok {
				return routing.Decision{}, &routing.Failure{Reason: routing.ReasonNoCapableAgent, MissingCap: cap}
			}
			selected = append(selected, routing.Assignment{AgentID: candidate.agentID, Capability: cap, Weight: candidate.score})
		}
	}

	ordered, err := r.dependencyOrder(selected)
	if err != nil {
		return routing.Decision{}, err
	}

	mode := r.selectMode(classification.Intent, len(required), opts)
	applyWeights(ordered, mode)

	confidence := classification.Confidence
	return routing.Decision{Assignments: ordered, Mode: mode, Confidence: confidence}, nil
}

// Classify exposes the Router's intent classification (step 1) so callers
// that need the intent alongside a routing.Decision — the Orchestrator's
// outcome recording (spec §4.6) — can recover it; it runs the classifier
// on the query again, since a routing.Decision does not carry the intent.
func (r *Router) Classify(query string) Classification {
	return r.classifier.Classify(query)
}

// selectBest implements candidate selection (step 3) and contextual boost
// scoring with tie-breaks (step 4 + "Tie-breaks").
func (r *Router) selectBest(ctx context.Context, query string, intent Intent, cap capability.Capability) (scoredCandidate, bool) {
	entries := r.registry.FindByCapability(cap)

	var candidates []scoredCandidate
	for _, e := range entries {
		if e.Descriptor.Status != agent.StatusReady {
			continue
		}
		score := r.fitness.AgentFitness(e.Descriptor.AgentID, intent) +
			0.3*r.fitness.RecentSuccessRate(e.Descriptor.AgentID, intent) +
			0.2*r.memoryPrior(ctx, query, e.Descriptor.AgentID)
		candidates = append(candidates, scoredCandidate{
			agentID: e.Descriptor.AgentID,
			score:   score,
			latency: r.fitness.RecentLatencyMs(e.Descriptor.AgentID),
		})
	}
	if len(candidates) == 0 {
		return scoredCandidate{}, false
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.latency != b.latency {
			return a.latency < b.latency
		}
		return a.agentID < b.agentID
	})
	return candidates[0], true
}

// selectAll scores every ready candidate for cap, without narrowing to the
// single best one, used by parallel idea generation.
func (r *Router) selectAll(ctx context.Context, query string, intent Intent, cap capability.Capability) []scoredCandidate {
	entries := r.registry.FindByCapability(cap)

	var candidates []scoredCandidate
	for _, e := range entries {
		if e.Descriptor.Status != agent.StatusReady {
			continue
		}
		score := r.fitness.AgentFitness(e.Descriptor.AgentID, intent) +
			0.3*r.fitness.RecentSuccessRate(e.Descriptor.AgentID, intent) +
			0.2*r.memoryPrior(ctx, query, e.Descriptor.AgentID)
		candidates = append(candidates, scoredCandidate{
			agentID: e.Descriptor.AgentID,
			score:   score,
			latency: r.fitness.RecentLatencyMs(e.Descriptor.AgentID),
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.latency != b.latency {
			return a.latency < b.latency
		}
		return a.agentID < b.agentID
	})
	return candidates
}

// memoryPrior counts, among memories retrieved for query, what fraction
// record agentID among the interaction's successful assignments
// (spec §4.4 step 4 "memory_prior").
func (r *Router) memoryPrior(ctx context.Context, query, agentID string) float64 {
	if r.fabric == nil {
		return 0
	}
	rc, err := r.fabric.RelevantContext(ctx, query, nil)
	if err != nil || len(rc.Memories) == 0 {
		return 0
	}

	var hits int
	for _, m := range rc.Memories {
		success, _ := m.Entry.Metadata["success"].(bool)
		ids, _ := m.Entry.Metadata["agent_ids"].([]string)
		if !success {
			continue
		}
		for _, id := range ids {
			if id == agentID {
				hits++
				break
			}
		}
	}
	return float64(hits) / float64(len(rc.Memories))
}

// dependencyOrder topologically sorts the selected assignments by their
// agents' declared Dependencies restricted to the selected set, rejecting
// a cycle among the selection (spec §4.4 step 6 "Assembly").
func (r *Router) dependencyOrder(assignments []routing.Assignment) ([]routing.Assignment, error) {
	selected := make(map[string]routing.Assignment, len(assignments))
	position := make(map[string]int, len(assignments))
	for i, a := range assignments {
		selected[a.AgentID] = a
		position[a.AgentID] = i
	}

	indegree := make(map[string]int, len(assignments))
	edges := make(map[string][]string) // agent_id -> dependents
	for id := range selected {
		indegree[id] = 0
	}
	for id := range selected {
		entry, ok := r.registry.Get(id)
		if !ok {
			continue
		}
		for _, dep := range entry.Descriptor.Dependencies {
			if _, inSelection := selected[dep]; inSelection {
				edges[dep] = append(edges[dep], id)
				indegree[id]++
			}
		}
	}

	// Kahn's algorithm, breaking ties by original selection order rather
	// than agent_id so a selection with no declared dependencies comes out
	// in the capability order the Router resolved it in.
	byPosition := func(ids []string) {
		sort.Slice(ids, func(i, j int) bool { return position[ids[i]] < position[ids[j]] })
	}

	var ready []string
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	byPosition(ready)

	var orderedIDs []string
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		orderedIDs = append(orderedIDs, id)
		var unlocked []string
		for _, dependent := range edges[id] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				unlocked = append(unlocked, dependent)
			}
		}
		byPosition(unlocked)
		ready = append(ready, unlocked...)
		byPosition(ready)
	}

	if len(orderedIDs) != len(selected) {
		return nil, &routing.Failure{Reason: routing.ReasonCyclicPlan}
	}

	ordered := make([]routing.Assignment, 0, len(orderedIDs))
	for _, id := range orderedIDs {
		ordered = append(ordered, selected[id])
	}
	return ordered, nil
}

// selectMode implements step 5 "Mode selection".
func (r *Router) selectMode(intent Intent, requiredCapCount int, opts Options) routing.Mode {
	if opts.ForceMode != nil {
		return *opts.ForceMode
	}
	if opts.ParallelIdeaGeneration {
		return routing.ModeParallel
	}
	switch intent {
	case IntentResearch:
		return routing.ModePipeline
	case IntentOrchestration:
		return routing.ModeDynamic
	case IntentConversational, IntentSearch, IntentDocumentation, IntentTesting:
		if requiredCapCount > 1 {
			return routing.ModeSequential
		}
		return routing.ModeSingle
	default:
		if requiredCapCount > 1 {
			return routing.ModeSequential
		}
		return routing.ModeSingle
	}
}

// applyWeights normalizes assignment weights to sum to 1.0 for parallel
// mode (spec §3 "weights sum to 1.0 when mode = parallel"); other modes
// carry equal weights summing to 1.0 as a deterministic default.
func applyWeights(assignments []routing.Assignment, mode routing.Mode) {
	if len(assignments) == 0 {
		return
	}
	if mode == routing.ModeParallel {
		var total float64
		for _, a := range assignments {
			total += a.Weight
		}
		if total == 0 {
			equal := 1.0 / float64(len(assignments))
			for i := range assignments {
				assignments[i].Weight = equal
			}
			return
		}
		for i := range assignments {
			assignments[i].Weight /= total
		}
		return
	}
	equal := 1.0 / float64(len(assignments))
	for i := range assignments {
		assignments[i].Weight = equal
	}
}
