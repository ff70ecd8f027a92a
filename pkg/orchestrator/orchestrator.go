package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/torqconsole/agentcore/pkg/agent"
	"github.com/torqconsole/agentcore/pkg/config"
	"github.com/torqconsole/agentcore/pkg/learning"
	"github.com/torqconsole/agentcore/pkg/memory"
	"github.com/torqconsole/agentcore/pkg/orcerr"
	"github.com/torqconsole/agentcore/pkg/router"
	"github.com/torqconsole/agentcore/pkg/routing"
	"github.com/torqconsole/agentcore/pkg/session"
	"github.com/torqconsole/agentcore/pkg/telemetry"
	"github.com/torqconsole/agentcore/pkg/tool"
)

// defaultSessionTrim bounds a session's retained message log when
// cfg.SessionMaxMessages is left unset (spec §4.2 "trimmed by age/size
// policy"); the spec names no concrete size, so this is a deterministic
// default.
const defaultSessionTrim = 500

// Orchestrator is the top-level process contract (spec §4.5): it wires the
// Agent Registry, Query Router, Memory Fabric, Tool Manager, Learning Loop
// and Telemetry Sink behind a single `process`/`create_session`/
// `close_session`/`submit_feedback` surface, grounded on the teacher's
// top-level Orchestrator (pkg/orchestrator) generalized off its single
// fixed pipeline into the five coordination modes.
type Orchestrator struct {
	registry *agent.Registry
	router   *router.Router
	fabric   *memory.Fabric
	tools    *tool.Manager
	loop     *learning.Loop
	sink     telemetry.Sink
	cfg      config.Config
	sessions *sessionTable
	logger   *slog.Logger

	// memoryStrategy trims each session's working memory both mid-life
	// (after every Process call) and at close, rather than only ever acting
	// as a disguised no-op immediately before the session is deleted (spec
	// §4.2 "trimmed by age/size policy").
	memoryStrategy session.WorkingMemoryStrategy

	feedbackMu   sync.Mutex
	seenFeedback map[string]struct{}
}

// New constructs an Orchestrator. sink and loop may be nil, in which case
// telemetry and adaptive fitness are no-ops (ZeroFitness / silent sink).
func New(registry *agent.Registry, r *router.Router, fabric *memory.Fabric, tools *tool.Manager,
	loop *learning.Loop, sink telemetry.Sink, cfg config.Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	windowSize := cfg.SessionMaxMessages
	if windowSize <= 0 {
		windowSize = defaultSessionTrim
	}
	return &Orchestrator{
		registry:       registry,
		router:         r,
		fabric:         fabric,
		tools:          tools,
		loop:           loop,
		sink:           sink,
		cfg:            cfg,
		sessions:       newSessionTable(),
		logger:         logger,
		memoryStrategy: session.NewWindowStrategy(windowSize),
		seenFeedback:   make(map[string]struct{}),
	}
}

// CreateSession opens a new session owned by owner and returns its id
// (spec §3 "Session").
func (o *Orchestrator) CreateSession(owner string) string {
	s := o.sessions.create(owner, time.Now().UnixMilli())
	return s.ID()
}

// CloseSession trims and discards a session (spec §4.2 "trimmed ... when a
// session is closed").
func (o *Orchestrator) CloseSession(sessionID string) error {
	return o.sessions.close(sessionID, o.memoryStrategy)
}

// Process resolves query against sessionID: classifies and routes it,
// dispatches across the Router's chosen mode, aggregates confidence,
// records the interaction, and returns the OrchestrationResult (spec §4.5).
// Concurrent calls sharing a session_id serialize through the session's
// lock into arrival order (spec §5 "Ordering guarantees").
func (o *Orchestrator) Process(ctx context.Context, sessionID, query string, opts ProcessOptions) (OrchestrationResult, error) {
	sess, err := o.sessions.get(sessionID)
	if err != nil {
		return OrchestrationResult{}, err
	}

	lock := o.sessions.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	deadlineMs := o.cfg.GlobalDeadlineMs
	if opts.DeadlineMs != 0 {
		deadlineMs = int(opts.DeadlineMs)
	}
	if deadlineMs <= 0 {
		return OrchestrationResult{}, orcerr.Cancelled("Orchestrator", "global deadline of %dms leaves no time to dispatch", deadlineMs)
	}
	dctx, cancel := context.WithTimeout(ctx, time.Duration(deadlineMs)*time.Millisecond)
	defer cancel()

	start := time.Now()
	now := start.UnixMilli()

	userMsg := session.NewMessage(sessionID, "user", session.RoleUser, session.KindText, query, now)
	if err := sess.Append(userMsg, now); err != nil {
		return OrchestrationResult{}, orcerr.Wrap(orcerr.KindInternalInvariant, "Orchestrator", "failed to append user message", err)
	}

	decision, err := o.router.Route(dctx, query, router.Options{
		ForceMode:    opts.ForceMode,
		ForceAgentID: opts.ForceAgentID,
	})
	if err != nil {
		var failure *routing.Failure
		if errors.As(err, &failure) {
			return OrchestrationResult{}, err
		}
		return OrchestrationResult{}, orcerr.Wrap(orcerr.KindInternalInvariant, "Orchestrator", "routing failed", err)
	}

	in := agent.Invocation{Query: query, SessionID: sessionID, Context: map[string]any{}}
	if o.fabric != nil {
		rc, rcErr := o.fabric.RelevantContextLimit(dctx, query, map[string]any{"session_id": sessionID}, opts.RetrievalLimit)
		if rcErr == nil && len(rc.Memories) > 0 {
			in.Context["memory_context"] = memory.FormatForPrompt(rc)
		}
	}
	if o.tools != nil {
		// tool_scope tells an agent which tool names it's allowed to name in
		// a tool_executor call; tool_executor is the actual dispatch path,
		// bound to this orchestrator's Tool Manager (spec §4.5 "Dispatch
		// contract").
		in.Context["tool_scope"] = o.tools.List()
		in.Context["tool_executor"] = agent.ToolExecutor(o.tools.Execute)
	}

	p := dispatchParams{
		perAgentTimeout: time.Duration(o.cfg.PerAgentTimeoutMs) * time.Millisecond,
		retryMaxN:       o.cfg.RetryMaxN,
		baseBackoff:     time.Duration(o.cfg.RetryBaseBackoffMs) * time.Millisecond,
	}
	maxParallelWidth := o.cfg.MaxParallelWidth
	if opts.MaxParallelWidth > 0 {
		maxParallelWidth = opts.MaxParallelWidth
	}

	var contributions []Contribution
	switch decision.Mode {
	case routing.ModeSingle:
		contributions = runSingle(dctx, o.registry, decision, in, p)
	case routing.ModeSequential:
		contributions = runSequential(dctx, o.registry, decision, in, opts.CancelOnFirstFailure, p)
	case routing.ModePipeline:
		contributions = runPipeline(dctx, o.registry, decision, in, p)
	case routing.ModeParallel:
		contributions = runParallel(dctx, o.registry, decision, in, maxParallelWidth, p)
	case routing.ModeDynamic:
		contributions, err = o.runDynamicMode(dctx, decision, in, maxParallelWidth, p)
		if err != nil {
			return OrchestrationResult{}, err
		}
	default:
		return OrchestrationResult{}, orcerr.InternalInvariant("Orchestrator", "unrecognized routing mode %q", decision.Mode)
	}

	confidence, success := aggregateConfidence(decision.Mode, contributions, decision.Assignments)
	if errors.Is(dctx.Err(), context.DeadlineExceeded) {
		// The global deadline cut the interaction short; confidence reflects
		// how much of the plan actually completed rather than the per-mode
		// aggregation rule (spec §8 scenario 5 "confidence scaled by
		// completed-stage fraction").
		confidence = completedFraction(contributions, len(decision.Assignments))
		success = false
	}
	boost := 0.0
	if o.fabric != nil {
		if rc, rcErr := o.fabric.RelevantContext(dctx, query, nil); rcErr == nil {
			boost = rc.ConfidenceBoost
		}
	}
	confidence = math.Min(1.0, confidence+boost)

	content := joinResponses(contributions)
	totalLatency := time.Since(start)

	interactionID := uuid.NewString()
	toolsInvoked := collectToolsInvoked(contributions)

	assistantMsg := session.NewMessage(sessionID, "orchestrator", session.RoleAssistant, session.KindText, content, time.Now().UnixMilli())
	assistantMsg.Cancelled = errors.Is(dctx.Err(), context.DeadlineExceeded)
	if err := sess.Append(assistantMsg, time.Now().UnixMilli()); err != nil {
		o.logger.Warn("orchestrator: failed to append assistant message", "error", err, "session_id", sessionID)
	}
	if o.memoryStrategy != nil {
		if dropped := o.memoryStrategy.Apply(sess); dropped > 0 {
			o.logger.Debug("orchestrator: trimmed working memory", "session_id", sessionID,
				"strategy", o.memoryStrategy.Name(), "dropped", dropped)
		}
	}

	if o.fabric != nil {
		o.fabric.RecordInteraction(memory.Interaction{
			InteractionID:   interactionID,
			SessionID:       sessionID,
			Query:           query,
			Response:        content,
			RoutingDecision: decision,
			ToolsUsed:       toolsInvoked,
			Success:         success,
			ExecutionTimeMs: totalLatency.Milliseconds(),
			Confidence:      confidence,
		}, time.Now().UnixMilli())
	}

	// A dispatch completing without error is not itself a fitness signal
	// (spec §4.6 "one outcome per interaction" would otherwise have the
	// dispatch's own always-true success bump fight an operator's explicit
	// feedback for the same interaction); only latency is recorded here.
	// Fitness moves exclusively through SubmitFeedback/propagateFeedbackToFitness.
	if o.loop != nil {
		for _, c := range contributions {
			o.loop.RecordLatency(c.AgentID, float64(c.LatencyMs))
		}
	}

	if o.sink != nil {
		o.sink.RecordInteraction(dctx, telemetry.InteractionRecord{
			InteractionID:   interactionID,
			SessionID:       sessionID,
			Mode:            string(decision.Mode),
			Success:         success,
			Confidence:      confidence,
			ExecutionTimeMs: totalLatency.Milliseconds(),
		})
	}

	result := OrchestrationResult{
		InteractionID:  interactionID,
		Content:        content,
		Contributions:  contributions,
		ToolsInvoked:   toolsInvoked,
		TotalLatencyMs: totalLatency.Milliseconds(),
		Confidence:     confidence,
		Success:        success,
		Mode:           decision.Mode,
	}

	if errors.Is(dctx.Err(), context.DeadlineExceeded) {
		return result, orcerr.Cancelled("Orchestrator", "global deadline of %dms exceeded before the plan completed", deadlineMs)
	}
	return result, nil
}

// runDynamicMode resolves the first assignment as the orchestration agent,
// requires it implement Planner, and executes its plan (spec §4.5
// "dynamic").
func (o *Orchestrator) runDynamicMode(ctx context.Context, decision routing.Decision, in agent.Invocation,
	maxParallelWidth int, p dispatchParams) ([]Contribution, error) {
	if len(decision.Assignments) == 0 {
		return nil, orcerr.InternalInvariant("Orchestrator", "dynamic mode selected with no assignments")
	}
	entry, ok := o.registry.Get(decision.Assignments[0].AgentID)
	if !ok {
		return nil, orcerr.Validation("Orchestrator", "orchestration agent %q not registered", decision.Assignments[0].AgentID)
	}
	planner, ok := entry.Agent.(Planner)
	if !ok {
		return nil, orcerr.Validation("Orchestrator", "agent %q does not implement dynamic planning", entry.Descriptor.AgentID)
	}
	return runDynamic(ctx, o.registry, planner, in, maxParallelWidth, p)
}

// SubmitFeedback records an explicit feedback event against a prior
// interaction (spec §4.6). feedbackID is a caller-supplied idempotency key:
// replaying the same id is a no-op (spec §4.6 "Idempotence"). score must
// fall within [-1, 1] (spec §8 "Feedback score outside [-1,1] ->
// ValidationError").
func (o *Orchestrator) SubmitFeedback(ctx context.Context, feedbackID, interactionID string, score float64, note string) error {
	if score < -1 || score > 1 {
		return orcerr.Validation("Orchestrator", "feedback score %v is outside [-1, 1]", score)
	}

	event := memory.FeedbackEvent{InteractionID: interactionID, Score: score, Note: note, Timestamp: time.Now().UnixMilli()}
	if o.loop != nil {
		o.loop.SubmitFeedback(ctx, feedbackID, event)
		if o.markFeedbackSeen(feedbackID) {
			o.propagateFeedbackToFitness(interactionID, score)
		}
		return nil
	}
	if o.fabric != nil && o.markFeedbackSeen(feedbackID) {
		if err := o.fabric.ApplyFeedback(ctx, event); err != nil {
			o.logger.Warn("orchestrator: failed to apply feedback", "error", err, "interaction_id", interactionID)
		}
	}
	return nil
}

// markFeedbackSeen reports whether feedbackID is new, recording it as seen
// either way, so propagateFeedbackToFitness only ever runs once per
// feedbackID even though loop.SubmitFeedback's own dedupe only guards the
// memory fabric side of feedback (spec §4.6 "Idempotence").
func (o *Orchestrator) markFeedbackSeen(feedbackID string) bool {
	o.feedbackMu.Lock()
	defer o.feedbackMu.Unlock()
	if _, ok := o.seenFeedback[feedbackID]; ok {
		return false
	}
	o.seenFeedback[feedbackID] = struct{}{}
	return true
}

// propagateFeedbackToFitness folds an explicit feedback score into the
// Learning Loop's agent fitness for every agent that handled the original
// interaction, so repeated negative feedback on one agent can demote its
// EWMA fitness below a sibling's and shift future routing (spec §8
// scenario 6).
func (o *Orchestrator) propagateFeedbackToFitness(interactionID string, score float64) {
	if o.fabric == nil {
		return
	}
	interaction, ok := o.fabric.Interaction(interactionID)
	if !ok {
		return
	}
	intent := o.router.Classify(interaction.Query).Intent
	for _, a := range interaction.RoutingDecision.Assignments {
		o.loop.RecordOutcome(learning.Outcome{
			InteractionID: interactionID,
			AgentID:       a.AgentID,
			Capability:    a.Capability,
			Intent:        intent,
			Success:       score >= 0,
			Feedback:      &score,
		})
	}
}

// aggregateConfidence implements the per-mode confidence rule of spec
// §4.5 "Confidence aggregation" and the associated overall-success rule:
// single/sequential/pipeline require every stage to succeed; parallel/
// dynamic succeed if at least one branch does (partial failure is marked
// per-branch, not fatal).
func aggregateConfidence(mode routing.Mode, contributions []Contribution, assignments []routing.Assignment) (float64, bool) {
	if len(contributions) == 0 {
		return 0, false
	}

	switch mode {
	case routing.ModeSingle:
		return contributions[0].Confidence, contributions[0].Success
	case routing.ModeSequential:
		last := contributions[len(contributions)-1]
		return last.Confidence, allSucceeded(contributions)
	case routing.ModePipeline:
		product := 1.0
		for _, c := range contributions {
			conf := c.Confidence
			if conf <= 0 {
				conf = 0.01
			}
			product *= conf
		}
		product = clip(product, 0.01, 1.0)
		return product, allSucceeded(contributions)
	case routing.ModeParallel:
		// Weighted mean over successful branches only (spec §8 scenario 3):
		// a failed branch is marked per-contribution but does not dilute the
		// fused confidence of the branches that did succeed.
		weights := make(map[string]float64, len(assignments))
		for _, a := range assignments {
			weights[a.AgentID] = a.Weight
		}
		var weighted, totalWeight float64
		for _, c := range contributions {
			if !c.Success {
				continue
			}
			w := weights[c.AgentID]
			weighted += w * c.Confidence
			totalWeight += w
		}
		if totalWeight == 0 {
			return 0, anySucceeded(contributions)
		}
		return weighted / totalWeight, anySucceeded(contributions)
	case routing.ModeDynamic:
		var sum float64
		var n int
		for _, c := range contributions {
			if c.Success {
				sum += c.Confidence
				n++
			}
		}
		if n == 0 {
			return 0, false
		}
		return sum / float64(n), true
	default:
		return 0, allSucceeded(contributions)
	}
}

func allSucceeded(contributions []Contribution) bool {
	for _, c := range contributions {
		if !c.Success {
			return false
		}
	}
	return true
}

func completedFraction(contributions []Contribution, plannedStages int) float64 {
	if plannedStages == 0 {
		return 0
	}
	var completed int
	for _, c := range contributions {
		if c.Success {
			completed++
		}
	}
	return float64(completed) / float64(plannedStages)
}

func anySucceeded(contributions []Contribution) bool {
	for _, c := range contributions {
		if c.Success {
			return true
		}
	}
	return false
}

func clip(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// collectToolsInvoked flattens the tool names actually used across every
// contribution into a deduplicated list (spec §4.5 "OrchestrationResult"
// carries the tools invoked, not the agents that ran).
func collectToolsInvoked(contributions []Contribution) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, c := range contributions {
		for _, name := range c.ToolsUsed {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	return out
}

func joinResponses(contributions []Contribution) string {
	parts := make([]string, 0, len(contributions))
	for _, c := range contributions {
		if c.Success && c.Response != "" {
			parts = append(parts, c.Response)
		}
	}
	return strings.Join(parts, "\n")
}
