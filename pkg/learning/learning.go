// Package learning implements the Learning Loop (spec §4.6): EWMA agent
// and capability fitness per intent, feedback-driven memory promotion via
// the Memory Fabric, and a decoupled single-consumer update queue with
// idempotent replay.
package learning

import (
	"context"
	"log/slog"
	"sync"

	"github.com/torqconsole/agentcore/pkg/capability"
	"github.com/torqconsole/agentcore/pkg/memory"
	"github.com/torqconsole/agentcore/pkg/router"
)

// Outcome is one measured interaction result fed to the loop (spec §4.6
// "implicit per-interaction outcomes"). RecordOutcome is the single entry
// point for both kinds of signal the loop moves fitness on: a dispatch's own
// Success flag when Feedback is nil, or an explicit feedback score when it
// isn't — never both for the same interaction, so a human's feedback is
// never diluted by the dispatch having merely completed without error.
type Outcome struct {
	InteractionID string
	AgentID       string
	Capability    capability.Capability
	Intent        router.Intent
	Success       bool
	Feedback      *float64 // nil when no explicit feedback accompanies this outcome
	LatencyMs     float64
}

type fitnessKey struct {
	id     string
	intent router.Intent
}

// Loop is the reference FitnessProvider (router.FitnessProvider) and the
// consumer of interaction outcomes and feedback events, grounded on the
// teacher's single-consumer pendingBatches pattern (pkg/memory/memory.go)
// generalized from memory batches to fitness updates.
type Loop struct {
	lambda float64

	mu              sync.RWMutex
	agentFitness    map[fitnessKey]float64
	capFitness      map[fitnessKey]float64
	recentSuccess   map[fitnessKey]float64
	recentLatency   map[string]float64
	seenFeedbackIDs map[string]struct{}

	fabric *memory.Fabric
	logger *slog.Logger

	queue chan func()
	done  chan struct{}
}

func NewLoop(lambda float64, fabric *memory.Fabric, logger *slog.Logger) *Loop {
	if lambda == 0 {
		lambda = 0.9
	}
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loop{
		lambda:          lambda,
		agentFitness:    make(map[fitnessKey]float64),
		capFitness:      make(map[fitnessKey]float64),
		recentSuccess:   make(map[fitnessKey]float64),
		recentLatency:   make(map[string]float64),
		seenFeedbackIDs: make(map[string]struct{}),
		fabric:          fabric,
		logger:          logger,
		queue:           make(chan func(), 256),
		done:            make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	for {
		select {
		case fn := <-l.queue:
			fn()
		case <-l.done:
			for {
				select {
				case fn := <-l.queue:
					fn()
				default:
					return
				}
			}
		}
	}
}

// Stop drains and terminates the background consumer.
func (l *Loop) Stop() { close(l.done) }

// Sync blocks until every update enqueued before this call has been
// applied by the background consumer.
func (l *Loop) Sync() {
	barrier := make(chan struct{})
	l.queue <- func() { close(barrier) }
	<-barrier
}

// RecordOutcome enqueues a fitness-moving outcome update; processing happens
// on the loop's single background consumer so the request path never blocks
// on fitness bookkeeping (spec §4.6 "decoupled from the request path").
// When the queue is saturated the update is dropped rather than blocking
// the caller (spec §5 "Backpressure"). A dispatch that merely completed
// without error is not, by itself, a fitness signal — the Orchestrator
// calls RecordLatency after every dispatch for that — RecordOutcome is reserved for
// explicit feedback (o.Feedback set) so the EWMA only ever moves in the
// direction a human actually asserted.
func (l *Loop) RecordOutcome(o Outcome) {
	select {
	case l.queue <- func() { l.applyOutcome(o) }:
	default:
		l.logger.Warn("learning loop queue saturated, dropping outcome update", "agent_id", o.AgentID)
	}
}

// RecordLatency updates an agent's recent-latency EWMA from a dispatch's
// measured duration without touching fitness, so the router's latency
// tie-break (spec §4.4 "Tie-breaks") stays informed by every dispatch while
// fitness itself moves only on explicit feedback.
func (l *Loop) RecordLatency(agentID string, latencyMs float64) {
	select {
	case l.queue <- func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.recentLatency[agentID] = ewma(l.recentLatency[agentID], latencyMs, l.lambda)
	}:
	default:
		l.logger.Warn("learning loop queue saturated, dropping latency update", "agent_id", agentID)
	}
}

func (l *Loop) applyOutcome(o Outcome) {
	l.mu.Lock()
	defer l.mu.Unlock()

	akey := fitnessKey{o.AgentID, o.Intent}
	ckey := fitnessKey{string(o.Capability), o.Intent}

	observed := boolToFloat(o.Success)
	if o.Feedback != nil {
		observed = clampRange(*o.Feedback, -1, 1)
	}

	l.agentFitness[akey] = ewma(l.agentFitness[akey], observed, l.lambda)
	l.capFitness[ckey] = ewma(l.capFitness[ckey], observed, l.lambda)
	l.recentSuccess[akey] = ewma(l.recentSuccess[akey], boolToFloat(o.Success), l.lambda)
	l.recentLatency[o.AgentID] = ewma(l.recentLatency[o.AgentID], o.LatencyMs, l.lambda)
}

// ewma applies the spec's decay rule: new = lambda*old + (1-lambda)*obs.
func ewma(old, observation, lambda float64) float64 {
	return lambda*old + (1-lambda)*observation
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SubmitFeedback enqueues a feedback event, replaying the same event id is
// a no-op (spec §4.6 "Idempotence").
func (l *Loop) SubmitFeedback(ctx context.Context, feedbackID string, event memory.FeedbackEvent) {
	task := func() {
		l.mu.Lock()
		if _, seen := l.seenFeedbackIDs[feedbackID]; seen {
			l.mu.Unlock()
			return
		}
		l.seenFeedbackIDs[feedbackID] = struct{}{}
		l.mu.Unlock()

		if l.fabric != nil {
			if err := l.fabric.ApplyFeedback(ctx, event); err != nil {
				l.logger.Error("learning loop: failed to apply feedback to memory fabric", "error", err)
			}
		}
	}
	select {
	case l.queue <- task:
	default:
		l.logger.Warn("learning loop queue saturated, dropping feedback event", "feedback_id", feedbackID)
	}
}

// AgentFitness implements router.FitnessProvider.
func (l *Loop) AgentFitness(agentID string, intent router.Intent) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.agentFitness[fitnessKey{agentID, intent}]
}

// RecentSuccessRate implements router.FitnessProvider.
func (l *Loop) RecentSuccessRate(agentID string, intent router.Intent) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.recentSuccess[fitnessKey{agentID, intent}]
}

// RecentLatencyMs implements router.FitnessProvider.
func (l *Loop) RecentLatencyMs(agentID string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.recentLatency[agentID]
}

// CapabilityFitness supports tie-breaking when an agent offers multiple
// capabilities (spec §4.6 "Capability fitness").
func (l *Loop) CapabilityFitness(c capability.Capability, intent router.Intent) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.capFitness[fitnessKey{string(c), intent}]
}

// Snapshot is a read-only view of current fitness state, useful for
// diagnostics and for tests asserting on converged state.
type Snapshot struct {
	AgentFitness  map[string]float64
	RecentSuccess map[string]float64
}

// Snapshot returns a read-only copy of the loop's current state for a
// given intent (spec §9 supplemented feature: a read-only inspection API).
func (l *Loop) Snapshot(intent router.Intent) Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := Snapshot{AgentFitness: make(map[string]float64), RecentSuccess: make(map[string]float64)}
	for k, v := range l.agentFitness {
		if k.intent == intent {
			out.AgentFitness[k.id] = v
		}
	}
	for k, v := range l.recentSuccess {
		if k.intent == intent {
			out.RecentSuccess[k.id] = v
		}
	}
	return out
}
