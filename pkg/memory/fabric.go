package memory

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"
)

// Fabric composes short-term session memory (owned by the Orchestrator's
// session table; the Fabric only deals in long-term Entries) with the
// long-term Port, providing relevance retrieval, confidence boosting, and
// feedback-driven weight adjustment (spec §4.2).
type Fabric struct {
	port   Port
	buffer *writeBuffer
	logger *slog.Logger

	mu           sync.RWMutex
	interactions map[string]Interaction

	retrievalLimitK     int
	relevanceThreshold  float64
	confidenceBoostCap  float64
	feedbackGamma       float64
	weightMin           float64
	weightMax           float64
}

// FabricOption configures a Fabric at construction time.
type FabricOption func(*Fabric)

func WithRetrievalLimitK(k int) FabricOption          { return func(f *Fabric) { f.retrievalLimitK = k } }
func WithRelevanceThreshold(tau float64) FabricOption { return func(f *Fabric) { f.relevanceThreshold = tau } }
func WithConfidenceBoostCap(cap float64) FabricOption { return func(f *Fabric) { f.confidenceBoostCap = cap } }
func WithFeedbackGamma(gamma float64) FabricOption    { return func(f *Fabric) { f.feedbackGamma = gamma } }
func WithWeightBounds(min, max float64) FabricOption {
	return func(f *Fabric) { f.weightMin, f.weightMax = min, max }
}

// NewFabric creates a Fabric over the given long-term Port.
func NewFabric(port Port, bufferCapacity int, logger *slog.Logger, opts ...FabricOption) *Fabric {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Fabric{
		port:               port,
		buffer:             newWriteBuffer(port, bufferCapacity, logger),
		logger:             logger,
		interactions:       make(map[string]Interaction),
		retrievalLimitK:    5,
		relevanceThreshold: 0.2,
		confidenceBoostCap: 0.3,
		feedbackGamma:      0.25,
		weightMin:          0.1,
		weightMax:          3.0,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// RecordInteraction stores a completed interaction and buffers a derived
// long-term Entry for eventual indexing (spec §4.2 "every interaction is
// recorded, success or failure").
func (f *Fabric) RecordInteraction(interaction Interaction, now int64) {
	if interaction.CreatedAt == 0 {
		interaction.CreatedAt = now
	}

	f.mu.Lock()
	f.interactions[interaction.InteractionID] = interaction
	f.mu.Unlock()

	agentIDs := make([]string, 0, len(interaction.RoutingDecision.Assignments))
	for _, a := range interaction.RoutingDecision.Assignments {
		agentIDs = append(agentIDs, a.AgentID)
	}

	entry := Entry{
		SessionID:    interaction.SessionID,
		Payload:      interaction.Query + " " + interaction.Response,
		RelevanceKey: interaction.InteractionID,
		InsertedAt:   now,
		LastAccessAt: now,
		Weight:       1.0,
		Metadata: map[string]any{
			"interaction_id": interaction.InteractionID,
			"success":        interaction.Success,
			"agent_ids":      agentIDs,
		},
	}
	f.buffer.Enqueue(entry)
}

// Interaction returns a previously recorded interaction by id, used by the
// Orchestrator to attribute explicit feedback back to the agents that
// handled it (spec §8 scenario 6 "feedback drives re-routing").
func (f *Fabric) Interaction(interactionID string) (Interaction, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	it, ok := f.interactions[interactionID]
	return it, ok
}

// ApplyFeedback records a feedback event against a prior interaction and
// promotes or demotes the derived memory entries' retrieval weight
// (spec §4.6 "memory promotion/demotion"):
//
//	new_weight = clip(weight * (1 + gamma*feedback), w_min, w_max)  if feedback >= 0
//	new_weight = clip(weight / (1 + gamma*|feedback|), w_min, w_max) if feedback < 0
func (f *Fabric) ApplyFeedback(ctx context.Context, event FeedbackEvent) error {
	f.mu.Lock()
	interaction, ok := f.interactions[event.InteractionID]
	if ok {
		interaction.FeedbackScore = &event.Score
		f.interactions[event.InteractionID] = interaction
	}
	f.mu.Unlock()
	if !ok {
		return nil // no-op on an unknown interaction id
	}

	results, err := f.port.Search(ctx, "", 0, map[string]any{"interaction_id": event.InteractionID})
	if err != nil {
		return err
	}
	for _, scored := range results {
		f.adjustWeight(ctx, scored.Entry, event.Score)
	}
	return nil
}

func (f *Fabric) adjustWeight(ctx context.Context, entry Entry, feedback float64) {
	var newWeight float64
	if feedback >= 0 {
		newWeight = entry.Weight * (1 + f.feedbackGamma*feedback)
	} else {
		newWeight = entry.Weight / (1 + f.feedbackGamma*math.Abs(feedback))
	}
	entry.Weight = clip(newWeight, f.weightMin, f.weightMax)
	f.buffer.Enqueue(entry)
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

// RelevantContext retrieves the top-k memories for a query whose similarity
// clears the relevance threshold tau, plus the derived confidence boost
// (spec §4.2):
//
//	confidence_boost = clip(sum(similarity_i for i in top_k) / max(k,1) * 0.3, 0, confidence_boost_cap)
func (f *Fabric) RelevantContext(ctx context.Context, query string, filters map[string]any) (RelevantContext, error) {
	return f.RelevantContextLimit(ctx, query, filters, f.retrievalLimitK)
}

// RelevantContextLimit is RelevantContext with an explicit retrieval limit,
// letting a single call (e.g. the Orchestrator's per-request
// ProcessOptions.RetrievalLimit) override the Fabric's configured k
// without changing its default for every other caller.
func (f *Fabric) RelevantContextLimit(ctx context.Context, query string, filters map[string]any, limit int) (RelevantContext, error) {
	if limit <= 0 {
		limit = f.retrievalLimitK
	}
	scored, err := f.port.Search(ctx, query, limit, filters)
	if err != nil {
		return RelevantContext{}, err
	}

	var kept []Scored
	var sum float64
	for _, s := range scored {
		if s.Similarity < f.relevanceThreshold {
			continue
		}
		kept = append(kept, s)
		sum += s.Similarity
	}

	k := len(kept)
	boost := 0.0
	if k > 0 {
		boost = clip(sum/float64(max(limit, 1))*0.3, 0, f.confidenceBoostCap)
	}
	return RelevantContext{Memories: kept, ConfidenceBoost: boost}, nil
}

// FormatForPrompt renders retrieved memories as a compact block suitable
// for inclusion in an agent prompt (spec §4.2 "formatted for prompt
// injection").
func FormatForPrompt(rc RelevantContext) string {
	if len(rc.Memories) == 0 {
		return ""
	}
	out := "Relevant prior context:\n"
	for _, s := range rc.Memories {
		out += "- " + s.Entry.Payload + "\n"
	}
	return out
}

// Flush forces the write buffer to drain immediately, used on shutdown.
func (f *Fabric) Flush(ctx context.Context) error {
	return f.buffer.Flush(ctx)
}

// Consolidate triggers the Port's consolidation pass over entries inserted
// since the given time.
func (f *Fabric) Consolidate(ctx context.Context, since int64) error {
	return f.port.Consolidate(ctx, since)
}

// RunBackgroundFlush starts a periodic flush loop until ctx is cancelled.
func (f *Fabric) RunBackgroundFlush(ctx context.Context, interval time.Duration) {
	f.buffer.runFlushLoop(ctx, interval)
}
