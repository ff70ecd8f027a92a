// Package memory implements the Memory Fabric (spec §4.2): short-term
// session context composed with long-term temporal memory behind an
// abstract MemoryPort, relevance retrieval, confidence boosting, and
// consolidation.
package memory

import "github.com/torqconsole/agentcore/pkg/routing"

// Interaction is a single completed `process` call, recorded immutably
// except for a later-appended feedback field (spec §3 "Interaction record").
type Interaction struct {
	InteractionID    string
	SessionID        string
	Query            string
	Response         string
	RoutingDecision  routing.Decision
	ToolsUsed        []string
	Success          bool
	ExecutionTimeMs  int64
	Confidence       float64
	FeedbackScore    *float64 // nil until feedback is applied
	CreatedAt        int64
}

// Entry is one long-term memory record (spec §3 "Memory entry").
type Entry struct {
	EntryID      string
	SessionID    string
	Payload      string
	Embedding    []float32 // opaque to the core; nil when no embedder is wired
	RelevanceKey string
	InsertedAt   int64
	LastAccessAt int64
	Metadata     map[string]any

	// Weight is the retrieval weight used for ranking and for feedback-driven
	// promotion/demotion (spec §4.6 "Memory promotion"). Starts at 1.0.
	Weight float64
}

// FeedbackEvent is a scored, optionally-noted reaction to one interaction
// (spec §3 "Feedback event").
type FeedbackEvent struct {
	InteractionID string
	Score         float64 // in [-1, 1]
	Note          string
	Timestamp     int64
}

// Scored pairs a long-term Entry with its similarity to a query.
type Scored struct {
	Entry      Entry
	Similarity float64
}

// RelevantContext is the result of retrieving memories for a query
// (spec §4.2 "relevant_context").
type RelevantContext struct {
	Memories       []Scored
	ConfidenceBoost float64
}
