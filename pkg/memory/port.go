package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Port is the abstract long-term memory port consumed by the Fabric
// (spec §4.2, §6 "MemoryPort"). Concrete vector/graph/document stores are
// out of the core's scope (spec §1 Non-goals) — the core only depends on
// this interface.
type Port interface {
	Add(ctx context.Context, entry Entry) error
	Search(ctx context.Context, query string, limit int, filters map[string]any) ([]Scored, error)
	Consolidate(ctx context.Context, since int64) error
}

// InMemoryPort is a lexical-only reference Port implementation. It is not a
// persistent storage driver (spec Non-goals exclude those); it exists so
// the Fabric is independently testable and usable without an external
// vector database, mirroring the teacher's KeywordIndexService
// (pkg/memory/index_keyword.go) as the default when no vector store is wired.
type InMemoryPort struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewInMemoryPort() *InMemoryPort {
	return &InMemoryPort{entries: make(map[string]Entry)}
}

func (p *InMemoryPort) Add(ctx context.Context, entry Entry) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	if entry.Weight == 0 {
		entry.Weight = 1.0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[entry.EntryID] = entry
	return nil
}

// Search scores every entry by similarity (vector cosine when both the
// query and the entry carry an embedding, lexical fallback otherwise —
// spec §4.2) filtered by the given metadata filters, sorted descending,
// truncated to limit.
func (p *InMemoryPort) Search(ctx context.Context, query string, limit int, filters map[string]any) ([]Scored, error) {
	return p.SearchEmbedding(ctx, query, nil, limit, filters)
}

// SearchEmbedding additionally accepts a query embedding; callers that have
// no embedder available pass a nil vector and fall back to lexical scoring.
func (p *InMemoryPort) SearchEmbedding(ctx context.Context, query string, queryEmbedding []float32, limit int, filters map[string]any) ([]Scored, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var scored []Scored
	for _, e := range p.entries {
		if !matchesFilters(e, filters) {
			continue
		}
		var sim float64
		if len(queryEmbedding) > 0 && len(e.Embedding) > 0 {
			sim = cosineSimilarity(queryEmbedding, e.Embedding)
		} else {
			sim = lexicalSimilarity(query, e.Payload)
		}
		// Entries accrue retrieval weight from feedback-driven promotion
		// (spec §4.6); the raw similarity is multiplied by it, so a promoted
		// entry (weight above 1) can score above 1.
		sim *= e.Weight
		scored = append(scored, Scored{Entry: e, Similarity: sim})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		return scored[i].Entry.EntryID < scored[j].Entry.EntryID
	})

	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func matchesFilters(e Entry, filters map[string]any) bool {
	for k, v := range filters {
		if k == "session_id" {
			if e.SessionID != v {
				return false
			}
			continue
		}
		if mv, ok := e.Metadata[k]; !ok || mv != v {
			return false
		}
	}
	return true
}

// Consolidate groups entries within [since, now] whose pairwise lexical
// similarity exceeds 0.8 and emits one consolidated entry per group,
// decaying the originals' retrieval weight (spec §4.2 "Consolidation").
// Idempotent: a window already consolidated carries a "consolidated_into"
// metadata marker and is skipped on repeated triggers.
func (p *InMemoryPort) Consolidate(ctx context.Context, since int64) error {
	const pairwiseThreshold = 0.8
	const decayFactor = 0.5

	p.mu.Lock()
	defer p.mu.Unlock()

	var candidates []Entry
	for _, e := range p.entries {
		if e.InsertedAt < since {
			continue
		}
		if _, already := e.Metadata["consolidated_into"]; already {
			continue
		}
		candidates = append(candidates, e)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].EntryID < candidates[j].EntryID })

	visited := make(map[string]bool)
	for i, a := range candidates {
		if visited[a.EntryID] {
			continue
		}
		var group []Entry
		for j := i + 1; j < len(candidates); j++ {
			b := candidates[j]
			if visited[b.EntryID] {
				continue
			}
			if lexicalSimilarity(a.Payload, b.Payload) > pairwiseThreshold {
				group = append(group, b)
			}
		}
		if len(group) == 0 {
			continue
		}

		group = append([]Entry{a}, group...)
		consolidated := Entry{
			EntryID:      "consolidated-" + uuid.NewString(),
			SessionID:    a.SessionID,
			Payload:      consolidatedPayload(group),
			RelevanceKey: a.RelevanceKey,
			InsertedAt:   a.InsertedAt,
			LastAccessAt: a.InsertedAt,
			Weight:       1.0,
			Metadata:     map[string]any{"consolidated_from": len(group)},
		}
		p.entries[consolidated.EntryID] = consolidated

		for _, member := range group {
			member.Weight *= decayFactor
			if member.Metadata == nil {
				member.Metadata = make(map[string]any)
			}
			member.Metadata["consolidated_into"] = consolidated.EntryID
			p.entries[member.EntryID] = member
			visited[member.EntryID] = true
		}
	}
	return nil
}

func consolidatedPayload(group []Entry) string {
	out := ""
	for i, e := range group {
		if i > 0 {
			out += " | "
		}
		out += e.Payload
	}
	return out
}
