package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryPort_SearchRanksBySimilarity(t *testing.T) {
	p := NewInMemoryPort()
	ctx := context.Background()

	require.NoError(t, p.Add(ctx, Entry{Payload: "deploy the payment service to staging"}))
	require.NoError(t, p.Add(ctx, Entry{Payload: "rotate the database credentials"}))

	results, err := p.Search(ctx, "deploy payment service", 5, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Contains(t, results[0].Entry.Payload, "deploy")
}

func TestInMemoryPort_SearchFiltersBySessionID(t *testing.T) {
	p := NewInMemoryPort()
	ctx := context.Background()

	require.NoError(t, p.Add(ctx, Entry{SessionID: "s1", Payload: "alpha task context"}))
	require.NoError(t, p.Add(ctx, Entry{SessionID: "s2", Payload: "alpha task context"}))

	results, err := p.Search(ctx, "alpha task", 5, map[string]any{"session_id": "s1"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "s1", results[0].Entry.SessionID)
}

func TestInMemoryPort_WeightScalesRanking(t *testing.T) {
	p := NewInMemoryPort()
	ctx := context.Background()

	require.NoError(t, p.Add(ctx, Entry{Payload: "alpha beta gamma", Weight: 0.1}))
	require.NoError(t, p.Add(ctx, Entry{Payload: "alpha beta gamma", Weight: 2.0}))

	results, err := p.Search(ctx, "alpha beta gamma", 5, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 2.0, results[0].Entry.Weight)
}

func TestInMemoryPort_ConsolidateGroupsSimilarEntriesAndDecaysOriginals(t *testing.T) {
	p := NewInMemoryPort()
	ctx := context.Background()

	require.NoError(t, p.Add(ctx, Entry{EntryID: "a", Payload: "deploy service to staging cluster", InsertedAt: 100, Weight: 1.0}))
	require.NoError(t, p.Add(ctx, Entry{EntryID: "b", Payload: "deploy service to staging cluster now", InsertedAt: 101, Weight: 1.0}))
	require.NoError(t, p.Add(ctx, Entry{EntryID: "c", Payload: "unrelated billing reconciliation task", InsertedAt: 102, Weight: 1.0}))

	require.NoError(t, p.Consolidate(ctx, 0))

	results, err := p.Search(ctx, "", 0, nil)
	require.NoError(t, err)

	var sawConsolidated bool
	for _, s := range results {
		if s.Entry.EntryID == "a" || s.Entry.EntryID == "b" {
			assert.Less(t, s.Entry.Weight, 1.0)
			assert.Contains(t, s.Entry.Metadata, "consolidated_into")
		}
		if _, ok := s.Entry.Metadata["consolidated_from"]; ok {
			sawConsolidated = true
		}
	}
	assert.True(t, sawConsolidated, "expected one consolidated entry to be produced")

	// Re-running consolidation over the same window must be idempotent:
	// already-consolidated members are skipped, so no new consolidated
	// entry appears.
	before := len(results)
	require.NoError(t, p.Consolidate(ctx, 0))
	after, err := p.Search(ctx, "", 0, nil)
	require.NoError(t, err)
	assert.Len(t, after, before)
}
