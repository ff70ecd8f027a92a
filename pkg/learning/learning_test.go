package learning_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torqconsole/agentcore/pkg/capability"
	"github.com/torqconsole/agentcore/pkg/learning"
	"github.com/torqconsole/agentcore/pkg/memory"
	"github.com/torqconsole/agentcore/pkg/router"
)

func TestLoop_AgentFitnessMovesTowardObservation(t *testing.T) {
	l := learning.NewLoop(0.9, nil, nil)
	defer l.Stop()

	l.RecordOutcome(learning.Outcome{AgentID: "a1", Capability: capability.CodeGeneration, Intent: router.IntentCodeGeneration, Success: true})
	l.Sync()

	fitness := l.AgentFitness("a1", router.IntentCodeGeneration)
	assert.Greater(t, fitness, 0.0)
	assert.Less(t, fitness, 1.0)
}

func TestLoop_NegativeFeedbackDecreasesFitnessMonotonically(t *testing.T) {
	l := learning.NewLoop(0.9, nil, nil)
	defer l.Stop()

	for i := 0; i < 3; i++ {
		l.RecordOutcome(learning.Outcome{AgentID: "a1", Capability: capability.CodeGeneration, Intent: router.IntentCodeGeneration, Success: true})
	}
	l.Sync()
	beforeNegative := l.AgentFitness("a1", router.IntentCodeGeneration)

	neg := -1.0
	l.RecordOutcome(learning.Outcome{AgentID: "a1", Capability: capability.CodeGeneration, Intent: router.IntentCodeGeneration, Success: false, Feedback: &neg})
	l.Sync()
	afterNegative := l.AgentFitness("a1", router.IntentCodeGeneration)

	assert.Less(t, afterNegative, beforeNegative)
}

func TestLoop_FeedbackReplayIsIdempotent(t *testing.T) {
	port := memory.NewInMemoryPort()
	fabric := memory.NewFabric(port, 16, nil)
	l := learning.NewLoop(0.9, fabric, nil)
	defer l.Stop()

	fabric.RecordInteraction(memory.Interaction{InteractionID: "i1", Query: "deploy service", Response: "ok"}, 1000)
	require.NoError(t, fabric.Flush(context.Background()))

	score := 1.0
	l.SubmitFeedback(context.Background(), "fb1", memory.FeedbackEvent{InteractionID: "i1", Score: score})
	l.Sync()
	require.NoError(t, fabric.Flush(context.Background()))
	results, err := port.Search(context.Background(), "deploy service", 5, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	onceWeight := results[0].Entry.Weight

	// Replaying the same feedback id must be a no-op.
	l.SubmitFeedback(context.Background(), "fb1", memory.FeedbackEvent{InteractionID: "i1", Score: score})
	l.Sync()
	require.NoError(t, fabric.Flush(context.Background()))
	results, err = port.Search(context.Background(), "deploy service", 5, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, onceWeight, results[0].Entry.Weight)
}

func TestLoop_CapabilityFitnessAndSnapshot(t *testing.T) {
	l := learning.NewLoop(0.9, nil, nil)
	defer l.Stop()

	l.RecordOutcome(learning.Outcome{AgentID: "a1", Capability: capability.Search, Intent: router.IntentSearch, Success: true})
	l.Sync()

	assert.Greater(t, l.CapabilityFitness(capability.Search, router.IntentSearch), 0.0)
	snap := l.Snapshot(router.IntentSearch)
	assert.Contains(t, snap.AgentFitness, "a1")
}
