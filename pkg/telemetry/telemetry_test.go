package telemetry_test

import (
	"context"
	"testing"

	"github.com/torqconsole/agentcore/pkg/telemetry"
)

func TestOtelSink_RecordInteractionDoesNotPanic(t *testing.T) {
	sink := telemetry.NewOtelSink(nil)
	sink.RecordInteraction(context.Background(), telemetry.InteractionRecord{
		InteractionID:   "i1",
		SessionID:       "s1",
		Mode:            "single",
		Success:         true,
		Confidence:      0.8,
		ExecutionTimeMs: 12,
	})
}

func TestOtelSink_RecordSpanWithError(t *testing.T) {
	sink := telemetry.NewOtelSink(nil)
	sink.RecordSpan(context.Background(), telemetry.Span{
		Name:      "dispatch",
		Component: "orchestrator",
		Err:       context.DeadlineExceeded,
	})
}
