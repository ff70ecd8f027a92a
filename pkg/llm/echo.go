package llm

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Echo is a reference Provider that echoes its prompt back, prefixed and
// call-counted, grounded on the teacher's echo-llm plugin
// (examples/plugins/echo-llm/main.go). It performs no real generation and
// exists so the Router and Orchestrator are testable without a live
// vendor integration.
type Echo struct {
	Prefix    string
	callCount atomic.Int64
}

func NewEcho(prefix string) *Echo {
	if prefix == "" {
		prefix = "Echo: "
	}
	return &Echo{Prefix: prefix}
}

func (e *Echo) Generate(ctx context.Context, prompt string, params GenerateParams) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	n := e.callCount.Add(1)
	return fmt.Sprintf("%s%s (call #%d)", e.Prefix, prompt, n), nil
}

// Embed returns a deterministic low-dimensional embedding derived from
// prompt length and byte sum, sufficient for exercising cosine-similarity
// code paths in tests without a real embedding model.
func (e *Echo) Embed(ctx context.Context, text string) ([]float32, error) {
	var sum float32
	for _, b := range []byte(text) {
		sum += float32(b)
	}
	return []float32{float32(len(text)), sum}, nil
}
