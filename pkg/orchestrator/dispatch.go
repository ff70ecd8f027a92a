package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/torqconsole/agentcore/pkg/agent"
	"github.com/torqconsole/agentcore/pkg/orcerr"
)

// dispatchResult carries one agent invocation's outcome plus timing,
// used by every execution mode to build a Contribution (spec §4.5
// "Dispatch contract").
type dispatchResult struct {
	AgentID    string
	Response   agent.Response
	Err        error
	LatencyMs  int64
}

// dispatch acquires entry (transitioning it busy -> ready), constructs a
// per-agent timeout, invokes it, and retries TransientError failures up
// to retryMaxN times with exponential backoff (spec §4.5 "Dispatch
// contract", §4.7 "Retries"). ValidationError, AuthError, and privileged
// tool failures are never retried.
func dispatch(ctx context.Context, registry *agent.Registry, entry *agent.Entry, in agent.Invocation,
	perAgentTimeout time.Duration, retryMaxN int, baseBackoff time.Duration) dispatchResult {

	agentID := entry.Descriptor.AgentID
	start := time.Now()

	if err := registry.Transition(agentID, agent.StatusBusy); err != nil {
		return dispatchResult{AgentID: agentID, Err: orcerr.Wrap(orcerr.KindInternalInvariant, "Orchestrator",
			"agent not dispatchable", err)}
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, perAgentTimeout)
	defer cancel()

	resp, err := invokeWithRetry(dispatchCtx, entry, in, retryMaxN, baseBackoff)
	latency := time.Since(start)

	finalStatus := agent.StatusReady
	if err != nil && (errors.Is(err, context.DeadlineExceeded) || orcerr.IsInternalInvariant(err)) {
		finalStatus = agent.StatusDegraded
	}
	_ = registry.Transition(agentID, finalStatus)

	return dispatchResult{AgentID: agentID, Response: resp, Err: err, LatencyMs: latency.Milliseconds()}
}

func invokeWithRetry(ctx context.Context, entry *agent.Entry, in agent.Invocation, retryMaxN int, baseBackoff time.Duration) (agent.Response, error) {
	op := func() (agent.Response, error) {
		resp, err := entry.Agent.Invoke(ctx, in)
		if err != nil && !orcerr.Retriable(err) {
			return resp, backoff.Permanent(err)
		}
		return resp, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = baseBackoff

	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(retryMaxN+1)),
	)
	return resp, err
}
