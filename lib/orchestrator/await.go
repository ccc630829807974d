// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/warrant-foundation/warrant/lib/capability"
	"github.com/warrant-foundation/warrant/lib/run"
)

// Await blocks until the run named by token reaches a terminal state
// or timeout elapses, and returns the result record. A timeout yields
// a result with the timeout status without cancelling the run —
// awaiting carries no ownership, only Run's own timeout cancels.
// Awaiting an already-terminal run returns the cached result
// immediately; repeated calls return identical records.
func (o *Orchestrator) Await(ctx context.Context, token capability.Token, timeout time.Duration) (run.Result, error) {
	r, _, err := o.resolveRun(token, capability.PermRead)
	if err != nil {
		return run.Result{}, err
	}
	return o.waitTerminal(ctx, r, timeout)
}

// AwaitMany waits on every token concurrently and returns results in
// the same order as the input tokens, regardless of completion order.
// A timeout on one run produces a timeout entry at its position
// without failing the others, so the total wait is the max of the
// individual waits, never the sum.
//
// Every token is validated before the first wait begins; any invalid
// token aborts the whole call with no waiting done.
func (o *Orchestrator) AwaitMany(ctx context.Context, tokens []capability.Token, timeout time.Duration) ([]run.Result, error) {
	runs := make([]*run.Run, len(tokens))
	for i, token := range tokens {
		r, _, err := o.resolveRun(token, capability.PermRead)
		if err != nil {
			return nil, err
		}
		runs[i] = r
	}

	results := make([]run.Result, len(runs))
	errs := make([]error, len(runs))
	var wg sync.WaitGroup
	for i, r := range runs {
		i, r := i, r
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = o.waitTerminal(ctx, r, timeout)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

// waitTerminal waits for one run with an optional timeout. Timeout
// produces a synthetic timeout result; context cancellation is the
// caller abandoning the wait and surfaces as an error.
func (o *Orchestrator) waitTerminal(ctx context.Context, r *run.Run, timeout time.Duration) (run.Result, error) {
	// An already-terminal run answers from its cached result without
	// consulting the timeout at all.
	select {
	case <-r.Done():
		return r.Result(), nil
	default:
	}

	var expired <-chan time.Time
	if timeout > 0 {
		expired = o.clock.After(timeout)
	}
	select {
	case <-r.Done():
		return r.Result(), nil
	case <-expired:
		return run.Result{RunID: r.ID(), Status: run.StatusTimeout}, nil
	case <-ctx.Done():
		return run.Result{}, ctx.Err()
	}
}
