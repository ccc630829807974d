// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/warrant-foundation/warrant/lib/capability"
	"github.com/warrant-foundation/warrant/lib/resource"
	"github.com/warrant-foundation/warrant/lib/run"
)

// SpawnRequest describes a new run.
type SpawnRequest struct {
	// Prompt is the initial user turn. Optional for forked runs,
	// which inherit a transcript.
	Prompt string

	// Session owns the run when it is spawned from outside any run.
	// Exactly one of Session and ParentToken must be set.
	Session string

	// ParentToken marks the run as spawned from inside another run.
	// Requires execute permission; the new run becomes a child in the
	// ownership graph and cascades with its parent.
	ParentToken capability.Token

	// ResourceTokens are grants (backends, bundles, other runs) to
	// re-delegate to the new run. Each is validated before any side
	// effect; the new run receives its own attenuation-equal tokens,
	// never the caller's.
	ResourceTokens []capability.Token
}

// SpawnResult is the immediate answer to Spawn and Fork: the run
// exists and is starting, nothing has been awaited.
type SpawnResult struct {
	Token  capability.Token
	RunID  run.ID
	Status run.Status
}

// RunResult is the answer to the synchronous Run operation.
type RunResult struct {
	run.Result

	// Token grants access to the finished run for later Read calls.
	Token capability.Token

	// Transcript is the full transcript at the time Run returned.
	Transcript []run.Turn
}

// Spawn creates a run and issues its capability token without waiting
// for any output. The run executes concurrently; callers needing the
// result Await separately.
func (o *Orchestrator) Spawn(ctx context.Context, req SpawnRequest) (SpawnResult, error) {
	entry, token, err := o.provision(ctx, req, nil)
	if err != nil {
		return SpawnResult{}, err
	}
	o.startEngine(entry)
	return SpawnResult{Token: token, RunID: entry.run.ID(), Status: run.StatusStarting}, nil
}

// Run is the synchronous form of Spawn: it creates the run, blocks
// until it reaches a terminal state or timeout elapses, and returns
// the full result. On timeout the run is cancelled and transitions to
// the timeout state; every turn emitted before cancellation stays
// readable through the returned token.
func (o *Orchestrator) Run(ctx context.Context, req SpawnRequest, timeout time.Duration) (RunResult, error) {
	entry, token, err := o.provision(ctx, req, nil)
	if err != nil {
		return RunResult{}, err
	}
	o.startEngine(entry)

	var expired <-chan time.Time
	if timeout > 0 {
		expired = o.clock.After(timeout)
	}
	select {
	case <-entry.run.Done():
	case <-expired:
		entry.cancel()
		<-entry.run.Done()
	case <-ctx.Done():
		entry.cancel()
		<-entry.run.Done()
	}

	transcript, _, _ := entry.run.Transcript(0)
	return RunResult{
		Result:     entry.run.Result(),
		Token:      token,
		Transcript: transcript,
	}, nil
}

// Fork creates one new run per continuation message. Each child
// inherits the parent's full transcript up to the fork point and the
// parent's resource grants (re-delegated with identical permissions,
// not re-mounted), plus its own continuation appended as a user turn.
// Registration is all-or-nothing: either every child's token is
// issued or none is. All children execute concurrently.
//
// The parent may already be terminal — forking a finished run is the
// cheap way to evaluate N continuations of one expensive context.
func (o *Orchestrator) Fork(ctx context.Context, parentToken capability.Token, continuations []string) ([]SpawnResult, error) {
	if len(continuations) == 0 {
		return nil, fmt.Errorf("orchestrator: fork needs at least one continuation")
	}

	parent, record, err := o.resolveRun(parentToken, capability.PermExecute)
	if err != nil {
		return nil, err
	}
	parentID := run.ID(record.ResourceID)
	seed, _, _ := parent.Transcript(0)

	var grants []capability.Token
	if entry := o.entryFor(parentID); entry != nil {
		grants = entry.grants
	}

	// Provision every child before starting any engine, rolling the
	// whole batch back on the first failure so a partial fork is
	// never observable.
	entries := make([]*runEntry, 0, len(continuations))
	results := make([]SpawnResult, 0, len(continuations))
	for _, continuation := range continuations {
		req := SpawnRequest{
			Prompt:         continuation,
			ParentToken:    parentToken,
			ResourceTokens: grants,
		}
		entry, token, err := o.provisionChild(ctx, parentID, req, seed)
		if err != nil {
			for _, created := range entries {
				o.lifecycle.Cascade(created.run.ID())
			}
			return nil, fmt.Errorf("orchestrator: fork child %d: %w", len(entries), err)
		}
		entries = append(entries, entry)
		results = append(results, SpawnResult{Token: token, RunID: entry.run.ID(), Status: run.StatusStarting})
	}

	for _, entry := range entries {
		o.startEngine(entry)
	}
	o.logger.Info("forked run", "parent", parentID, "children", len(entries))
	return results, nil
}

// provision resolves the request's owner and builds the run without
// starting its engine. seed is the inherited transcript for forks.
func (o *Orchestrator) provision(ctx context.Context, req SpawnRequest, seed []run.Turn) (*runEntry, capability.Token, error) {
	switch {
	case !req.ParentToken.IsZero():
		_, record, err := o.resolveRun(req.ParentToken, capability.PermExecute)
		if err != nil {
			return nil, capability.Token{}, err
		}
		return o.provisionChild(ctx, run.ID(record.ResourceID), req, seed)
	case req.Session != "":
		return o.provisionRoot(ctx, req, seed)
	default:
		return nil, capability.Token{}, fmt.Errorf("orchestrator: spawn needs a session or a parent token")
	}
}

func (o *Orchestrator) provisionRoot(ctx context.Context, req SpawnRequest, seed []run.Turn) (*runEntry, capability.Token, error) {
	entry, token, err := o.buildRun(ctx, "", "session:"+req.Session, req, seed)
	if err != nil {
		return nil, capability.Token{}, err
	}
	o.lifecycle.BindSession(req.Session, entry.run.ID())
	return entry, token, nil
}

func (o *Orchestrator) provisionChild(ctx context.Context, parent run.ID, req SpawnRequest, seed []run.Turn) (*runEntry, capability.Token, error) {
	entry, token, err := o.buildRun(ctx, parent, string(parent), req, seed)
	if err != nil {
		return nil, capability.Token{}, err
	}
	o.lifecycle.AddEdge(parent, entry.run.ID())
	return entry, token, nil
}

// buildRun creates the run record, issues its token, re-delegates the
// requested resource grants, and registers everything. On any failure
// it unwinds completely: no token, no directory entry, no edge.
func (o *Orchestrator) buildRun(ctx context.Context, parent run.ID, owner string, req SpawnRequest, seed []run.Turn) (*runEntry, capability.Token, error) {
	// Validate every resource token before the first side effect.
	for _, resourceToken := range req.ResourceTokens {
		if _, err := o.registry.Validate(resourceToken); err != nil {
			return nil, capability.Token{}, err
		}
	}

	runID := newRunID()
	r := run.New(runID, parent, o.clock, seed)
	if req.Prompt != "" {
		if _, err := r.Append(run.RoleUser, req.Prompt); err != nil {
			return nil, capability.Token{}, err
		}
	}

	token, err := o.registry.Issue(capability.ResourceAgentRun, string(runID), capability.FullPermissions, owner)
	if err != nil {
		return nil, capability.Token{}, err
	}

	// Re-delegate each resource grant to the new run. A delegation
	// can lose a race with a concurrent revoke; unwind on failure.
	grants := make([]capability.Token, 0, len(req.ResourceTokens))
	for _, resourceToken := range req.ResourceTokens {
		record, err := o.registry.Validate(resourceToken)
		if err == nil {
			var delegated capability.Token
			delegated, err = o.registry.Delegate(resourceToken, record.Permissions, string(runID))
			if err == nil {
				grants = append(grants, delegated)
				continue
			}
		}
		for _, grant := range grants {
			o.registry.Revoke(grant)
		}
		o.registry.Revoke(token)
		return nil, capability.Token{}, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	entry := &runEntry{run: r, ctx: runCtx, cancel: cancel, grants: grants}

	o.directory.Register(resource.ID(runID), r)
	o.lifecycle.TrackRun(runID, func() {
		cancel()
		o.mu.Lock()
		delete(o.runs, runID)
		o.mu.Unlock()
	})

	o.mu.Lock()
	o.runs[runID] = entry
	o.mu.Unlock()

	o.logger.Debug("provisioned run",
		"run_id", runID,
		"owner", owner,
		"seed_turns", len(seed),
		"grants", len(grants),
	)
	return entry, token, nil
}

// startEngine transitions the run to running and launches its
// execution goroutine. The goroutine outlives the spawning request:
// its context is cancelled only by timeout enforcement, pruning, or
// cascade.
func (o *Orchestrator) startEngine(entry *runEntry) {
	r := entry.run
	r.Start()
	o.events.Publish(StatusChange{RunID: r.ID(), Status: run.StatusRunning})

	go func() {
		transcript, _, _ := r.Transcript(0)
		final, err := o.engine.Execute(entry.ctx, transcript, func(content string) error {
			_, appendErr := r.Append(run.RoleAgent, content)
			return appendErr
		})
		switch {
		case err == nil:
			r.Complete(final)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			// The orchestrator cancelled the run; the transcript
			// written so far is already durable in the run record.
			r.Expire()
		default:
			r.Fail(err.Error())
		}

		result := r.Result()
		o.logger.Info("run finished", "run_id", r.ID(), "status", result.Status)
		o.events.Publish(StatusChange{RunID: r.ID(), Status: result.Status})
	}()
}
