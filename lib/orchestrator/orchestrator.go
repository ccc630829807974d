// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator creates, forks, and awaits agent runs.
//
// Every operation takes capability tokens, never raw run IDs, and
// begins by validating every token argument before causing any side
// effect — a validation failure aborts the whole operation with the
// registry left untouched. The orchestrator owns each run's execution
// goroutine; the lifecycle manager owns teardown and calls back into
// the orchestrator's per-run teardown hook during cascade.
package orchestrator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/warrant-foundation/warrant/lib/capability"
	"github.com/warrant-foundation/warrant/lib/clock"
	"github.com/warrant-foundation/warrant/lib/lifecycle"
	"github.com/warrant-foundation/warrant/lib/notify"
	"github.com/warrant-foundation/warrant/lib/resource"
	"github.com/warrant-foundation/warrant/lib/run"
)

// Errors returned by orchestrator operations. Token validation
// failures surface as capability.ErrInvalidToken; the kinds below
// cover the cases where the token itself checked out.
var (
	// ErrAgentGone means the token is valid but the run it names has
	// been pruned from the directory. Distinct from ErrInvalidToken,
	// which means the token was never valid or was revoked.
	ErrAgentGone = errors.New("orchestrator: run record pruned")

	// ErrInvalidState means the run cannot accept the operation in
	// its current state, such as send on a terminal run.
	ErrInvalidState = errors.New("orchestrator: run is terminal")

	// ErrPermissionDenied means the capability checked out but does
	// not carry the permission the operation needs. It is a state
	// failure, not a token failure — an attenuated read-only grant is
	// still a real grant.
	ErrPermissionDenied = errors.New("orchestrator: capability does not permit this operation")
)

// StatusChange is published on the orchestrator's event hub whenever
// a run changes status.
type StatusChange struct {
	RunID  run.ID
	Status run.Status
}

// runEntry is the orchestrator's bookkeeping for one run: the cancel
// handle for its execution goroutine and the resource grant tokens
// delegated to it at creation (re-delegated again on fork).
type runEntry struct {
	run    *run.Run
	ctx    context.Context
	cancel context.CancelFunc
	grants []capability.Token
}

// Orchestrator implements the run operation surface. All collaborators
// are injected; tests build as many independent orchestrators as they
// need.
//
// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	registry  *capability.Registry
	directory *resource.Directory
	lifecycle *lifecycle.Manager
	engine    run.Engine
	clock     clock.Clock
	logger    *slog.Logger
	events    *notify.Hub[StatusChange]

	mu   sync.Mutex
	runs map[run.ID]*runEntry
}

// New creates an orchestrator over the given collaborators. The
// registry, directory, and lifecycle manager must be the same
// instances — lifecycle cascade revokes tokens the orchestrator
// issued and removes directory entries the orchestrator registered.
func New(registry *capability.Registry, directory *resource.Directory, manager *lifecycle.Manager, engine run.Engine, clk clock.Clock, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		registry:  registry,
		directory: directory,
		lifecycle: manager,
		engine:    engine,
		clock:     clk,
		logger:    logger,
		events:    notify.NewHub[StatusChange](logger),
		runs:      make(map[run.ID]*runEntry),
	}
}

// Events returns the hub publishing run status transitions. Observers
// are notified synchronously with per-observer failure isolation.
func (o *Orchestrator) Events() *notify.Hub[StatusChange] {
	return o.events
}

// newRunID generates a fresh run identifier. Run IDs are not secrets
// (access goes through tokens), they only need to be unique.
func newRunID() run.ID {
	var raw [8]byte
	if _, err := rand.Read(raw[:]); err != nil {
		panic(fmt.Sprintf("orchestrator: reading entropy for run ID: %v", err))
	}
	return run.ID("run-" + hex.EncodeToString(raw[:]))
}

// resolveRun validates token, checks that it names an agent run
// carrying the needed permission, and resolves the live run from the
// directory.
func (o *Orchestrator) resolveRun(token capability.Token, need capability.Permissions) (*run.Run, capability.Capability, error) {
	record, err := o.registry.Validate(token)
	if err != nil {
		return nil, capability.Capability{}, err
	}
	if record.ResourceType != capability.ResourceAgentRun {
		return nil, capability.Capability{}, fmt.Errorf("%w: token names a %s, not an agent run",
			ErrPermissionDenied, record.ResourceType)
	}
	if !record.Permissions.Has(need) {
		return nil, capability.Capability{}, fmt.Errorf("%w: need %s, capability holds %s",
			ErrPermissionDenied, need, record.Permissions)
	}

	handle, err := o.directory.Lookup(resource.ID(record.ResourceID))
	if err != nil {
		return nil, capability.Capability{}, fmt.Errorf("%w: run %s", ErrAgentGone, record.ResourceID)
	}
	r, ok := handle.(*run.Run)
	if !ok {
		return nil, capability.Capability{}, fmt.Errorf("%w: run %s", ErrAgentGone, record.ResourceID)
	}
	return r, record, nil
}

// entryFor returns the bookkeeping entry for a run, or nil if the run
// has been torn down.
func (o *Orchestrator) entryFor(id run.ID) *runEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runs[id]
}

// Prune drops a run's directory entry and bookkeeping without
// touching its tokens. Holders of still-valid tokens subsequently get
// ErrAgentGone. This is the housekeeping path for terminal runs whose
// transcripts have been shipped to durable history.
func (o *Orchestrator) Prune(id run.ID) {
	o.mu.Lock()
	entry := o.runs[id]
	delete(o.runs, id)
	o.mu.Unlock()

	if entry != nil {
		entry.cancel()
	}
	o.directory.Remove(resource.ID(id))
	o.logger.Debug("pruned run", "run_id", id)
}
