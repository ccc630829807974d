// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

// Package lifecycle tracks ownership edges between agent runs and
// performs cascading teardown.
//
// Ownership edges exist solely for cascade traversal — access
// decisions never consult them; those use capability tokens only.
// Cascade is the one place capabilities are revoked in bulk, and the
// only component with the authority to sweep the registry by owner.
package lifecycle

import (
	"log/slog"
	"sync"

	"github.com/warrant-foundation/warrant/lib/capability"
	"github.com/warrant-foundation/warrant/lib/resource"
	"github.com/warrant-foundation/warrant/lib/run"
)

// ownedResource is a non-run resource (backend, bundle) whose
// lifetime is bound to an owning run. close releases the live handle.
type ownedResource struct {
	id    resource.ID
	close func()
}

// Manager owns the parent→child run graph and performs cascade
// teardown across it. The registry and directory are injected — the
// manager holds the same instances the orchestrator mutates.
//
// Manager is safe for concurrent use. Cascades over disjoint subtrees
// serialize on the manager's lock but are semantically independent;
// a second cascade over an already-torn-down subtree is a no-op.
type Manager struct {
	registry  *capability.Registry
	directory *resource.Directory
	logger    *slog.Logger

	mu sync.Mutex

	// children maps a parent run to its directly spawned runs, in
	// spawn order.
	children map[run.ID][]run.ID

	// owned maps a run to the non-run resources it provisioned.
	owned map[run.ID][]ownedResource

	// sessions maps a session to the root runs it owns. Ending the
	// session cascades every root.
	sessions map[string][]run.ID

	// runTeardown holds the per-run teardown hook (cancel the
	// run's execution goroutine, drop orchestrator bookkeeping).
	runTeardown map[run.ID]func()
}

// NewManager creates a manager over the given registry and directory.
func NewManager(registry *capability.Registry, directory *resource.Directory, logger *slog.Logger) *Manager {
	return &Manager{
		registry:    registry,
		directory:   directory,
		logger:      logger,
		children:    make(map[run.ID][]run.ID),
		owned:       make(map[run.ID][]ownedResource),
		sessions:    make(map[string][]run.ID),
		runTeardown: make(map[run.ID]func()),
	}
}

// AddEdge records that parent spawned child. The orchestrator calls
// this under its spawn path, atomically with issuing the child's
// capability.
func (m *Manager) AddEdge(parent, child run.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.children[parent] = append(m.children[parent], child)
}

// TrackRun registers a teardown hook invoked when runID is cascaded.
// The orchestrator uses it to cancel the run's execution goroutine
// and drop its own bookkeeping. The hook runs at most once.
func (m *Manager) TrackRun(runID run.ID, teardown func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runTeardown[runID] = teardown
}

// AddOwnedResource binds a non-run resource's lifetime to owner.
// During cascade the resource's capability tokens are revoked, the
// directory entry removed, and close invoked (nil is allowed).
func (m *Manager) AddOwnedResource(owner run.ID, id resource.ID, close func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owned[owner] = append(m.owned[owner], ownedResource{id: id, close: close})
}

// BindSession records that session owns rootRun. A session may own
// any number of roots; EndSession cascades them all.
func (m *Manager) BindSession(session string, rootRun run.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session] = append(m.sessions[session], rootRun)
}

// EndSession cascades every root run owned by session and forgets
// the session. Unknown sessions are a no-op.
func (m *Manager) EndSession(session string) {
	m.mu.Lock()
	roots := m.sessions[session]
	delete(m.sessions, session)
	m.mu.Unlock()

	for _, root := range roots {
		m.Cascade(root)
	}
	if len(roots) > 0 {
		m.logger.Info("session ended", "session", session, "roots", len(roots))
	}
}

// Cascade tears down runID's entire subtree: children first (so a
// still-running child is never left holding a revoked grant
// mid-teardown), then the run's own capabilities, owned resources,
// and directory entry. Idempotent — a second cascade over the same
// subtree finds nothing to do.
func (m *Manager) Cascade(runID run.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cascadeLocked(runID)
}

func (m *Manager) cascadeLocked(runID run.ID) {
	// Children before parent.
	for _, child := range m.children[runID] {
		m.cascadeLocked(child)
	}
	delete(m.children, runID)

	// Revoke everything the run granted (child run capabilities,
	// re-delegations, resource grants) and everything that grants
	// access to the run itself.
	granted := m.registry.RevokeAllGrantedBy(string(runID))
	reaching := m.registry.RevokeAllForResource(string(runID))

	// Tear down resources the run provisioned.
	for _, owned := range m.owned[runID] {
		m.registry.RevokeAllForResource(string(owned.id))
		m.directory.Remove(owned.id)
		if owned.close != nil {
			owned.close()
		}
	}
	delete(m.owned, runID)

	// Cancel the run's execution goroutine before the directory
	// entry goes away, so a live engine never outlasts its record.
	if teardown, ok := m.runTeardown[runID]; ok {
		delete(m.runTeardown, runID)
		if teardown != nil {
			teardown()
		}
	}

	// Remove the run itself from the directory; the entry going away
	// is what makes Await/Read report the run as gone.
	m.directory.Remove(resource.ID(runID))

	if granted+reaching > 0 {
		m.logger.Debug("cascaded run",
			"run_id", runID,
			"revoked_granted", granted,
			"revoked_reaching", reaching,
		)
	}
}
