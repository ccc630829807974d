// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/warrant-foundation/warrant/lib/capability"
	"github.com/warrant-foundation/warrant/lib/clock"
	"github.com/warrant-foundation/warrant/lib/resource"
	"github.com/warrant-foundation/warrant/lib/run"
)

type fixture struct {
	registry  *capability.Registry
	directory *resource.Directory
	manager   *Manager
}

func newFixture() *fixture {
	registry := capability.NewRegistry(clock.Fake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
	directory := resource.NewDirectory()
	return &fixture{
		registry:  registry,
		directory: directory,
		manager:   NewManager(registry, directory, slog.Default()),
	}
}

// addRun registers a run in the directory and issues its capability
// token granted by the given owner.
func (f *fixture) addRun(t *testing.T, id run.ID, grantedBy string) capability.Token {
	t.Helper()
	f.directory.Register(resource.ID(id), "run-handle")
	token, err := f.registry.Issue(capability.ResourceAgentRun, string(id), capability.FullPermissions, grantedBy)
	if err != nil {
		t.Fatalf("Issue(%s): %v", id, err)
	}
	return token
}

func (f *fixture) assertRevoked(t *testing.T, name string, token capability.Token) {
	t.Helper()
	if _, err := f.registry.Validate(token); !errors.Is(err, capability.ErrInvalidToken) {
		t.Errorf("%s token still valid after cascade: %v", name, err)
	}
}

func TestCascadeRevokesSubtree(t *testing.T) {
	t.Parallel()
	f := newFixture()

	// root spawns a and b; a spawns a1.
	rootToken := f.addRun(t, "root", "session:s1")
	aToken := f.addRun(t, "a", "root")
	bToken := f.addRun(t, "b", "root")
	a1Token := f.addRun(t, "a1", "a")
	f.manager.AddEdge("root", "a")
	f.manager.AddEdge("root", "b")
	f.manager.AddEdge("a", "a1")

	f.manager.Cascade("root")

	f.assertRevoked(t, "root", rootToken)
	f.assertRevoked(t, "a", aToken)
	f.assertRevoked(t, "b", bToken)
	f.assertRevoked(t, "a1", a1Token)

	for _, id := range []resource.ID{"root", "a", "b", "a1"} {
		if _, err := f.directory.Lookup(id); !errors.Is(err, resource.ErrNotFound) {
			t.Errorf("run %s still in directory after cascade", id)
		}
	}
}

func TestCascadeLeavesSiblingsAlone(t *testing.T) {
	t.Parallel()
	f := newFixture()

	aToken := f.addRun(t, "a", "root")
	bToken := f.addRun(t, "b", "root")
	f.manager.AddEdge("root", "a")
	f.manager.AddEdge("root", "b")

	f.manager.Cascade("a")

	f.assertRevoked(t, "a", aToken)
	if _, err := f.registry.Validate(bToken); err != nil {
		t.Errorf("sibling b revoked by cascade of a: %v", err)
	}
	if _, err := f.directory.Lookup("b"); err != nil {
		t.Errorf("sibling b removed from directory: %v", err)
	}
}

func TestCascadeIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture()

	f.addRun(t, "root", "session:s1")
	f.addRun(t, "child", "root")
	f.manager.AddEdge("root", "child")

	f.manager.Cascade("root")
	f.manager.Cascade("root") // second cascade finds nothing
}

func TestCascadeRevokesDelegations(t *testing.T) {
	t.Parallel()
	f := newFixture()

	// An outside run delegates access to itself to the doomed run's
	// subtree; the delegation dies with the subtree, the original
	// survives.
	outsideToken := f.addRun(t, "outside", "elsewhere")
	f.addRun(t, "doomed", "session:s1")

	delegated, err := f.registry.Delegate(outsideToken, capability.PermRead, "doomed")
	if err != nil {
		t.Fatalf("Delegate: %v", err)
	}

	f.manager.Cascade("doomed")

	f.assertRevoked(t, "delegated", delegated)
	if _, err := f.registry.Validate(outsideToken); err != nil {
		t.Errorf("outside token revoked by unrelated cascade: %v", err)
	}
}

func TestCascadeClosesOwnedResources(t *testing.T) {
	t.Parallel()
	f := newFixture()

	f.addRun(t, "owner", "session:s1")

	f.directory.Register("backend-1", "backend-handle")
	backendToken, err := f.registry.Issue(capability.ResourceDelegatedBackend, "backend-1", capability.FullPermissions, "owner")
	if err != nil {
		t.Fatalf("Issue(backend): %v", err)
	}

	closed := false
	f.manager.AddOwnedResource("owner", "backend-1", func() { closed = true })

	f.manager.Cascade("owner")

	if !closed {
		t.Error("owned resource not closed by cascade")
	}
	f.assertRevoked(t, "backend", backendToken)
	if _, err := f.directory.Lookup("backend-1"); !errors.Is(err, resource.ErrNotFound) {
		t.Error("backend still in directory after cascade")
	}
}

func TestCascadeRunsTeardownHookOnce(t *testing.T) {
	t.Parallel()
	f := newFixture()

	f.addRun(t, "tracked", "session:s1")

	torn := 0
	f.manager.TrackRun("tracked", func() { torn++ })

	f.manager.Cascade("tracked")
	f.manager.Cascade("tracked")

	if torn != 1 {
		t.Errorf("teardown hook ran %d times, want 1", torn)
	}
}

func TestEndSessionCascadesTwoLevels(t *testing.T) {
	t.Parallel()
	f := newFixture()

	// spawn A from the session; from inside A, spawn B. Ending the
	// session must invalidate both tokens.
	aToken := f.addRun(t, "A", "session:s1")
	bToken := f.addRun(t, "B", "A")
	f.manager.BindSession("s1", "A")
	f.manager.AddEdge("A", "B")

	f.manager.EndSession("s1")

	f.assertRevoked(t, "A", aToken)
	f.assertRevoked(t, "B", bToken)

	// Ending again is a no-op.
	f.manager.EndSession("s1")
}
