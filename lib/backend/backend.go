// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

// Package backend wraps long-lived service instances in capability
// tokens.
//
// A delegated backend is a live handle (a sandboxed execution
// backend, a scoped credential service) provisioned once and then
// shared: granting a child run access means delegating the token, not
// provisioning a second instance. The actual provisioning is an
// external collaborator behind the Provisioner interface.
package backend

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"

	"github.com/warrant-foundation/warrant/lib/capability"
	"github.com/warrant-foundation/warrant/lib/resource"
)

// Handle is a usable connection to a provisioned backend instance.
type Handle interface {
	Close() error
}

// Spec describes what to provision. Kind selects the backend flavor;
// Options are flavor-specific settings passed through untouched.
type Spec struct {
	Kind    string            `cbor:"kind"`
	Options map[string]string `cbor:"options,omitempty"`
}

// Provisioner creates live backend instances. External collaborator —
// the service never inspects what a handle actually is.
type Provisioner interface {
	Provision(ctx context.Context, spec Spec) (Handle, error)
}

// Service provisions backends and resolves tokens to their live
// handles. Safe for concurrent use.
type Service struct {
	registry    *capability.Registry
	directory   *resource.Directory
	provisioner Provisioner
	logger      *slog.Logger

	mu      sync.Mutex
	handles map[resource.ID]Handle
}

// NewService creates a backend service over the given collaborators.
func NewService(registry *capability.Registry, directory *resource.Directory, provisioner Provisioner, logger *slog.Logger) *Service {
	return &Service{
		registry:    registry,
		directory:   directory,
		provisioner: provisioner,
		logger:      logger,
		handles:     make(map[resource.ID]Handle),
	}
}

// Create provisions one backend instance and issues a full-permission
// capability for it. Every Create provisions fresh — sharing an
// instance is done by delegating the returned token, never by calling
// Create again.
func (s *Service) Create(ctx context.Context, spec Spec, grantedBy string) (capability.Token, error) {
	handle, err := s.provisioner.Provision(ctx, spec)
	if err != nil {
		return capability.Token{}, fmt.Errorf("backend: provisioning %q: %w", spec.Kind, err)
	}

	id := newBackendID()
	token, err := s.registry.Issue(capability.ResourceDelegatedBackend, string(id), capability.FullPermissions, grantedBy)
	if err != nil {
		handle.Close()
		return capability.Token{}, err
	}

	s.mu.Lock()
	s.handles[id] = handle
	s.mu.Unlock()
	s.directory.Register(id, handle)

	s.logger.Info("backend provisioned", "backend_id", id, "kind", spec.Kind, "granted_by", grantedBy)
	return token, nil
}

// Attach resolves a token to the live handle for use inside a run's
// resource set. Requires execute permission. A token whose backend
// has been torn down fails as an invalid token.
func (s *Service) Attach(token capability.Token) (Handle, error) {
	record, err := s.registry.Validate(token)
	if err != nil {
		return nil, err
	}
	if record.ResourceType != capability.ResourceDelegatedBackend {
		return nil, fmt.Errorf("backend: token names a %s, not a delegated backend", record.ResourceType)
	}
	if !record.Permissions.Has(capability.PermExecute) {
		return nil, fmt.Errorf("backend: capability lacks execute permission")
	}

	handle, err := s.directory.Lookup(resource.ID(record.ResourceID))
	if err != nil {
		return nil, fmt.Errorf("%w: backend %s is gone", capability.ErrInvalidToken, record.ResourceID)
	}
	attached, ok := handle.(Handle)
	if !ok {
		return nil, fmt.Errorf("%w: backend %s is gone", capability.ErrInvalidToken, record.ResourceID)
	}
	return attached, nil
}

// Teardown closes a backend and invalidates every token that reached
// it. Idempotent; the lifecycle manager calls this from cascade for
// backends owned by a torn-down run.
func (s *Service) Teardown(id resource.ID) {
	s.mu.Lock()
	handle, ok := s.handles[id]
	delete(s.handles, id)
	s.mu.Unlock()

	s.registry.RevokeAllForResource(string(id))
	s.directory.Remove(id)

	if ok {
		if err := handle.Close(); err != nil {
			s.logger.Warn("backend close failed", "backend_id", id, "error", err)
		}
		s.logger.Info("backend torn down", "backend_id", id)
	}
}

// newBackendID generates a fresh backend identifier. Not a secret —
// access goes through tokens.
func newBackendID() resource.ID {
	var raw [8]byte
	if _, err := rand.Read(raw[:]); err != nil {
		panic(fmt.Sprintf("backend: reading entropy for backend ID: %v", err))
	}
	return resource.ID("backend-" + hex.EncodeToString(raw[:]))
}
