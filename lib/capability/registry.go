// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/warrant-foundation/warrant/lib/clock"
)

// Errors returned by registry operations.
var (
	// ErrInvalidToken is the single failure for every validation
	// miss: never issued, revoked, expired, or malformed. Collapsing
	// the cases prevents a caller from probing which tokens once
	// existed.
	ErrInvalidToken = errors.New("capability: invalid token")

	// ErrPermissionEscalation is returned when a delegation requests
	// permissions the parent capability does not hold.
	ErrPermissionEscalation = errors.New("capability: delegation would widen permissions")
)

// Registry is the in-memory capability store. It is a plain injected
// value, never a package global — orchestrator and lifecycle manager
// receive the same instance at construction time, and tests create
// as many independent registries as they need.
//
// Registry is safe for concurrent use.
type Registry struct {
	clock clock.Clock

	mu      sync.Mutex
	records map[Token]Capability
}

// NewRegistry creates an empty registry using clk for expiry checks.
func NewRegistry(clk clock.Clock) *Registry {
	return &Registry{
		clock:   clk,
		records: make(map[Token]Capability),
	}
}

// Issue mints a capability for a resource and stores it, returning
// the new token. Issuance is atomic: the token is generated and the
// record stored under one lock acquisition, so no two callers can
// observe a colliding token.
func (r *Registry) Issue(resourceType ResourceType, resourceID string, permissions Permissions, grantedBy string) (Token, error) {
	return r.issue(resourceType, resourceID, permissions, grantedBy, time.Time{})
}

// IssueWithExpiry is like Issue but stamps an explicit deadline after
// which validation fails. Use this for grants that should outlive
// neither a wall-clock bound nor their granter's subtree, whichever
// comes first.
func (r *Registry) IssueWithExpiry(resourceType ResourceType, resourceID string, permissions Permissions, grantedBy string, expiresAt time.Time) (Token, error) {
	return r.issue(resourceType, resourceID, permissions, grantedBy, expiresAt)
}

func (r *Registry) issue(resourceType ResourceType, resourceID string, permissions Permissions, grantedBy string, expiresAt time.Time) (Token, error) {
	if !resourceType.Valid() {
		return Token{}, fmt.Errorf("capability: unknown resource type %q", resourceType)
	}
	if resourceID == "" {
		return Token{}, fmt.Errorf("capability: resource ID is required")
	}

	record := Capability{
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Permissions:  permissions,
		GrantedBy:    grantedBy,
		IssuedAt:     r.clock.Now(),
		ExpiresAt:    expiresAt,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.storeLocked(record), nil
}

// Delegate mints a new capability for the same resource as parent,
// carrying at most the parent's permissions (attenuation). The parent
// record is untouched; revoking the child later does not affect it.
//
// The child gets an independent lifetime: no implicit expiry tied to
// the parent. It is revoked explicitly or when grantedBy's subtree
// cascades.
func (r *Registry) Delegate(parent Token, permissions Permissions, grantedBy string) (Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	parentRecord, err := r.validateLocked(parent)
	if err != nil {
		return Token{}, err
	}
	if !permissions.Subset(parentRecord.Permissions) {
		return Token{}, fmt.Errorf("%w: requested %s, granter holds %s",
			ErrPermissionEscalation, permissions, parentRecord.Permissions)
	}

	child := Capability{
		ResourceType: parentRecord.ResourceType,
		ResourceID:   parentRecord.ResourceID,
		Permissions:  permissions,
		GrantedBy:    grantedBy,
		IssuedAt:     r.clock.Now(),
	}

	// The subset check above makes widening unreachable. If it is
	// ever observed here regardless, access control is broken by a
	// programming defect, not by caller input — abort loudly.
	if !child.Permissions.Subset(parentRecord.Permissions) {
		panic(fmt.Sprintf("capability: invariant violation: delegated %s exceeds granter %s",
			child.Permissions, parentRecord.Permissions))
	}

	return r.storeLocked(child), nil
}

// Validate looks up the record for a token. It has no side effects.
// Every failure is ErrInvalidToken.
func (r *Registry) Validate(token Token) (Capability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.validateLocked(token)
}

// Revoke removes a single record. Revoking an unknown token is a
// no-op, which makes cascade teardown idempotent.
func (r *Registry) Revoke(token Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, token)
}

// RevokeAllGrantedBy removes every record whose GrantedBy matches
// owner, returning how many were revoked. This is the lifecycle
// manager's teardown primitive; there is deliberately no public
// listing operation, so holders of other tokens learn nothing from
// a teardown they did not trigger.
func (r *Registry) RevokeAllGrantedBy(owner string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	revoked := 0
	for token, record := range r.records {
		if record.GrantedBy == owner {
			delete(r.records, token)
			revoked++
		}
	}
	return revoked
}

// RevokeAllForResource removes every record that names resourceID,
// returning how many were revoked. Together with RevokeAllGrantedBy
// this is the cascade sweep: tokens granted *by* a run and tokens
// reaching *into* it both die with it.
func (r *Registry) RevokeAllForResource(resourceID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	revoked := 0
	for token, record := range r.records {
		if record.ResourceID == resourceID {
			delete(r.records, token)
			revoked++
		}
	}
	return revoked
}

// storeLocked generates a token, stamps it into record, and stores
// the record. Caller must hold r.mu.
func (r *Registry) storeLocked(record Capability) Token {
	token := NewToken()
	// 128-bit collisions are cryptographically negligible, but the
	// registry is the last line of defense for token uniqueness, so
	// regenerate rather than overwrite if one ever occurs.
	for {
		if _, exists := r.records[token]; !exists {
			break
		}
		token = NewToken()
	}
	record.Token = token
	r.records[token] = record
	return token
}

// validateLocked performs the lookup and expiry check. Caller must
// hold r.mu.
func (r *Registry) validateLocked(token Token) (Capability, error) {
	if token.IsZero() {
		return Capability{}, ErrInvalidToken
	}
	record, exists := r.records[token]
	if !exists {
		return Capability{}, ErrInvalidToken
	}
	if record.Expired(r.clock.Now()) {
		return Capability{}, ErrInvalidToken
	}
	return record, nil
}
