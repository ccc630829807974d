// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"fmt"
	"time"
)

// ResourceType tags which directory a capability's resource lives in.
type ResourceType string

const (
	// ResourceAgentRun is an executing or completed agent run.
	ResourceAgentRun ResourceType = "agent_run"

	// ResourceDelegatedBackend is a long-lived service instance
	// (e.g. a sandboxed execution backend) shared between runs.
	ResourceDelegatedBackend ResourceType = "delegated_backend"

	// ResourceSharedBundle is a read-only content-addressed snapshot
	// of files.
	ResourceSharedBundle ResourceType = "shared_bundle"
)

// Valid reports whether t is one of the known resource types.
func (t ResourceType) Valid() bool {
	switch t {
	case ResourceAgentRun, ResourceDelegatedBackend, ResourceSharedBundle:
		return true
	}
	return false
}

// Capability is the atomic access-control record. Records are
// immutable after creation: the registry stores and returns copies,
// and re-delegation mints a new record rather than mutating one.
type Capability struct {
	// Token is the unforgeable reference for this record.
	Token Token

	// ResourceType tags the directory the resource lives in.
	ResourceType ResourceType

	// ResourceID identifies the resource within its directory.
	ResourceID string

	// Permissions is the access granted through this capability.
	// A subset of what the granter held at the moment of grant.
	Permissions Permissions

	// GrantedBy is the run that caused this capability to exist.
	// Cascade teardown of that run's subtree revokes this record.
	GrantedBy string

	// IssuedAt is when the registry minted this record.
	IssuedAt time.Time

	// ExpiresAt is an optional deadline. The zero time means the
	// capability lives as long as its granter's subtree.
	ExpiresAt time.Time
}

// Expired reports whether the capability has a deadline that has
// passed as of now.
func (c Capability) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

func (c Capability) String() string {
	return fmt.Sprintf("%s %s perms=%s granted_by=%s", c.ResourceType, c.ResourceID, c.Permissions, c.GrantedBy)
}
