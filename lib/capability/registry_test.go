// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"errors"
	"testing"
	"time"

	"github.com/warrant-foundation/warrant/lib/clock"
)

func testRegistry() (*Registry, *clock.FakeClock) {
	fake := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewRegistry(fake), fake
}

func TestIssueThenValidate(t *testing.T) {
	t.Parallel()
	registry, fake := testRegistry()

	token, err := registry.Issue(ResourceAgentRun, "run-1", FullPermissions, "run-parent")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if token.IsZero() {
		t.Fatal("Issue returned zero token")
	}

	record, err := registry.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if record.ResourceType != ResourceAgentRun {
		t.Errorf("ResourceType = %q, want %q", record.ResourceType, ResourceAgentRun)
	}
	if record.ResourceID != "run-1" {
		t.Errorf("ResourceID = %q, want %q", record.ResourceID, "run-1")
	}
	if record.Permissions != FullPermissions {
		t.Errorf("Permissions = %s, want %s", record.Permissions, FullPermissions)
	}
	if record.GrantedBy != "run-parent" {
		t.Errorf("GrantedBy = %q, want %q", record.GrantedBy, "run-parent")
	}
	if !record.IssuedAt.Equal(fake.Now()) {
		t.Errorf("IssuedAt = %v, want %v", record.IssuedAt, fake.Now())
	}
	if record.Token != token {
		t.Error("record does not carry its own token")
	}
}

func TestValidateUnknownToken(t *testing.T) {
	t.Parallel()
	registry, _ := testRegistry()

	if _, err := registry.Validate(NewToken()); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Validate(unissued) = %v, want ErrInvalidToken", err)
	}
	if _, err := registry.Validate(Token{}); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Validate(zero) = %v, want ErrInvalidToken", err)
	}
}

func TestValidationFailureIsUniform(t *testing.T) {
	t.Parallel()
	registry, fake := testRegistry()

	// Revoked, expired, and never-issued tokens must be
	// indistinguishable to the caller.
	revoked, err := registry.Issue(ResourceAgentRun, "run-1", FullPermissions, "owner")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	registry.Revoke(revoked)

	expired, err := registry.IssueWithExpiry(ResourceAgentRun, "run-2", FullPermissions, "owner", fake.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("IssueWithExpiry: %v", err)
	}
	fake.Advance(2 * time.Minute)

	for name, token := range map[string]Token{
		"revoked":      revoked,
		"expired":      expired,
		"never-issued": NewToken(),
	} {
		_, err := registry.Validate(token)
		if !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: Validate = %v, want ErrInvalidToken", name, err)
		}
		if err.Error() != ErrInvalidToken.Error() {
			t.Errorf("%s: error text %q leaks failure cause", name, err)
		}
	}
}

func TestRevokeIsIdempotent(t *testing.T) {
	t.Parallel()
	registry, _ := testRegistry()

	token, err := registry.Issue(ResourceSharedBundle, "bundle-1", PermRead, "owner")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	registry.Revoke(token)
	registry.Revoke(token) // second revoke is a no-op
	registry.Revoke(NewToken())

	if _, err := registry.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Validate after revoke = %v, want ErrInvalidToken", err)
	}
}

func TestDelegateAttenuates(t *testing.T) {
	t.Parallel()
	registry, _ := testRegistry()

	parent, err := registry.Issue(ResourceAgentRun, "run-1", PermRead|PermWrite, "run-a")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	child, err := registry.Delegate(parent, PermRead, "run-b")
	if err != nil {
		t.Fatalf("Delegate: %v", err)
	}

	childRecord, err := registry.Validate(child)
	if err != nil {
		t.Fatalf("Validate(child): %v", err)
	}
	parentRecord, err := registry.Validate(parent)
	if err != nil {
		t.Fatalf("Validate(parent): %v", err)
	}

	if !childRecord.Permissions.Subset(parentRecord.Permissions) {
		t.Errorf("child permissions %s not a subset of parent %s",
			childRecord.Permissions, parentRecord.Permissions)
	}
	if childRecord.ResourceID != parentRecord.ResourceID {
		t.Errorf("child resource %q != parent resource %q",
			childRecord.ResourceID, parentRecord.ResourceID)
	}
	if childRecord.GrantedBy != "run-b" {
		t.Errorf("child GrantedBy = %q, want %q", childRecord.GrantedBy, "run-b")
	}
	// The parent record is unchanged: delegation creates, never mutates.
	if parentRecord.Permissions != PermRead|PermWrite {
		t.Errorf("parent permissions changed to %s", parentRecord.Permissions)
	}
}

func TestDelegateRejectsEscalation(t *testing.T) {
	t.Parallel()
	registry, _ := testRegistry()

	parent, err := registry.Issue(ResourceAgentRun, "run-1", PermRead, "run-a")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	_, err = registry.Delegate(parent, PermRead|PermWrite, "run-b")
	if !errors.Is(err, ErrPermissionEscalation) {
		t.Errorf("Delegate(widening) = %v, want ErrPermissionEscalation", err)
	}
	if errors.Is(err, ErrInvalidToken) {
		t.Error("escalation must not be reported as an invalid token")
	}
}

func TestDelegateFromRevokedParent(t *testing.T) {
	t.Parallel()
	registry, _ := testRegistry()

	parent, err := registry.Issue(ResourceAgentRun, "run-1", FullPermissions, "run-a")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	registry.Revoke(parent)

	if _, err := registry.Delegate(parent, PermRead, "run-b"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Delegate(revoked parent) = %v, want ErrInvalidToken", err)
	}
}

func TestRevokeChildLeavesParentValid(t *testing.T) {
	t.Parallel()
	registry, _ := testRegistry()

	parent, err := registry.Issue(ResourceAgentRun, "run-1", FullPermissions, "run-a")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	child, err := registry.Delegate(parent, PermRead, "run-b")
	if err != nil {
		t.Fatalf("Delegate: %v", err)
	}

	registry.Revoke(child)

	if _, err := registry.Validate(parent); err != nil {
		t.Errorf("parent invalidated by child revocation: %v", err)
	}
}

func TestRevokeAllGrantedBy(t *testing.T) {
	t.Parallel()
	registry, _ := testRegistry()

	var owned []Token
	for n := 0; n < 3; n++ {
		token, err := registry.Issue(ResourceAgentRun, "run-x", FullPermissions, "run-owner")
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		owned = append(owned, token)
	}
	other, err := registry.Issue(ResourceAgentRun, "run-y", FullPermissions, "run-other")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if revoked := registry.RevokeAllGrantedBy("run-owner"); revoked != 3 {
		t.Errorf("RevokeAllGrantedBy = %d, want 3", revoked)
	}

	for _, token := range owned {
		if _, err := registry.Validate(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("owned token survived owner teardown: %v", err)
		}
	}
	if _, err := registry.Validate(other); err != nil {
		t.Errorf("unrelated token revoked by teardown: %v", err)
	}
}

func TestIssueRejectsBadInput(t *testing.T) {
	t.Parallel()
	registry, _ := testRegistry()

	if _, err := registry.Issue("volume", "id", FullPermissions, "owner"); err == nil {
		t.Error("Issue accepted unknown resource type")
	}
	if _, err := registry.Issue(ResourceAgentRun, "", FullPermissions, "owner"); err == nil {
		t.Error("Issue accepted empty resource ID")
	}
}
