// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"context"
	"errors"

	"github.com/warrant-foundation/warrant/lib/capability"
	"github.com/warrant-foundation/warrant/lib/orchestrator"
)

// Error kinds carried in failure responses. Stable strings — callers
// branch on these without parsing messages. All four are recoverable
// by the caller; none is ever escalated to a process-fatal condition.
const (
	// KindInvalidToken: the token is absent from the registry, was
	// revoked, or the resource it named has been torn down. Never
	// distinguishes which, to prevent enumeration.
	KindInvalidToken = "invalid_token"

	// KindAgentGone: the token is valid but the run's record has
	// been pruned.
	KindAgentGone = "agent_gone"

	// KindTimeout: the run did not reach a terminal state within the
	// caller's bound.
	KindTimeout = "timeout"

	// KindInvalidState: the run or capability cannot accept the
	// operation — send on a terminal run, write through a read-only
	// grant.
	KindInvalidState = "invalid_state"
)

// KindForError maps an operation error to its wire kind. Errors
// outside the taxonomy map to the empty string and should be reported
// as plain failures.
func KindForError(err error) string {
	switch {
	case errors.Is(err, capability.ErrInvalidToken):
		return KindInvalidToken
	case errors.Is(err, orchestrator.ErrAgentGone):
		return KindAgentGone
	case errors.Is(err, orchestrator.ErrInvalidState),
		errors.Is(err, orchestrator.ErrPermissionDenied),
		errors.Is(err, capability.ErrPermissionEscalation):
		return KindInvalidState
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	default:
		return ""
	}
}
