// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

// Package capability implements the capability registry: unforgeable
// random tokens mapped to immutable access records.
//
// A capability is the only way to reach a resource — there is no
// ambient authority and no public enumeration of issued tokens.
// Possession of a token's 128-bit value is possession of the access
// it grants, which is what lets agents delegate access by embedding
// a token verbatim in a free-text message.
//
// Re-delegation always creates a new record and may only narrow the
// permission set (attenuation). A widening observed inside the
// registry is a programming defect and panics rather than silently
// degrading access control.
package capability
