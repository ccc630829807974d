// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"fmt"
	"strings"
)

// Permissions is a set of access rights on a resource. Capabilities
// start with the full set at creation and may only lose bits on
// re-delegation.
type Permissions uint8

const (
	// PermRead allows inspecting a resource (transcript reads,
	// bundle file reads).
	PermRead Permissions = 1 << iota

	// PermWrite allows mutating a resource (sending follow-up
	// messages to a run).
	PermWrite

	// PermExecute allows using a resource as an execution surface
	// (attaching a delegated backend, forking a run).
	PermExecute
)

// FullPermissions is the set granted at creation time.
const FullPermissions = PermRead | PermWrite | PermExecute

// permissionNames is ordered by bit position for canonical text form.
var permissionNames = []struct {
	bit  Permissions
	name string
}{
	{PermRead, "read"},
	{PermWrite, "write"},
	{PermExecute, "execute"},
}

// Has reports whether every bit of want is present in p.
func (p Permissions) Has(want Permissions) bool {
	return p&want == want
}

// Subset reports whether p is a subset of other. The empty set is a
// subset of everything.
func (p Permissions) Subset(other Permissions) bool {
	return p&^other == 0
}

// String returns the canonical comma-joined form, e.g. "read,write".
// The empty set renders as "none".
func (p Permissions) String() string {
	var parts []string
	for _, entry := range permissionNames {
		if p.Has(entry.bit) {
			parts = append(parts, entry.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

// ParsePermissions parses the canonical comma-joined form.
func ParsePermissions(text string) (Permissions, error) {
	if text == "" || text == "none" {
		return 0, nil
	}
	var result Permissions
	for _, part := range strings.Split(text, ",") {
		matched := false
		for _, entry := range permissionNames {
			if part == entry.name {
				result |= entry.bit
				matched = true
				break
			}
		}
		if !matched {
			return 0, fmt.Errorf("capability: unknown permission %q", part)
		}
	}
	return result, nil
}

// MarshalText implements encoding.TextMarshaler.
func (p Permissions) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Permissions) UnmarshalText(text []byte) error {
	parsed, err := ParsePermissions(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
