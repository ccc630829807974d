// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

// Package resource provides the resource directory: the map from a
// resource identifier to the live object that serves it.
//
// The directory holds no access-control state. Reaching an entry
// requires a resource ID, and resource IDs are only learned by
// validating a capability token — the directory itself is never
// exposed to callers.
package resource

import (
	"errors"
	"sync"
)

// ID identifies a resource within the directory. Run IDs, backend
// IDs, and bundle content addresses are all resource IDs.
type ID string

func (id ID) String() string { return string(id) }

// ErrNotFound is returned by Lookup when no entry exists — the
// resource was never registered or has been torn down.
var ErrNotFound = errors.New("resource: not found")

// Directory maps resource IDs to live handles. It is populated by the
// orchestrator (agent runs), the backend service (delegated backends),
// and the bundle store (shared snapshots); the lifecycle manager
// removes entries during cascade.
//
// Directory is safe for concurrent use.
type Directory struct {
	mu      sync.Mutex
	entries map[ID]any
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{entries: make(map[ID]any)}
}

// Register stores handle under id, replacing any existing entry.
func (d *Directory) Register(id ID, handle any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[id] = handle
}

// Lookup returns the handle registered under id.
func (d *Directory) Lookup(id ID) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	handle, exists := d.entries[id]
	if !exists {
		return nil, ErrNotFound
	}
	return handle, nil
}

// Remove deletes the entry for id. Removing an absent entry is a
// no-op, keeping cascade teardown idempotent.
func (d *Directory) Remove(id ID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, id)
}

// Len returns the number of live entries. Used by shutdown logging
// and tests; not exposed over the wire.
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}
