// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

// Package run models a single agent run: its status state machine,
// its append-only transcript, and the engine interface through which
// the external execution engine drives it.
//
// A run's transcript is owned exclusively by the run while it is
// live and frozen the moment it reaches a terminal state. Terminal
// states are sticky — once complete, error, or timeout, a run never
// transitions again.
package run
