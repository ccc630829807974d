// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// The orchestrator's timeout enforcement and the capability registry's
// expiry checks depend on the current time. Injecting a Clock lets
// tests drive deadlines deterministically with FakeClock instead of
// sleeping.
package clock
