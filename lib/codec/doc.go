// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Warrant's standard CBOR encoding.
//
// All wire traffic (socket requests, responses, embedded records) goes
// through this package rather than importing fxamacker/cbor directly.
// Encoding uses Core Deterministic Encoding so the same logical value
// always produces identical bytes, which keeps content hashes and
// golden test data stable.
package codec
