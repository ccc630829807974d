// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire defines the request and response records for the
// service's socket protocol.
//
// Tokens travel in their canonical 32-hex text form (capability.Token
// implements text marshaling, which the codec encodes as a CBOR text
// string), so a token copied out of one response body can be pasted
// verbatim into another request — or into a free-text message to
// another agent, which is the system's only delegation mechanism.
package wire

import (
	"github.com/warrant-foundation/warrant/lib/backend"
	"github.com/warrant-foundation/warrant/lib/capability"
	"github.com/warrant-foundation/warrant/lib/run"
)

// Action names accepted by the service.
const (
	ActionRun           = "run"
	ActionSpawn         = "spawn"
	ActionAwait         = "await"
	ActionAwaitMany     = "await_many"
	ActionFork          = "fork"
	ActionRead          = "read"
	ActionSend          = "send"
	ActionCreateBackend = "create_backend"
	ActionCreateBundle  = "create_bundle"
	ActionOpenBundle    = "open_bundle"
	ActionBundleFile    = "bundle_file"
	ActionEndSession    = "end_session"
)

// SpawnRequest creates a run without waiting for output.
type SpawnRequest struct {
	Prompt string `cbor:"prompt"`

	// Session owns the run when spawned from outside any run.
	// Exactly one of Session and ParentToken is set.
	Session string `cbor:"session,omitempty"`

	// ParentToken spawns the run from inside another run.
	ParentToken capability.Token `cbor:"parent_token,omitempty"`

	// ResourceTokens are grants to re-delegate to the new run.
	ResourceTokens []capability.Token `cbor:"resource_tokens,omitempty"`
}

// SpawnResponse answers spawn and is the per-child record in fork.
type SpawnResponse struct {
	Token  capability.Token `cbor:"token"`
	RunID  string           `cbor:"run_id"`
	Status string           `cbor:"status"`
}

// RunRequest is the synchronous form: spawn, block, return the full
// result.
type RunRequest struct {
	SpawnRequest

	// TimeoutMS bounds the wait in milliseconds. Zero waits without
	// bound. On timeout the run is cancelled with its partial
	// transcript preserved.
	TimeoutMS int64 `cbor:"timeout_ms,omitempty"`
}

// RunResponse is the full synchronous result.
type RunResponse struct {
	RunID       string           `cbor:"run_id"`
	Status      string           `cbor:"status"`
	FinalResult *string          `cbor:"final_result,omitempty"`
	ErrMessage  string           `cbor:"error_message,omitempty"`
	Token       capability.Token `cbor:"token"`
	Transcript  []run.Turn       `cbor:"transcript"`
}

// AwaitRequest blocks until the run is terminal or the timeout fires.
type AwaitRequest struct {
	Token     capability.Token `cbor:"token"`
	TimeoutMS int64            `cbor:"timeout_ms,omitempty"`
}

// AwaitManyRequest waits on all tokens concurrently; the response
// preserves input order.
type AwaitManyRequest struct {
	Tokens    []capability.Token `cbor:"tokens"`
	TimeoutMS int64              `cbor:"timeout_ms,omitempty"`
}

// AwaitManyResponse carries one result per input token, same order.
type AwaitManyResponse struct {
	Results []run.Result `cbor:"results"`
}

// ForkRequest creates one child per continuation, each inheriting the
// parent's transcript and resource grants.
type ForkRequest struct {
	ParentToken   capability.Token `cbor:"parent_token"`
	Continuations []string         `cbor:"continuations"`
}

// ForkResponse lists the children in continuation order.
type ForkResponse struct {
	Children []SpawnResponse `cbor:"children"`
}

// ReadRequest inspects a transcript, optionally incrementally.
type ReadRequest struct {
	Token      capability.Token `cbor:"token"`
	SinceIndex int              `cbor:"since_index,omitempty"`
}

// ReadResponse is the transcript view.
type ReadResponse struct {
	Turns       []run.Turn `cbor:"turns"`
	Complete    bool       `cbor:"complete"`
	FinalResult *string    `cbor:"final_result,omitempty"`
}

// SendRequest appends a follow-up user turn to a running agent.
type SendRequest struct {
	Token   capability.Token `cbor:"token"`
	Message string           `cbor:"message"`
}

// SendResponse reports where the turn landed.
type SendResponse struct {
	MessageIndex int    `cbor:"message_index"`
	Status       string `cbor:"status"`
}

// CreateBackendRequest provisions a delegated backend.
type CreateBackendRequest struct {
	Spec backend.Spec `cbor:"spec"`

	// Session identifies the owner when provisioning from outside
	// any run; GrantedBy is derived from it.
	Session string `cbor:"session,omitempty"`

	// ParentToken identifies the owning run when provisioning from
	// inside one.
	ParentToken capability.Token `cbor:"parent_token,omitempty"`
}

// CreateBackendResponse returns the backend capability.
type CreateBackendResponse struct {
	Token capability.Token `cbor:"token"`
}

// CreateBundleRequest stores a content-addressed snapshot.
type CreateBundleRequest struct {
	Files       map[string][]byte `cbor:"files"`
	Session     string            `cbor:"session,omitempty"`
	ParentToken capability.Token  `cbor:"parent_token,omitempty"`
}

// CreateBundleResponse returns the bundle capability. Identical
// content returns a fresh token for the existing snapshot.
type CreateBundleResponse struct {
	Token capability.Token `cbor:"token"`
}

// OpenBundleRequest lists a bundle's files.
type OpenBundleRequest struct {
	Token capability.Token `cbor:"token"`
}

// OpenBundleResponse lists file names in sorted order.
type OpenBundleResponse struct {
	Names []string `cbor:"names"`
}

// BundleFileRequest fetches one file from a bundle.
type BundleFileRequest struct {
	Token capability.Token `cbor:"token"`
	Name  string           `cbor:"name"`
}

// BundleFileResponse carries the file content.
type BundleFileResponse struct {
	Content []byte `cbor:"content"`
}

// EndSessionRequest cascades every run tree the session owns.
type EndSessionRequest struct {
	Session string `cbor:"session"`
}
