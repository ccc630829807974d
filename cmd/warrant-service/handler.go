// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/warrant-foundation/warrant/lib/backend"
	"github.com/warrant-foundation/warrant/lib/bundle"
	"github.com/warrant-foundation/warrant/lib/capability"
	"github.com/warrant-foundation/warrant/lib/codec"
	"github.com/warrant-foundation/warrant/lib/lifecycle"
	"github.com/warrant-foundation/warrant/lib/orchestrator"
	"github.com/warrant-foundation/warrant/lib/resource"
	"github.com/warrant-foundation/warrant/lib/run"
	"github.com/warrant-foundation/warrant/lib/service"
	"github.com/warrant-foundation/warrant/lib/wire"
)

// handlers maps socket actions onto the orchestrator, backend
// service, and bundle store. Error taxonomy conversion happens in the
// socket server via wire.KindForError.
type handlers struct {
	orch     *orchestrator.Orchestrator
	backends *backend.Service
	bundles  *bundle.Store
	manager  *lifecycle.Manager
	registry *capability.Registry

	defaultTimeout time.Duration
	maxForkWidth   int
}

func (h *handlers) register(server *service.SocketServer) {
	server.Handle(wire.ActionRun, h.run)
	server.Handle(wire.ActionSpawn, h.spawn)
	server.Handle(wire.ActionAwait, h.await)
	server.Handle(wire.ActionAwaitMany, h.awaitMany)
	server.Handle(wire.ActionFork, h.fork)
	server.Handle(wire.ActionRead, h.read)
	server.Handle(wire.ActionSend, h.send)
	server.Handle(wire.ActionCreateBackend, h.createBackend)
	server.Handle(wire.ActionCreateBundle, h.createBundle)
	server.Handle(wire.ActionOpenBundle, h.openBundle)
	server.Handle(wire.ActionBundleFile, h.bundleFile)
	server.Handle(wire.ActionEndSession, h.endSession)
}

// decode unmarshals the raw request into the action's record type.
func decode[T any](raw []byte) (T, error) {
	var request T
	if err := codec.Unmarshal(raw, &request); err != nil {
		return request, fmt.Errorf("invalid request body: %w", err)
	}
	return request, nil
}

// timeout converts a wire timeout to a duration, applying the
// configured default when the request carries none.
func (h *handlers) timeout(ms int64) time.Duration {
	if ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return h.defaultTimeout
}

func spawnRequest(req wire.SpawnRequest) orchestrator.SpawnRequest {
	return orchestrator.SpawnRequest{
		Prompt:         req.Prompt,
		Session:        req.Session,
		ParentToken:    req.ParentToken,
		ResourceTokens: req.ResourceTokens,
	}
}

func (h *handlers) run(ctx context.Context, raw []byte) (any, error) {
	req, err := decode[wire.RunRequest](raw)
	if err != nil {
		return nil, err
	}
	result, err := h.orch.Run(ctx, spawnRequest(req.SpawnRequest), h.timeout(req.TimeoutMS))
	if err != nil {
		return nil, err
	}
	return wire.RunResponse{
		RunID:       string(result.RunID),
		Status:      string(result.Status),
		FinalResult: result.FinalResult,
		ErrMessage:  result.ErrMessage,
		Token:       result.Token,
		Transcript:  result.Transcript,
	}, nil
}

func (h *handlers) spawn(ctx context.Context, raw []byte) (any, error) {
	req, err := decode[wire.SpawnRequest](raw)
	if err != nil {
		return nil, err
	}
	spawned, err := h.orch.Spawn(ctx, spawnRequest(req))
	if err != nil {
		return nil, err
	}
	return wire.SpawnResponse{
		Token:  spawned.Token,
		RunID:  string(spawned.RunID),
		Status: string(spawned.Status),
	}, nil
}

func (h *handlers) await(ctx context.Context, raw []byte) (any, error) {
	req, err := decode[wire.AwaitRequest](raw)
	if err != nil {
		return nil, err
	}
	return h.orch.Await(ctx, req.Token, h.timeout(req.TimeoutMS))
}

func (h *handlers) awaitMany(ctx context.Context, raw []byte) (any, error) {
	req, err := decode[wire.AwaitManyRequest](raw)
	if err != nil {
		return nil, err
	}
	results, err := h.orch.AwaitMany(ctx, req.Tokens, h.timeout(req.TimeoutMS))
	if err != nil {
		return nil, err
	}
	return wire.AwaitManyResponse{Results: results}, nil
}

func (h *handlers) fork(ctx context.Context, raw []byte) (any, error) {
	req, err := decode[wire.ForkRequest](raw)
	if err != nil {
		return nil, err
	}
	if h.maxForkWidth > 0 && len(req.Continuations) > h.maxForkWidth {
		return nil, fmt.Errorf("fork width %d exceeds the configured limit %d", len(req.Continuations), h.maxForkWidth)
	}
	children, err := h.orch.Fork(ctx, req.ParentToken, req.Continuations)
	if err != nil {
		return nil, err
	}
	response := wire.ForkResponse{Children: make([]wire.SpawnResponse, len(children))}
	for i, child := range children {
		response.Children[i] = wire.SpawnResponse{
			Token:  child.Token,
			RunID:  string(child.RunID),
			Status: string(child.Status),
		}
	}
	return response, nil
}

func (h *handlers) read(ctx context.Context, raw []byte) (any, error) {
	req, err := decode[wire.ReadRequest](raw)
	if err != nil {
		return nil, err
	}
	result, err := h.orch.Read(req.Token, req.SinceIndex)
	if err != nil {
		return nil, err
	}
	return wire.ReadResponse{
		Turns:       result.Turns,
		Complete:    result.Complete,
		FinalResult: result.FinalResult,
	}, nil
}

func (h *handlers) send(ctx context.Context, raw []byte) (any, error) {
	req, err := decode[wire.SendRequest](raw)
	if err != nil {
		return nil, err
	}
	result, err := h.orch.Send(req.Token, req.Message)
	if err != nil {
		return nil, err
	}
	return wire.SendResponse{
		MessageIndex: result.MessageIndex,
		Status:       string(result.Status),
	}, nil
}

func (h *handlers) createBackend(ctx context.Context, raw []byte) (any, error) {
	req, err := decode[wire.CreateBackendRequest](raw)
	if err != nil {
		return nil, err
	}
	grantedBy, owner, err := h.resolveGranter(req.Session, req.ParentToken)
	if err != nil {
		return nil, err
	}

	token, err := h.backends.Create(ctx, req.Spec, grantedBy)
	if err != nil {
		return nil, err
	}

	// A backend provisioned from inside a run dies with that run's
	// subtree.
	if owner != "" {
		record, err := h.registry.Validate(token)
		if err != nil {
			return nil, err
		}
		id := resource.ID(record.ResourceID)
		h.manager.AddOwnedResource(owner, id, func() { h.backends.Teardown(id) })
	}
	return wire.CreateBackendResponse{Token: token}, nil
}

func (h *handlers) createBundle(ctx context.Context, raw []byte) (any, error) {
	req, err := decode[wire.CreateBundleRequest](raw)
	if err != nil {
		return nil, err
	}
	grantedBy, _, err := h.resolveGranter(req.Session, req.ParentToken)
	if err != nil {
		return nil, err
	}
	// Bundles are shared snapshots, never bound to one run's
	// lifetime — only their grants are.
	token, err := h.bundles.Create(req.Files, grantedBy)
	if err != nil {
		return nil, err
	}
	return wire.CreateBundleResponse{Token: token}, nil
}

func (h *handlers) openBundle(ctx context.Context, raw []byte) (any, error) {
	req, err := decode[wire.OpenBundleRequest](raw)
	if err != nil {
		return nil, err
	}
	opened, err := h.bundles.Open(req.Token)
	if err != nil {
		return nil, err
	}
	return wire.OpenBundleResponse{Names: opened.Names()}, nil
}

func (h *handlers) bundleFile(ctx context.Context, raw []byte) (any, error) {
	req, err := decode[wire.BundleFileRequest](raw)
	if err != nil {
		return nil, err
	}
	opened, err := h.bundles.Open(req.Token)
	if err != nil {
		return nil, err
	}
	content, err := opened.File(req.Name)
	if err != nil {
		return nil, err
	}
	return wire.BundleFileResponse{Content: content}, nil
}

func (h *handlers) endSession(ctx context.Context, raw []byte) (any, error) {
	req, err := decode[wire.EndSessionRequest](raw)
	if err != nil {
		return nil, err
	}
	if req.Session == "" {
		return nil, fmt.Errorf("missing required field: session")
	}
	h.manager.EndSession(req.Session)
	return nil, nil
}

// resolveGranter turns the session/parent-token pair into the
// granted_by identity, plus the owning run when the caller is one.
func (h *handlers) resolveGranter(session string, parentToken capability.Token) (grantedBy string, owner run.ID, err error) {
	switch {
	case !parentToken.IsZero():
		record, err := h.registry.Validate(parentToken)
		if err != nil {
			return "", "", err
		}
		if record.ResourceType != capability.ResourceAgentRun {
			return "", "", fmt.Errorf("parent token names a %s, not an agent run", record.ResourceType)
		}
		if !record.Permissions.Has(capability.PermExecute) {
			return "", "", fmt.Errorf("%w: provisioning requires execute permission", orchestrator.ErrPermissionDenied)
		}
		return record.ResourceID, run.ID(record.ResourceID), nil
	case session != "":
		return "session:" + session, "", nil
	default:
		return "", "", fmt.Errorf("a session or parent token is required")
	}
}
