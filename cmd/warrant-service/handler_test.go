// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/warrant-foundation/warrant/lib/backend"
	"github.com/warrant-foundation/warrant/lib/bundle"
	"github.com/warrant-foundation/warrant/lib/capability"
	"github.com/warrant-foundation/warrant/lib/clock"
	"github.com/warrant-foundation/warrant/lib/lifecycle"
	"github.com/warrant-foundation/warrant/lib/orchestrator"
	"github.com/warrant-foundation/warrant/lib/resource"
	"github.com/warrant-foundation/warrant/lib/run"
	"github.com/warrant-foundation/warrant/lib/service"
	"github.com/warrant-foundation/warrant/lib/wire"
)

// startDaemon wires the full component stack with the echo engine and
// serves it on a temp socket.
func startDaemon(t *testing.T) *service.Client {
	t.Helper()

	logger := slog.Default()
	clk := clock.Real()
	registry := capability.NewRegistry(clk)
	directory := resource.NewDirectory()
	manager := lifecycle.NewManager(registry, directory, logger)
	orch := orchestrator.New(registry, directory, manager, run.EchoEngine{}, clk, logger)
	backends := backend.NewService(registry, directory, noopProvisioner{}, logger)
	bundles := bundle.NewStore(registry, directory, logger)

	socketPath := filepath.Join(t.TempDir(), "warrant.sock")
	server := service.NewSocketServer(socketPath, wire.KindForError, logger)
	h := &handlers{
		orch:           orch,
		backends:       backends,
		bundles:        bundles,
		manager:        manager,
		registry:       registry,
		defaultTimeout: 5 * time.Second,
		maxForkWidth:   8,
	}
	h.register(server)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Serve: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("daemon did not drain")
		}
	})

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("unix", socketPath)
		if err == nil {
			conn.Close()
			return service.NewClient(socketPath)
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("socket %s never came up", socketPath)
	return nil
}

func TestSpawnAwaitReadOverSocket(t *testing.T) {
	t.Parallel()
	client := startDaemon(t)
	ctx := context.Background()

	var spawned wire.SpawnResponse
	err := client.Call(ctx, wire.ActionSpawn, wire.SpawnRequest{Prompt: "ping", Session: "cli"}, &spawned)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if spawned.Status != string(run.StatusStarting) {
		t.Errorf("spawn status = %s, want starting", spawned.Status)
	}

	var result run.Result
	if err := client.Call(ctx, wire.ActionAwait, wire.AwaitRequest{Token: spawned.Token}, &result); err != nil {
		t.Fatalf("await: %v", err)
	}
	if result.Status != run.StatusComplete {
		t.Fatalf("await status = %s, want complete", result.Status)
	}
	if result.FinalResult == nil || *result.FinalResult != "echo: ping" {
		t.Errorf("final result = %v, want echo: ping", result.FinalResult)
	}

	var read wire.ReadResponse
	if err := client.Call(ctx, wire.ActionRead, wire.ReadRequest{Token: spawned.Token}, &read); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(read.Turns) != 2 || !read.Complete {
		t.Errorf("read = %d turns complete=%v, want 2 turns complete", len(read.Turns), read.Complete)
	}
}

func TestSynchronousRunOverSocket(t *testing.T) {
	t.Parallel()
	client := startDaemon(t)

	var result wire.RunResponse
	err := client.Call(context.Background(), wire.ActionRun, wire.RunRequest{
		SpawnRequest: wire.SpawnRequest{Prompt: "hello", Session: "cli"},
	}, &result)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != string(run.StatusComplete) {
		t.Errorf("status = %s, want complete", result.Status)
	}
	if len(result.Transcript) != 2 {
		t.Errorf("transcript has %d turns, want 2", len(result.Transcript))
	}
	if result.Token.IsZero() {
		t.Error("run response carries no token")
	}
}

func TestForkAndAwaitManyOverSocket(t *testing.T) {
	t.Parallel()
	client := startDaemon(t)
	ctx := context.Background()

	var parent wire.RunResponse
	err := client.Call(ctx, wire.ActionRun, wire.RunRequest{
		SpawnRequest: wire.SpawnRequest{Prompt: "context", Session: "cli"},
	}, &parent)
	if err != nil {
		t.Fatalf("run(parent): %v", err)
	}

	var forked wire.ForkResponse
	err = client.Call(ctx, wire.ActionFork, wire.ForkRequest{
		ParentToken:   parent.Token,
		Continuations: []string{"one", "two"},
	}, &forked)
	if err != nil {
		t.Fatalf("fork: %v", err)
	}
	if len(forked.Children) != 2 {
		t.Fatalf("fork returned %d children, want 2", len(forked.Children))
	}

	tokens := []capability.Token{forked.Children[0].Token, forked.Children[1].Token}
	var results wire.AwaitManyResponse
	if err := client.Call(ctx, wire.ActionAwaitMany, wire.AwaitManyRequest{Tokens: tokens}, &results); err != nil {
		t.Fatalf("await_many: %v", err)
	}
	if len(results.Results) != 2 {
		t.Fatalf("await_many returned %d results, want 2", len(results.Results))
	}
	for i, result := range results.Results {
		if result.Status != run.StatusComplete {
			t.Errorf("child %d status = %s, want complete", i, result.Status)
		}
		if string(result.RunID) != forked.Children[i].RunID {
			t.Errorf("result %d run ID = %s, want %s (input order)", i, result.RunID, forked.Children[i].RunID)
		}
	}
}

func TestErrorKindTravelsOverSocket(t *testing.T) {
	t.Parallel()
	client := startDaemon(t)

	bogus := capability.NewToken()
	err := client.Call(context.Background(), wire.ActionAwait, wire.AwaitRequest{Token: bogus}, nil)

	var callErr *service.CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("err = %v, want *service.CallError", err)
	}
	if callErr.Kind != wire.KindInvalidToken {
		t.Errorf("error kind = %q, want %q", callErr.Kind, wire.KindInvalidToken)
	}
}

func TestBundleLifecycleOverSocket(t *testing.T) {
	t.Parallel()
	client := startDaemon(t)
	ctx := context.Background()

	files := map[string][]byte{"tool.sh": []byte("echo tool")}
	var created wire.CreateBundleResponse
	err := client.Call(ctx, wire.ActionCreateBundle, wire.CreateBundleRequest{
		Files:   files,
		Session: "cli",
	}, &created)
	if err != nil {
		t.Fatalf("create_bundle: %v", err)
	}

	var again wire.CreateBundleResponse
	err = client.Call(ctx, wire.ActionCreateBundle, wire.CreateBundleRequest{
		Files:   files,
		Session: "cli",
	}, &again)
	if err != nil {
		t.Fatalf("create_bundle (dedup): %v", err)
	}
	if created.Token == again.Token {
		t.Error("dedup returned the same token; want a fresh token for the shared snapshot")
	}

	var opened wire.OpenBundleResponse
	if err := client.Call(ctx, wire.ActionOpenBundle, wire.OpenBundleRequest{Token: again.Token}, &opened); err != nil {
		t.Fatalf("open_bundle: %v", err)
	}
	if len(opened.Names) != 1 || opened.Names[0] != "tool.sh" {
		t.Errorf("bundle names = %v", opened.Names)
	}

	var content wire.BundleFileResponse
	if err := client.Call(ctx, wire.ActionBundleFile, wire.BundleFileRequest{Token: created.Token, Name: "tool.sh"}, &content); err != nil {
		t.Fatalf("bundle_file: %v", err)
	}
	if string(content.Content) != "echo tool" {
		t.Errorf("file content = %q", content.Content)
	}
}

func TestEndSessionOverSocket(t *testing.T) {
	t.Parallel()
	client := startDaemon(t)
	ctx := context.Background()

	var spawned wire.SpawnResponse
	if err := client.Call(ctx, wire.ActionSpawn, wire.SpawnRequest{Prompt: "doomed", Session: "ending"}, &spawned); err != nil {
		t.Fatalf("spawn: %v", err)
	}

	if err := client.Call(ctx, wire.ActionEndSession, wire.EndSessionRequest{Session: "ending"}, nil); err != nil {
		t.Fatalf("end_session: %v", err)
	}

	err := client.Call(ctx, wire.ActionRead, wire.ReadRequest{Token: spawned.Token}, nil)
	var callErr *service.CallError
	if !errors.As(err, &callErr) || callErr.Kind != wire.KindInvalidToken {
		t.Errorf("read after end_session: err = %v, want invalid_token kind", err)
	}
}
