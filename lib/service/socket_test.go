// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/warrant-foundation/warrant/lib/codec"
)

// startServer runs a server on a temp socket and returns a client for
// it. The server is stopped and drained during test cleanup.
func startServer(t *testing.T, configure func(*SocketServer)) *Client {
	t.Helper()

	socketPath := filepath.Join(t.TempDir(), "warrant.sock")
	kindFor := func(err error) string {
		if errors.Is(err, errTestTaxonomy) {
			return "invalid_state"
		}
		return ""
	}
	server := NewSocketServer(socketPath, kindFor, slog.Default())
	configure(server)

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
			t.Error("server did not drain after cancellation")
		}
	})

	waitForSocket(t, socketPath)
	return NewClient(socketPath)
}

var errTestTaxonomy = errors.New("not in a valid state")

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("unix", path)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("socket %s never came up", path)
}

type echoRequest struct {
	Text string `cbor:"text"`
}

type echoResponse struct {
	Text string `cbor:"text"`
}

func TestCallRoundTrip(t *testing.T) {
	t.Parallel()

	client := startServer(t, func(server *SocketServer) {
		server.Handle("echo", func(ctx context.Context, raw []byte) (any, error) {
			var req echoRequest
			if err := codec.Unmarshal(raw, &req); err != nil {
				return nil, err
			}
			return echoResponse{Text: "echo: " + req.Text}, nil
		})
	})

	var got echoResponse
	if err := client.Call(context.Background(), "echo", echoRequest{Text: "hello"}, &got); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got.Text != "echo: hello" {
		t.Errorf("response = %q, want %q", got.Text, "echo: hello")
	}
}

func TestCallWithoutResponseData(t *testing.T) {
	t.Parallel()

	client := startServer(t, func(server *SocketServer) {
		server.Handle("noop", func(ctx context.Context, raw []byte) (any, error) {
			return nil, nil
		})
	})

	if err := client.Call(context.Background(), "noop", nil, nil); err != nil {
		t.Fatalf("Call: %v", err)
	}
}

func TestHandlerErrorCarriesKind(t *testing.T) {
	t.Parallel()

	client := startServer(t, func(server *SocketServer) {
		server.Handle("fail", func(ctx context.Context, raw []byte) (any, error) {
			return nil, fmt.Errorf("wrapping: %w", errTestTaxonomy)
		})
	})

	err := client.Call(context.Background(), "fail", nil, nil)
	var callErr *CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("err = %v, want *CallError", err)
	}
	if callErr.Kind != "invalid_state" {
		t.Errorf("error kind = %q, want invalid_state", callErr.Kind)
	}
	if callErr.Action != "fail" {
		t.Errorf("error action = %q, want fail", callErr.Action)
	}
}

func TestUnknownAction(t *testing.T) {
	t.Parallel()

	client := startServer(t, func(*SocketServer) {})

	err := client.Call(context.Background(), "nonsense", nil, nil)
	var callErr *CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("err = %v, want *CallError", err)
	}
	if callErr.Kind != "" {
		t.Errorf("unknown action carries kind %q, want none", callErr.Kind)
	}
}

func TestConcurrentCalls(t *testing.T) {
	t.Parallel()

	client := startServer(t, func(server *SocketServer) {
		server.Handle("echo", func(ctx context.Context, raw []byte) (any, error) {
			var req echoRequest
			if err := codec.Unmarshal(raw, &req); err != nil {
				return nil, err
			}
			return echoResponse{Text: req.Text}, nil
		})
	})

	const callers = 8
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		i := i
		go func() {
			text := fmt.Sprintf("caller-%d", i)
			var got echoResponse
			if err := client.Call(context.Background(), "echo", echoRequest{Text: text}, &got); err != nil {
				errs <- err
				return
			}
			if got.Text != text {
				errs <- fmt.Errorf("cross-talk: sent %q, got %q", text, got.Text)
				return
			}
			errs <- nil
		}()
	}
	for i := 0; i < callers; i++ {
		if err := <-errs; err != nil {
			t.Error(err)
		}
	}
}

func TestDuplicateHandlerPanics(t *testing.T) {
	t.Parallel()

	server := NewSocketServer(filepath.Join(t.TempDir(), "dup.sock"), nil, slog.Default())
	server.Handle("a", func(context.Context, []byte) (any, error) { return nil, nil })

	defer func() {
		if recover() == nil {
			t.Error("duplicate Handle did not panic")
		}
	}()
	server.Handle("a", func(context.Context, []byte) (any, error) { return nil, nil })
}
