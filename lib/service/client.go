// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/warrant-foundation/warrant/lib/codec"
)

// dialTimeout covers only the connect phase.
const dialTimeout = 5 * time.Second

// responseReadTimeout is how long the client waits for a response
// after writing the request. Await-style actions can legitimately
// hold the connection while a run executes, so this is generous.
const responseReadTimeout = 10 * time.Minute

// maxResponseSize matches the server's request cap for symmetry.
const maxResponseSize = 8 * 1024 * 1024

// CallError is returned by Call when the server responds ok=false.
type CallError struct {
	Action  string
	Message string

	// Kind is the taxonomy string from the response, empty for
	// failures outside the taxonomy.
	Kind string
}

func (e *CallError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("service error on %q: %s", e.Action, e.Message)
	}
	return fmt.Sprintf("service error on %q (%s): %s", e.Action, e.Kind, e.Message)
}

// Client sends requests to a warrant service socket. Each Call opens
// a new connection, matching the server's one-request-per-connection
// model. Capability tokens travel inside the request records — there
// is no separate client identity.
type Client struct {
	socketPath string
}

// NewClient creates a client for the socket at socketPath.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Call sends one action request and decodes the response. request is
// the action's record (or nil for actions without parameters); the
// "action" field is injected by the client. On ok=false the returned
// error is a *CallError carrying the server's message and error kind.
func (c *Client) Call(ctx context.Context, action string, request any, result any) error {
	envelope, err := buildRequest(action, request)
	if err != nil {
		return fmt.Errorf("building request for %q: %w", action, err)
	}

	response, err := c.send(ctx, envelope)
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", action, c.socketPath, err)
	}

	if !response.OK {
		return &CallError{Action: action, Message: response.Error, Kind: response.ErrorKind}
	}
	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q: %w", action, err)
		}
	}
	return nil
}

// buildRequest flattens the action record into a map and injects the
// "action" field. Round-tripping through the codec keeps the record's
// own CBOR tags authoritative.
func buildRequest(action string, request any) (map[string]any, error) {
	fields := make(map[string]any, 8)
	if request != nil {
		raw, err := codec.Marshal(request)
		if err != nil {
			return nil, err
		}
		if err := codec.Unmarshal(raw, &fields); err != nil {
			return nil, err
		}
	}
	fields["action"] = action
	return fields, nil
}

// send connects, writes the request, reads the response. One
// connection per call.
func (c *Client) send(ctx context.Context, request any) (*Response, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}

	// Half-close the write side so the server's read sees clean EOF.
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &response, nil
}
