// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

package run

import (
	"context"
	"time"

	"github.com/warrant-foundation/warrant/lib/clock"
)

// EmitFunc appends an agent turn to the executing run's transcript.
// The orchestrator wires it to the run's Append; emitted turns are
// durable immediately, so a cancelled run keeps everything emitted
// before cancellation.
type EmitFunc func(content string) error

// Engine is the external execution engine that drives one agent's
// reasoning loop. The orchestrator starts one Execute call per run in
// its own goroutine.
//
// transcript is the run's seeded view at start time (inherited turns
// plus the initial prompt). The engine emits agent turns as it
// produces them and returns the run's final structured output, or nil
// if it produced none. Context cancellation is the stop signal: on
// ctx.Done the engine must return promptly, and the orchestrator
// decides whether the run timed out or was torn down.
type Engine interface {
	Execute(ctx context.Context, transcript []Turn, emit EmitFunc) (finalResult *string, err error)
}

// ScriptStep is one emitted turn of a ScriptedEngine, with an
// optional pause before it.
type ScriptStep struct {
	// Pause is how long to wait before emitting. Interruptible by
	// context cancellation.
	Pause time.Duration

	// Content is the agent turn to emit.
	Content string
}

// ScriptedEngine is an Engine that replays a fixed script. It backs
// the service's mock-engine mode and most orchestrator tests — the
// same role the mock agent binary plays for the daemon in
// integration runs.
type ScriptedEngine struct {
	// Clock paces the step pauses. Defaults to the real clock.
	Clock clock.Clock

	// Steps are emitted in order.
	Steps []ScriptStep

	// FinalResult is returned after all steps. Nil means the run
	// produced no structured output.
	FinalResult *string

	// Err, when non-nil, is returned after all steps and marks the
	// run as failed.
	Err error

	// Hang, when true, blocks after the steps until the context is
	// cancelled. Used to exercise timeout paths.
	Hang bool
}

// Execute implements Engine.
func (e *ScriptedEngine) Execute(ctx context.Context, transcript []Turn, emit EmitFunc) (*string, error) {
	clk := e.Clock
	if clk == nil {
		clk = clock.Real()
	}

	for _, step := range e.Steps {
		if step.Pause > 0 {
			select {
			case <-clk.After(step.Pause):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if err := emit(step.Content); err != nil {
			return nil, err
		}
	}

	if e.Hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if e.Err != nil {
		return nil, e.Err
	}
	return e.FinalResult, nil
}

// EchoEngine is an Engine that emits one turn echoing the last user
// turn and completes with it as the final result. The service uses it
// when no real engine is configured.
type EchoEngine struct{}

// Execute implements Engine.
func (EchoEngine) Execute(ctx context.Context, transcript []Turn, emit EmitFunc) (*string, error) {
	var lastUser string
	for _, turn := range transcript {
		if turn.Role == RoleUser {
			lastUser = turn.Content
		}
	}
	reply := "echo: " + lastUser
	if err := emit(reply); err != nil {
		return nil, err
	}
	return &reply, nil
}
