// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"errors"
	"fmt"

	"github.com/warrant-foundation/warrant/lib/capability"
	"github.com/warrant-foundation/warrant/lib/run"
)

// ReadResult is the answer to a transcript read.
type ReadResult struct {
	// Turns are the transcript entries from the requested index
	// onward. Empty when nothing new has been appended.
	Turns []run.Turn

	// Complete reports whether the run is terminal; once true the
	// transcript is frozen and FinalResult is meaningful.
	Complete bool

	// FinalResult is the run's final structured output, nil if the
	// run produced none or is still executing.
	FinalResult *string
}

// SendResult is the answer to a follow-up send.
type SendResult struct {
	// MessageIndex is the appended turn's transcript position.
	MessageIndex int

	// Status is the run's status after the append.
	Status run.Status
}

// Read returns the run's transcript from sinceIndex onward without
// blocking. Requires read permission. Reading a terminal run is fine
// — that is how a timed-out run's partial transcript is inspected.
func (o *Orchestrator) Read(token capability.Token, sinceIndex int) (ReadResult, error) {
	r, _, err := o.resolveRun(token, capability.PermRead)
	if err != nil {
		return ReadResult{}, err
	}
	turns, complete, finalResult := r.Transcript(sinceIndex)
	return ReadResult{Turns: turns, Complete: complete, FinalResult: finalResult}, nil
}

// Send appends a follow-up user turn to a still-running agent.
// Requires write permission — a read-only delegated token is rejected
// as a permission failure, not a token failure. Sending to a terminal
// run fails with ErrInvalidState.
func (o *Orchestrator) Send(token capability.Token, message string) (SendResult, error) {
	r, _, err := o.resolveRun(token, capability.PermWrite)
	if err != nil {
		return SendResult{}, err
	}

	index, err := r.Append(run.RoleUser, message)
	if err != nil {
		if errors.Is(err, run.ErrRunTerminal) {
			return SendResult{}, fmt.Errorf("%w: run %s is %s", ErrInvalidState, r.ID(), r.Status())
		}
		return SendResult{}, err
	}
	return SendResult{MessageIndex: index, Status: r.Status()}, nil
}
