// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

package run

import (
	"errors"
	"sync"
	"time"

	"github.com/warrant-foundation/warrant/lib/clock"
)

// ID is a run's stable identifier. It is independent of any
// capability token that reaches the run, so persisted history can be
// queried by run ID long after every token is revoked.
type ID string

func (id ID) String() string { return string(id) }

// Status is a run's position in the lifecycle state machine:
// starting → running → {complete | error | timeout}.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
	StatusTimeout  Status = "timeout"
)

// Terminal reports whether the status is one of the sticky end
// states.
func (s Status) Terminal() bool {
	switch s {
	case StatusComplete, StatusError, StatusTimeout:
		return true
	}
	return false
}

// Turn roles.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

// Turn is one entry in a run's transcript.
type Turn struct {
	// Index is the turn's position in the transcript, starting at 0.
	Index int `cbor:"index"`

	// Role is RoleUser or RoleAgent.
	Role string `cbor:"role"`

	// Content is the turn text.
	Content string `cbor:"content"`

	// Timestamp is when the turn was appended.
	Timestamp time.Time `cbor:"timestamp"`
}

// ErrRunTerminal is returned when appending to a frozen transcript.
var ErrRunTerminal = errors.New("run: run is terminal")

// Result is the record returned by await-style operations.
type Result struct {
	RunID  ID     `cbor:"run_id"`
	Status Status `cbor:"status"`

	// FinalResult is the run's last structured output. Nil when the
	// run produced none, or when Status is not a success.
	FinalResult *string `cbor:"final_result,omitempty"`

	// ErrMessage describes the failure when Status is error.
	ErrMessage string `cbor:"error_message,omitempty"`
}

// Run is one executing or completed agent instance. All mutation goes
// through its methods; the orchestrator and the run's own execution
// goroutine are the only callers.
type Run struct {
	id     ID
	parent ID
	clock  clock.Clock

	mu          sync.Mutex
	status      Status
	transcript  []Turn
	finalResult *string
	errMessage  string

	// done is closed exactly once, on the transition into a
	// terminal state. Awaiters select on it.
	done chan struct{}
}

// New creates a run in the starting state. seed is the inherited
// transcript prefix (non-empty for forked runs); it is copied, and
// indices are rewritten to be contiguous from zero.
func New(id ID, parent ID, clk clock.Clock, seed []Turn) *Run {
	transcript := make([]Turn, len(seed))
	copy(transcript, seed)
	for i := range transcript {
		transcript[i].Index = i
	}
	return &Run{
		id:         id,
		parent:     parent,
		clock:      clk,
		status:     StatusStarting,
		transcript: transcript,
		done:       make(chan struct{}),
	}
}

// ID returns the run's stable identifier.
func (r *Run) ID() ID { return r.id }

// Parent returns the spawning run's ID, or "" for a root run.
func (r *Run) Parent() ID { return r.parent }

// Done returns a channel closed when the run reaches a terminal
// state.
func (r *Run) Done() <-chan struct{} { return r.done }

// Status returns the current status.
func (r *Run) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Start transitions starting → running. Starting an already-running
// or terminal run is a no-op.
func (r *Run) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == StatusStarting {
		r.status = StatusRunning
	}
}

// Append adds a turn to the transcript and returns its index.
// Fails with ErrRunTerminal once the run is terminal — the
// transcript is frozen at that point.
func (r *Run) Append(role, content string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Terminal() {
		return 0, ErrRunTerminal
	}
	index := len(r.transcript)
	r.transcript = append(r.transcript, Turn{
		Index:     index,
		Role:      role,
		Content:   content,
		Timestamp: r.clock.Now(),
	})
	return index, nil
}

// Complete transitions into the complete state with the given final
// result. No-op if already terminal.
func (r *Run) Complete(finalResult *string) {
	r.finish(StatusComplete, finalResult, "")
}

// Fail transitions into the error state. No-op if already terminal.
func (r *Run) Fail(message string) {
	r.finish(StatusError, nil, message)
}

// Expire transitions into the timeout state. The transcript written
// so far stays readable — a timed-out run is cancelled, not erased.
// No-op if already terminal.
func (r *Run) Expire() {
	r.finish(StatusTimeout, nil, "")
}

func (r *Run) finish(status Status, finalResult *string, errMessage string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Terminal() {
		return
	}
	r.status = status
	r.finalResult = finalResult
	r.errMessage = errMessage
	close(r.done)
}

// Result returns the await-record for the run's current state. For a
// terminal run this is the cached final answer; repeated calls return
// identical values.
func (r *Run) Result() Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Result{
		RunID:       r.id,
		Status:      r.status,
		FinalResult: r.finalResult,
		ErrMessage:  r.errMessage,
	}
}

// Transcript returns a copy of the turns from sinceIndex onward,
// along with whether the run is terminal and its final result. Pass
// sinceIndex 0 for the full transcript.
func (r *Run) Transcript(sinceIndex int) (turns []Turn, complete bool, finalResult *string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sinceIndex < 0 {
		sinceIndex = 0
	}
	if sinceIndex < len(r.transcript) {
		turns = make([]Turn, len(r.transcript)-sinceIndex)
		copy(turns, r.transcript[sinceIndex:])
	}
	return turns, r.status.Terminal(), r.finalResult
}
