// Package task defines the Task domain entity and its state machine.
package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Strob0t/agentrelay/internal/domain/event"
	"github.com/Strob0t/agentrelay/internal/domain/failure"
)

var (
	// ErrTerminal is returned for writes against a task that already finished.
	ErrTerminal = errors.New("task is terminal")
	// ErrInvalidTransition is returned for a move the state machine forbids.
	ErrInvalidTransition = errors.New("invalid task transition")
)

// State represents the current lifecycle state of a task.
type State string

const (
	StateCreated   State = "created"
	StateRouting   State = "routing"
	StateStreaming State = "streaming"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// transitions lists the allowed forward moves. No state is re-entered.
var transitions = map[State][]State{
	StateCreated:   {StateRouting, StateFailed},
	StateRouting:   {StateStreaming, StateFailed},
	StateStreaming: {StateCompleted, StateFailed},
}

// CanTransition reports whether moving from s to next is allowed.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Failure records why a task failed.
type Failure struct {
	Kind    failure.Kind `json:"kind"`
	Message string       `json:"message"`
}

// Outcome is the terminal result handed to the registry. Exactly one of
// Artifact (success) or Failure (failure) is set; Payload becomes the
// payload of the terminal event.
type Outcome struct {
	Artifact json.RawMessage
	Failure  *Failure
	Payload  map[string]any
}

// Succeeded builds a success outcome whose artifact is payload itself.
func Succeeded(payload map[string]any) (Outcome, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Artifact: raw, Payload: payload}, nil
}

// Completed builds a success outcome from an artifact of any JSON shape.
// payload is the terminal event payload.
func Completed(artifact json.RawMessage, payload map[string]any) Outcome {
	if payload == nil {
		payload = map[string]any{}
	}
	return Outcome{Artifact: artifact, Payload: payload}
}

// FailedWith builds a failure outcome from a classified error.
func FailedWith(err error) Outcome {
	return Outcome{
		Failure: &Failure{Kind: failure.KindOf(err), Message: err.Error()},
		Payload: failure.Payload(err),
	}
}

// AgentFailed builds a failure outcome that passes a downstream agent's own
// error payload through unchanged.
func AgentFailed(payload map[string]any) Outcome {
	msg, _ := payload["message"].(string)
	return Outcome{
		Failure: &Failure{Kind: failure.KindAgent, Message: msg},
		Payload: payload,
	}
}

// TerminalEvent returns the event Finalize appends for this outcome.
func (o Outcome) TerminalEvent() event.Event {
	if o.Failure != nil {
		return event.Failed(o.Payload)
	}
	return event.Complete(o.Payload)
}

// State returns the terminal state this outcome leads to.
func (o Outcome) State() State {
	if o.Failure != nil {
		return StateFailed
	}
	return StateCompleted
}

// Task is the mutable task record. It is not safe for concurrent use; the
// registry serializes access.
type Task struct {
	ID          string
	State       State
	AgentID     string
	CreatedAt   time.Time
	CompletedAt *time.Time
	Artifact    json.RawMessage
	Failure     *Failure
}

// New returns a task in the created state.
func New(id string, now time.Time) *Task {
	return &Task{ID: id, State: StateCreated, CreatedAt: now}
}

// Transition moves t to next, which must be a non-terminal state reachable
// from the current one.
func (t *Task) Transition(next State) error {
	if t.State.IsTerminal() {
		return ErrTerminal
	}
	if next.IsTerminal() || !t.State.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.State, next)
	}
	t.State = next
	return nil
}

// Finish applies a terminal outcome. A task may finish from any
// non-terminal state the machine allows to fail or complete from.
func (t *Task) Finish(o Outcome, now time.Time) error {
	if t.State.IsTerminal() {
		return ErrTerminal
	}
	next := o.State()
	if !t.State.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.State, next)
	}
	t.State = next
	t.CompletedAt = &now
	t.Artifact = o.Artifact
	t.Failure = o.Failure
	return nil
}

// Snapshot is a point-in-time, read-only view of a task.
type Snapshot struct {
	ID          string          `json:"id"`
	State       State           `json:"state"`
	AgentID     string          `json:"agent_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	LastSeq     uint64          `json:"last_seq"`
	Events      []event.Event   `json:"events,omitempty"`
	Artifact    json.RawMessage `json:"artifact,omitempty"`
	Failure     *Failure        `json:"failure,omitempty"`
	Subscribers int             `json:"subscribers"`
}
