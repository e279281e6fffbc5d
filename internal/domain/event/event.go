// Package event defines task events and the downstream stream frame they
// are decoded from.
package event

import (
	"fmt"
	"maps"
	"time"

	"github.com/Strob0t/agentrelay/internal/domain"
)

// Type identifies the kind of task event. The vocabulary is fixed.
type Type string

const (
	TypeRouting          Type = "routing"
	TypeToolStarted      Type = "tool_started"
	TypeToolProgress     Type = "tool_progress"
	TypeToolCompleted    Type = "tool_completed"
	TypeAnalysisComplete Type = "analysis_complete"
	TypeError            Type = "error"
)

// Valid reports whether t belongs to the vocabulary.
func (t Type) Valid() bool {
	switch t {
	case TypeRouting, TypeToolStarted, TypeToolProgress, TypeToolCompleted, TypeAnalysisComplete, TypeError:
		return true
	}
	return false
}

// Terminal reports whether t may only appear as the final event of a task.
func (t Type) Terminal() bool {
	return t == TypeAnalysisComplete || t == TypeError
}

// Event is one append-only entry of a task's event log. Seq is assigned by
// the registry and doubles as the reconnection cursor.
type Event struct {
	Seq     uint64         `json:"seq"`
	Type    Type           `json:"type"`
	Payload map[string]any `json:"payload"`
	Final   bool           `json:"final"`
	Time    time.Time      `json:"time"`
}

// Validate checks the type against the vocabulary and that exactly the
// terminal types carry Final.
func (e *Event) Validate() error {
	if !e.Type.Valid() {
		return fmt.Errorf("%w: unknown event type %q", domain.ErrValidation, e.Type)
	}
	if e.Type.Terminal() != e.Final {
		return fmt.Errorf("%w: event %q final=%v", domain.ErrValidation, e.Type, e.Final)
	}
	if e.Type == TypeRouting {
		if _, ok := e.Payload["agent"].(string); !ok {
			return fmt.Errorf("%w: routing event requires agent", domain.ErrValidation)
		}
	}
	return nil
}

// New builds a non-terminal event.
func New(t Type, payload map[string]any) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return Event{Type: t, Payload: payload}
}

// Routing builds the event announcing the chosen agent.
func Routing(agentID, endpoint, stage, pattern string) Event {
	return New(TypeRouting, map[string]any{
		"agent":    agentID,
		"endpoint": endpoint,
		"stage":    stage,
		"rule":     pattern,
	})
}

// Complete builds the terminal success event.
func Complete(payload map[string]any) Event {
	ev := New(TypeAnalysisComplete, payload)
	ev.Final = true
	return ev
}

// Failed builds a terminal error event from a payload.
func Failed(payload map[string]any) Event {
	ev := New(TypeError, payload)
	ev.Final = true
	return ev
}

// Clone returns a copy whose payload map can be handed to another goroutine.
func (e Event) Clone() Event {
	e.Payload = maps.Clone(e.Payload)
	return e
}
