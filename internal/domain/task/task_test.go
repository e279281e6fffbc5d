package task

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/agentrelay/internal/domain/event"
	"github.com/Strob0t/agentrelay/internal/domain/failure"
)

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateCreated, StateRouting, true},
		{StateRouting, StateStreaming, true},
		{StateRouting, StateFailed, true},
		{StateStreaming, StateCompleted, true},
		{StateStreaming, StateFailed, true},
		{StateCreated, StateStreaming, false},
		{StateRouting, StateCompleted, false},
		{StateStreaming, StateRouting, false},
		{StateCompleted, StateFailed, false},
		{StateFailed, StateRouting, false},
		{StateRouting, StateRouting, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSucceededArtifactEqualsPayload(t *testing.T) {
	payload := map[string]any{"verdict": "malicious", "score": 0.9}
	o, err := Succeeded(payload)
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(o.Artifact, &got); err != nil {
		t.Fatal(err)
	}
	if got["verdict"] != "malicious" || got["score"] != 0.9 {
		t.Fatalf("artifact mismatch: %v", got)
	}
	if o.State() != StateCompleted {
		t.Fatalf("expected completed, got %s", o.State())
	}
	ev := o.TerminalEvent()
	if ev.Type != event.TypeAnalysisComplete || !ev.Final {
		t.Fatalf("unexpected terminal event %+v", ev)
	}
}

func TestFailedWithKeepsKind(t *testing.T) {
	o := FailedWith(failure.Unsupported("no route"))
	if o.State() != StateFailed {
		t.Fatalf("expected failed, got %s", o.State())
	}
	if o.Failure.Kind != failure.KindUnsupported {
		t.Fatalf("expected Unsupported, got %s", o.Failure.Kind)
	}
	ev := o.TerminalEvent()
	if ev.Type != event.TypeError || ev.Payload["kind"] != "Unsupported" {
		t.Fatalf("unexpected terminal event %+v", ev)
	}
}

func TestAgentFailedPassesPayloadThrough(t *testing.T) {
	payload := map[string]any{"message": "could not decide", "detail": "missing field"}
	o := AgentFailed(payload)
	if o.Failure.Kind != failure.KindAgent {
		t.Fatalf("expected AgentError, got %s", o.Failure.Kind)
	}
	ev := o.TerminalEvent()
	if len(ev.Payload) != 2 || ev.Payload["detail"] != "missing field" {
		t.Fatalf("payload must be unchanged, got %v", ev.Payload)
	}
}

func TestTaskLifecycle(t *testing.T) {
	now := time.Unix(100, 0)
	tk := New("t1", now)
	if tk.State != StateCreated {
		t.Fatalf("expected created, got %s", tk.State)
	}
	if err := tk.Transition(StateRouting); err != nil {
		t.Fatal(err)
	}
	if err := tk.Transition(StateCompleted); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("terminal states must go through Finish, got %v", err)
	}
	if err := tk.Transition(StateStreaming); err != nil {
		t.Fatal(err)
	}

	o, _ := Succeeded(map[string]any{"ok": true})
	if err := tk.Finish(o, now.Add(time.Second)); err != nil {
		t.Fatal(err)
	}
	if tk.State != StateCompleted || tk.CompletedAt == nil || len(tk.Artifact) == 0 {
		t.Fatalf("unexpected finished task %+v", tk)
	}

	if err := tk.Finish(FailedWith(failure.Cancelled(nil)), now); !errors.Is(err, ErrTerminal) {
		t.Fatalf("expected ErrTerminal, got %v", err)
	}
	if err := tk.Transition(StateRouting); !errors.Is(err, ErrTerminal) {
		t.Fatalf("expected ErrTerminal, got %v", err)
	}
}

func TestTaskCannotCompleteBeforeStreaming(t *testing.T) {
	tk := New("t2", time.Now())
	o, _ := Succeeded(nil)
	if err := tk.Finish(o, time.Now()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := tk.Finish(FailedWith(failure.Unsupported("x")), time.Now()); err != nil {
		t.Fatalf("created task may fail: %v", err)
	}
}
