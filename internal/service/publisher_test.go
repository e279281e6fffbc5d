package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Strob0t/agentrelay/internal/domain"
	"github.com/Strob0t/agentrelay/internal/domain/task"
	"github.com/Strob0t/agentrelay/internal/port/messagequeue"
)

func TestPublisherMirrorsTaskActivity(t *testing.T) {
	q := &mockQueue{}
	subjects := messagequeue.Subjects{Prefix: "relay"}
	pub := NewPublisher(q, subjects)
	pub.Start()

	reg := NewRegistry(RegistryConfig{})
	pub.Attach(reg)

	id := newStreamingTask(t, reg)
	if _, err := reg.Append(id, progress(1)); err != nil {
		t.Fatal(err)
	}
	out, _ := task.Succeeded(map[string]any{"ok": true})
	if _, err := reg.Finalize(id, out); err != nil {
		t.Fatal(err)
	}
	pub.Close()

	var events []messagequeue.TaskEventPayload
	var states []string
	for _, m := range q.messages() {
		if err := messagequeue.Validate(m.subject, m.data); err != nil {
			t.Fatalf("invalid message on %s: %v", m.subject, err)
		}
		switch m.subject {
		case subjects.TaskEvents(id):
			var ev messagequeue.TaskEventPayload
			if err := json.Unmarshal(m.data, &ev); err != nil {
				t.Fatal(err)
			}
			events = append(events, ev)
		case subjects.TaskStatus():
			var st messagequeue.TaskStatusPayload
			if err := json.Unmarshal(m.data, &st); err != nil {
				t.Fatal(err)
			}
			states = append(states, st.State)
		default:
			t.Fatalf("unexpected subject %s", m.subject)
		}
	}

	if len(events) != 2 || events[0].Seq != 1 || !events[1].Final {
		t.Fatalf("unexpected events %+v", events)
	}
	if len(states) != 4 || states[3] != string(task.StateCompleted) {
		t.Fatalf("unexpected states %v", states)
	}
	if pub.Dropped() != 0 {
		t.Fatalf("dropped %d messages", pub.Dropped())
	}
}

func TestPublisherDropsAfterClose(t *testing.T) {
	pub := NewPublisher(&mockQueue{}, messagequeue.Subjects{Prefix: "relay"})
	pub.Start()
	pub.Close()
	pub.publishStatus(task.Snapshot{ID: "t1", State: task.StateCreated})
	if pub.Dropped() != 1 {
		t.Fatalf("expected 1 dropped, got %d", pub.Dropped())
	}
}

type recordingCanceller struct {
	ids []string
	err error
}

func (c *recordingCanceller) Cancel(id string) error {
	c.ids = append(c.ids, id)
	return c.err
}

func TestListenForCancels(t *testing.T) {
	q := &mockQueue{}
	subjects := messagequeue.Subjects{Prefix: "relay"}
	c := &recordingCanceller{}

	if _, err := ListenForCancels(context.Background(), q, subjects, c); err != nil {
		t.Fatal(err)
	}
	if err := q.deliver(context.Background(), subjects.TaskCancel(), []byte(`{"task_id":"t1"}`)); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if len(c.ids) != 1 || c.ids[0] != "t1" {
		t.Fatalf("unexpected cancels %v", c.ids)
	}

	c.err = domain.ErrNotFound
	if err := q.deliver(context.Background(), subjects.TaskCancel(), []byte(`{"task_id":"elsewhere"}`)); err != nil {
		t.Fatalf("unknown task should be ignored, got %v", err)
	}

	c.err = errors.New("boom")
	if err := q.deliver(context.Background(), subjects.TaskCancel(), []byte(`{"task_id":"t3"}`)); err == nil {
		t.Fatal("expected unexpected errors to surface")
	}
}
