package service

import (
	"context"
	"sync"
	"testing"

	"github.com/Strob0t/agentrelay/internal/domain/failure"
	"github.com/Strob0t/agentrelay/internal/domain/task"
	"github.com/Strob0t/agentrelay/internal/port/broadcast"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []broadcast.TaskStatus
}

func (b *recordingBroadcaster) BroadcastEvent(_ context.Context, eventType string, payload any) {
	if eventType != broadcast.EventTaskStatus {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, payload.(broadcast.TaskStatus))
}

func TestAttachBroadcaster(t *testing.T) {
	reg := NewRegistry(RegistryConfig{})
	b := &recordingBroadcaster{}
	AttachBroadcaster(reg, b)

	snap := reg.Create()
	if _, err := reg.Finalize(snap.ID, task.FailedWith(failure.Unsupported("no route"))); err != nil {
		t.Fatal(err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) != 2 {
		t.Fatalf("expected created and failed, got %+v", b.events)
	}
	last := b.events[1]
	if last.State != string(task.StateFailed) || !last.Finished || last.Failure != string(failure.KindUnsupported) {
		t.Fatalf("unexpected final status %+v", last)
	}
	if last.LastSeq != 1 {
		t.Fatalf("expected last seq 1, got %d", last.LastSeq)
	}
}
