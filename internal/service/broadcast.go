package service

import (
	"context"

	"github.com/Strob0t/agentrelay/internal/domain/task"
	"github.com/Strob0t/agentrelay/internal/port/broadcast"
)

// AttachBroadcaster forwards every task state change to b.
func AttachBroadcaster(reg *Registry, b broadcast.Broadcaster) {
	reg.OnStateChange(func(s task.Snapshot) {
		b.BroadcastEvent(context.Background(), broadcast.EventTaskStatus, statusOf(s))
	})
}

func statusOf(s task.Snapshot) broadcast.TaskStatus {
	st := broadcast.TaskStatus{
		TaskID:   s.ID,
		State:    string(s.State),
		AgentID:  s.AgentID,
		LastSeq:  s.LastSeq,
		Finished: s.State.IsTerminal(),
	}
	if s.Failure != nil {
		st.Failure = string(s.Failure.Kind)
	}
	return st
}
