// Package broadcast defines the port for broadcasting real-time events to connected clients.
package broadcast

import "context"

// EventTaskStatus is the event type of TaskStatus payloads.
const EventTaskStatus = "task.status"

// TaskStatus is broadcast whenever a task changes state.
type TaskStatus struct {
	TaskID   string `json:"task_id"`
	State    string `json:"state"`
	AgentID  string `json:"agent_id,omitempty"`
	LastSeq  uint64 `json:"last_seq"`
	Failure  string `json:"failure,omitempty"` // failure kind for failed tasks
	Finished bool   `json:"finished"`
}

// Broadcaster sends real-time events to all connected clients. Implementations
// must not block the caller on slow clients.
type Broadcaster interface {
	// BroadcastEvent sends a typed event to all connected clients.
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}
