package messagequeue

import (
	"encoding/json"
	"time"
)

// TaskEventPayload is the schema for <prefix>.tasks.<id>.events messages.
type TaskEventPayload struct {
	TaskID  string         `json:"task_id"`
	Seq     uint64         `json:"seq"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
	Final   bool           `json:"final"`
	Time    time.Time      `json:"time"`
}

// TaskStatusPayload is the schema for <prefix>.tasks.status messages.
type TaskStatusPayload struct {
	TaskID   string          `json:"task_id"`
	State    string          `json:"state"`
	AgentID  string          `json:"agent_id,omitempty"`
	LastSeq  uint64          `json:"last_seq"`
	Failure  json.RawMessage `json:"failure,omitempty"`
	Finished bool            `json:"finished"`
}

// TaskCancelPayload is the schema for <prefix>.tasks.cancel messages.
type TaskCancelPayload struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason,omitempty"`
}
