// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
// The context carries request-scoped values such as the request ID.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	// Pending messages are processed; no new messages are accepted.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subjects are built from a configurable prefix, e.g. "agentrelay".
type Subjects struct {
	Prefix string
}

// TaskEvents is the subject carrying every event of one task.
func (s Subjects) TaskEvents(taskID string) string {
	return s.Prefix + ".tasks." + taskID + ".events"
}

// AllTaskEvents matches the events of every task.
func (s Subjects) AllTaskEvents() string {
	return s.Prefix + ".tasks.*.events"
}

// TaskStatus carries task state changes.
func (s Subjects) TaskStatus() string {
	return s.Prefix + ".tasks.status"
}

// TaskCancel accepts cancel requests from other processes.
func (s Subjects) TaskCancel() string {
	return s.Prefix + ".tasks.cancel"
}
