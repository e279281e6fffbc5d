// Package a2a defines the agent-to-agent transport port and this relay's
// own published agent card.
package a2a

import (
	"context"

	"github.com/Strob0t/agentrelay/internal/domain/agent"
	"github.com/Strob0t/agentrelay/internal/domain/event"
)

// JSON-RPC method names used downstream.
const (
	MethodSend   = "message/send"
	MethodStream = "message/stream"
)

// Message is the work handed to a downstream agent as params.message.
type Message struct {
	MessageID string         `json:"messageId"`
	TaskID    string         `json:"taskId,omitempty"`
	Role      string         `json:"role"`
	Parts     []Part         `json:"parts"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Part is one piece of message content.
type Part struct {
	Kind     string `json:"kind"`
	Text     string `json:"text,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// FrameStream yields the frames of one streamed call. Next returns io.EOF
// after the final frame. Close releases the connection and may be called
// at any time, including concurrently with Next.
type FrameStream interface {
	Next() (event.Frame, error)
	Close() error
}

// Client is the outbound transport to downstream agents. Implementations
// classify every error with the failure package.
type Client interface {
	// Call performs a blocking message/send and returns the final frame.
	Call(ctx context.Context, endpoint string, msg Message) (event.Frame, error)
	// Stream opens a message/stream call.
	Stream(ctx context.Context, endpoint string, msg Message) (FrameStream, error)
	// FetchCard retrieves the agent card served at endpoint.
	FetchCard(ctx context.Context, endpoint string) (*agent.Card, error)
}
