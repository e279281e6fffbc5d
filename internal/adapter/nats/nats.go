// Package nats implements the message queue port using core NATS.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Strob0t/agentrelay/internal/logger"
	"github.com/Strob0t/agentrelay/internal/port/messagequeue"
)

const headerRequestID = "X-Request-ID"

// Queue implements messagequeue.Queue over a NATS connection.
type Queue struct {
	nc *nats.Conn
}

var _ messagequeue.Queue = (*Queue)(nil)

// Connect establishes a connection to NATS. The client keeps reconnecting
// in the background after a lost connection.
func Connect(_ context.Context, url string) (*Queue, error) {
	nc, err := nats.Connect(url,
		nats.Name("agentrelay"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	slog.Info("nats connected", "url", nc.ConnectedUrl())
	return &Queue{nc: nc}, nil
}

// Publish sends a message to the given subject. The request ID from ctx,
// if any, travels as a header.
func (q *Queue) Publish(ctx context.Context, subject string, data []byte) error {
	msg := &nats.Msg{Subject: subject, Data: data, Header: nats.Header{}}
	if id := logger.RequestID(ctx); id != "" {
		msg.Header.Set(headerRequestID, id)
	}
	if err := q.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers a handler for messages on the given subject.
// Messages failing schema validation are logged and dropped.
func (q *Queue) Subscribe(_ context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	sub, err := q.nc.Subscribe(subject, func(msg *nats.Msg) {
		if err := messagequeue.Validate(msg.Subject, msg.Data); err != nil {
			slog.Warn("dropping invalid message", "subject", msg.Subject, "error", err)
			return
		}

		ctx := context.Background()
		if id := msg.Header.Get(headerRequestID); id != "" {
			ctx = logger.WithRequestID(ctx, id)
		}
		if err := handler(ctx, msg.Subject, msg.Data); err != nil {
			slog.ErrorContext(ctx, "message handler failed", "subject", msg.Subject, "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	return func() {
		if err := sub.Unsubscribe(); err != nil {
			slog.Debug("nats unsubscribe", "subject", subject, "error", err)
		}
	}, nil
}

// Drain gracefully drains all subscriptions and closes the connection.
func (q *Queue) Drain() error {
	return q.nc.Drain()
}

// Close shuts down the NATS connection.
func (q *Queue) Close() error {
	q.nc.Close()
	return nil
}

// Conn returns the underlying connection for components that need
// JetStream, such as the shared card tier.
func (q *Queue) Conn() *nats.Conn {
	return q.nc
}

// IsConnected reports whether the connection is up.
func (q *Queue) IsConnected() bool {
	return q.nc.IsConnected()
}
