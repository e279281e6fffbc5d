package resilience

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/Strob0t/agentrelay/internal/domain/agent"
	"github.com/Strob0t/agentrelay/internal/domain/event"
	"github.com/Strob0t/agentrelay/internal/domain/failure"
	"github.com/Strob0t/agentrelay/internal/port/a2a"
)

// Client decorates a transport with a per-endpoint breaker and retries.
// The breaker gates the start of each logical call, every failed attempt
// is recorded on it, and retrying stops as soon as it opens.
type Client struct {
	next     a2a.Client
	breakers *BreakerSet
	retrier  *Retrier
}

var _ a2a.Client = (*Client)(nil)

// NewClient wraps next.
func NewClient(next a2a.Client, breakers *BreakerSet, retrier *Retrier) *Client {
	return &Client{next: next, breakers: breakers, retrier: retrier}
}

// Call performs a resilient blocking call.
func (c *Client) Call(ctx context.Context, endpoint string, msg a2a.Message) (event.Frame, error) {
	var out event.Frame
	b := c.breakers.For(endpoint)
	err := c.run(ctx, endpoint, b, func(ctx context.Context) error {
		f, err := c.next.Call(ctx, endpoint, msg)
		if err == nil {
			out = f
		}
		return err
	})
	settle(ctx, b, err)
	return out, err
}

// FetchCard fetches a card under the same protection as calls.
func (c *Client) FetchCard(ctx context.Context, endpoint string) (*agent.Card, error) {
	var out *agent.Card
	b := c.breakers.For(endpoint)
	err := c.run(ctx, endpoint, b, func(ctx context.Context) error {
		card, err := c.next.FetchCard(ctx, endpoint)
		if err == nil {
			out = card
		}
		return err
	})
	settle(ctx, b, err)
	return out, err
}

// Stream retries establishment only. The returned stream settles the
// breaker when it ends: success on the final frame, failure on a counted
// mid-stream error. A broken stream is never restarted.
func (c *Client) Stream(ctx context.Context, endpoint string, msg a2a.Message) (a2a.FrameStream, error) {
	var st a2a.FrameStream
	b := c.breakers.For(endpoint)
	err := c.run(ctx, endpoint, b, func(ctx context.Context) error {
		s, err := c.next.Stream(ctx, endpoint, msg)
		if err == nil {
			st = s
		}
		return err
	})
	if err != nil {
		settle(ctx, b, err)
		return nil, err
	}
	return &guardedStream{FrameStream: st, ctx: ctx, breaker: b}, nil
}

// Breakers exposes the breaker set for inspection.
func (c *Client) Breakers() *BreakerSet {
	return c.breakers
}

func (c *Client) run(ctx context.Context, endpoint string, b *Breaker, fn func(context.Context) error) error {
	if err := b.Allow(); err != nil {
		fe := failure.CircuitOpen(endpoint)
		fe.Err = err
		return fe
	}
	return c.retrier.Do(ctx, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && counts(ctx, err) {
			b.Failure()
		}
		return err
	}, b.IsOpen)
}

// counts reports whether err says the endpoint is unhealthy. Client errors
// and caller cancellation do not.
func counts(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.Canceled) {
		return false
	}
	fe, ok := failure.As(err)
	if !ok {
		return false
	}
	switch fe.Kind {
	case failure.KindUnreachable, failure.KindProtocol:
		return true
	case failure.KindRemote:
		return fe.Retryable
	}
	return false
}

// settle records the outcome of a finished logical call. Failed attempts
// were already recorded inside run.
func settle(ctx context.Context, b *Breaker, err error) {
	switch {
	case err == nil:
		b.Success()
	case failure.KindOf(err) == failure.KindCircuitOpen:
	case counts(ctx, err):
	case failure.KindOf(err) == failure.KindRemote:
		// The endpoint answered; a 4xx is the caller's problem.
		b.Success()
	default:
		b.Release()
	}
}

type guardedStream struct {
	a2a.FrameStream
	ctx     context.Context
	breaker *Breaker
	once    sync.Once
}

func (s *guardedStream) Next() (event.Frame, error) {
	f, err := s.FrameStream.Next()
	switch {
	case err == nil:
		if f.Event.Final {
			s.once.Do(s.breaker.Success)
		}
		return f, nil
	case errors.Is(err, io.EOF):
		s.once.Do(s.breaker.Success)
	case counts(s.ctx, err):
		s.once.Do(s.breaker.Failure)
	default:
		s.once.Do(s.breaker.Release)
	}
	return f, err
}

func (s *guardedStream) Close() error {
	s.once.Do(s.breaker.Release)
	return s.FrameStream.Close()
}
