package service

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Strob0t/agentrelay/internal/domain/agent"
	"github.com/Strob0t/agentrelay/internal/domain/event"
	"github.com/Strob0t/agentrelay/internal/port/a2a"
	"github.com/Strob0t/agentrelay/internal/port/messagequeue"
)

// mockCache implements cache.Cache in memory, ignoring TTLs.
type mockCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMockCache() *mockCache { return &mockCache{data: map[string][]byte{}} }

func (c *mockCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mockCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *mockCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// mockAgentClient implements a2a.Client with canned results.
type mockAgentClient struct {
	card     *agent.Card
	cardErr  error
	gate     chan struct{} // when set, FetchCard blocks until it is closed
	fetches  atomic.Int32
	frames   []event.Frame
	callErr  error
	streamed atomic.Int32
	called   atomic.Int32
}

func (m *mockAgentClient) FetchCard(ctx context.Context, _ string) (*agent.Card, error) {
	m.fetches.Add(1)
	if m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.cardErr != nil {
		return nil, m.cardErr
	}
	c := *m.card
	return &c, nil
}

func (m *mockAgentClient) Call(context.Context, string, a2a.Message) (event.Frame, error) {
	m.called.Add(1)
	if m.callErr != nil {
		return event.Frame{}, m.callErr
	}
	return m.frames[len(m.frames)-1], nil
}

func (m *mockAgentClient) Stream(ctx context.Context, _ string, _ a2a.Message) (a2a.FrameStream, error) {
	m.streamed.Add(1)
	if m.callErr != nil {
		return nil, m.callErr
	}
	return &mockStream{ctx: ctx, frames: m.frames}, nil
}

// mockStream yields frames then io.EOF; with no frames it blocks until
// its context ends.
type mockStream struct {
	ctx    context.Context
	frames []event.Frame
	i      int
}

func (s *mockStream) Next() (event.Frame, error) {
	if s.i >= len(s.frames) {
		if len(s.frames) == 0 {
			<-s.ctx.Done()
			return event.Frame{}, s.ctx.Err()
		}
		return event.Frame{}, io.EOF
	}
	f := s.frames[s.i]
	s.i++
	return f, nil
}

func (s *mockStream) Close() error { return nil }

// mockQueue implements messagequeue.Queue for testing.
type mockQueue struct {
	mu        sync.Mutex
	published []published
	handlers  map[string]messagequeue.Handler
}

type published struct {
	subject string
	data    []byte
}

func (q *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published = append(q.published, published{subject, data})
	return nil
}

func (q *mockQueue) Subscribe(_ context.Context, subject string, h messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.handlers == nil {
		q.handlers = map[string]messagequeue.Handler{}
	}
	q.handlers[subject] = h
	return func() {}, nil
}

func (q *mockQueue) deliver(ctx context.Context, subject string, data []byte) error {
	q.mu.Lock()
	h := q.handlers[subject]
	q.mu.Unlock()
	return h(ctx, subject, data)
}

func (q *mockQueue) messages() []published {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]published(nil), q.published...)
}

func (q *mockQueue) Drain() error      { return nil }
func (q *mockQueue) Close() error      { return nil }
func (q *mockQueue) IsConnected() bool { return true }
