package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Strob0t/agentrelay/internal/domain"
	"github.com/Strob0t/agentrelay/internal/domain/event"
	"github.com/Strob0t/agentrelay/internal/domain/task"
	"github.com/Strob0t/agentrelay/internal/port/messagequeue"
)

const publishBuffer = 1024

type outbound struct {
	subject string
	data    []byte
}

// Publisher mirrors task events and status changes onto the message queue
// and accepts cancel requests from it. Registry hooks only enqueue; a
// background worker does the publishing, dropping messages when it falls
// behind so task execution never waits on the broker.
type Publisher struct {
	queue    messagequeue.Queue
	subjects messagequeue.Subjects

	ch      chan outbound
	dropped atomic.Int64
	wg      sync.WaitGroup
	mu      sync.Mutex
	closed  bool
}

// NewPublisher creates a publisher. Call Start before attaching it.
func NewPublisher(queue messagequeue.Queue, subjects messagequeue.Subjects) *Publisher {
	return &Publisher{
		queue:    queue,
		subjects: subjects,
		ch:       make(chan outbound, publishBuffer),
	}
}

// Attach registers the publisher's hooks on reg.
func (p *Publisher) Attach(reg *Registry) {
	reg.OnEvent(p.publishEvent)
	reg.OnStateChange(p.publishStatus)
}

// Start runs the publishing worker until Close.
func (p *Publisher) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for msg := range p.ch {
			if err := p.queue.Publish(context.Background(), msg.subject, msg.data); err != nil {
				slog.Warn("publish task message", "subject", msg.subject, "error", err)
			}
		}
	}()
}

// Close stops accepting messages and waits for queued ones to be sent.
func (p *Publisher) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.ch)
	}
	p.mu.Unlock()
	p.wg.Wait()
	if n := p.dropped.Load(); n > 0 {
		slog.Warn("task messages dropped", "count", n)
	}
}

// Dropped returns how many messages were discarded.
func (p *Publisher) Dropped() int64 {
	return p.dropped.Load()
}

func (p *Publisher) enqueue(subject string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("marshal task message", "subject", subject, "error", err)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.dropped.Add(1)
		return
	}
	select {
	case p.ch <- outbound{subject: subject, data: data}:
	default:
		p.dropped.Add(1)
	}
}

func (p *Publisher) publishEvent(taskID string, ev event.Event) {
	p.enqueue(p.subjects.TaskEvents(taskID), messagequeue.TaskEventPayload{
		TaskID:  taskID,
		Seq:     ev.Seq,
		Type:    string(ev.Type),
		Payload: ev.Payload,
		Final:   ev.Final,
		Time:    ev.Time,
	})
}

func (p *Publisher) publishStatus(snap task.Snapshot) {
	msg := messagequeue.TaskStatusPayload{
		TaskID:   snap.ID,
		State:    string(snap.State),
		AgentID:  snap.AgentID,
		LastSeq:  snap.LastSeq,
		Finished: snap.State.IsTerminal(),
	}
	if snap.Failure != nil {
		msg.Failure, _ = json.Marshal(snap.Failure)
	}
	p.enqueue(p.subjects.TaskStatus(), msg)
}

// Canceller stops a task by id.
type Canceller interface {
	Cancel(id string) error
}

// ListenForCancels subscribes to remote cancel requests. Requests for
// tasks this process does not own, or that already finished, are ignored.
func ListenForCancels(ctx context.Context, queue messagequeue.Queue, subjects messagequeue.Subjects, c Canceller) (func(), error) {
	return queue.Subscribe(ctx, subjects.TaskCancel(), func(ctx context.Context, _ string, data []byte) error {
		var req messagequeue.TaskCancelPayload
		if err := json.Unmarshal(data, &req); err != nil {
			return fmt.Errorf("decode cancel request: %w", err)
		}
		err := c.Cancel(req.TaskID)
		switch {
		case err == nil:
			slog.InfoContext(ctx, "remote cancel applied", "task_id", req.TaskID, "reason", req.Reason)
		case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrConflict):
			slog.DebugContext(ctx, "remote cancel ignored", "task_id", req.TaskID, "error", err)
		default:
			return err
		}
		return nil
	})
}
