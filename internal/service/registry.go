package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/agentrelay/internal/domain"
	"github.com/Strob0t/agentrelay/internal/domain/event"
	"github.com/Strob0t/agentrelay/internal/domain/task"
)

var (
	// ErrSubscriberOverflow ends a subscription whose reader fell behind
	// the bounded channel. The reader should resubscribe from its cursor.
	ErrSubscriberOverflow = errors.New("subscriber overflow")
	// ErrUnsubscribed ends a subscription closed by its owner.
	ErrUnsubscribed = errors.New("unsubscribed")
)

// RegistryConfig bounds registry memory.
type RegistryConfig struct {
	BufferSize       int // events kept per task
	SubscriberBuffer int // live events queued per subscriber
}

// Registry is the in-memory store of tasks and their event logs. Append
// and Finalize are the only writers of events; both hold the task lock
// while fanning out, so subscribers observe events in seq order.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*record

	cfg   RegistryConfig
	now   func() time.Time
	newID func() string

	hookMu      sync.RWMutex
	eventHooks  []func(taskID string, ev event.Event)
	stateHooks  []func(snap task.Snapshot)
	overflowFns []func(taskID string)
}

type record struct {
	mu      sync.Mutex
	task    *task.Task
	events  []event.Event // oldest first, at most cfg.BufferSize
	lastSeq uint64
	subs    map[*Subscription]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 256
	}
	if cfg.SubscriberBuffer < 1 {
		cfg.SubscriberBuffer = 64
	}
	return &Registry{
		tasks: make(map[string]*record),
		cfg:   cfg,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// OnEvent registers fn to observe every appended event in seq order. fn
// runs under the task lock and must not block or call into the registry.
func (r *Registry) OnEvent(fn func(taskID string, ev event.Event)) {
	r.hookMu.Lock()
	r.eventHooks = append(r.eventHooks, fn)
	r.hookMu.Unlock()
}

// OnStateChange registers fn to observe task state changes. Snapshots
// passed to fn carry no events. The same restrictions as OnEvent apply.
func (r *Registry) OnStateChange(fn func(snap task.Snapshot)) {
	r.hookMu.Lock()
	r.stateHooks = append(r.stateHooks, fn)
	r.hookMu.Unlock()
}

// OnOverflow registers fn to be told when a subscriber is disconnected.
func (r *Registry) OnOverflow(fn func(taskID string)) {
	r.hookMu.Lock()
	r.overflowFns = append(r.overflowFns, fn)
	r.hookMu.Unlock()
}

// Create registers a new task in the created state.
func (r *Registry) Create() task.Snapshot {
	rec := &record{
		task: task.New(r.newID(), r.now()),
		subs: make(map[*Subscription]struct{}),
	}
	r.mu.Lock()
	r.tasks[rec.task.ID] = rec
	r.mu.Unlock()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	snap := rec.snapshot(false)
	r.notifyState(snap)
	return snap
}

func (r *Registry) lookup(id string) (*record, error) {
	r.mu.RLock()
	rec, ok := r.tasks[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	return rec, nil
}

// Transition moves a task to a non-terminal state.
func (r *Registry) Transition(id string, next task.State) error {
	rec, err := r.lookup(id)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if err := rec.task.Transition(next); err != nil {
		if errors.Is(err, task.ErrTerminal) {
			slog.Warn("transition on terminal task ignored", "task_id", id, "state", next)
		}
		return err
	}
	r.notifyState(rec.snapshot(false))
	return nil
}

// AssignAgent records the agent chosen by routing.
func (r *Registry) AssignAgent(id, agentID string) error {
	rec, err := r.lookup(id)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.task.State.IsTerminal() {
		return task.ErrTerminal
	}
	rec.task.AgentID = agentID
	return nil
}

// Append adds a non-terminal event, assigning the next seq, and fans it
// out. On a terminal task it is a no-op returning task.ErrTerminal.
func (r *Registry) Append(id string, ev event.Event) (event.Event, error) {
	rec, err := r.lookup(id)
	if err != nil {
		return event.Event{}, err
	}
	if ev.Final || ev.Type.Terminal() {
		return event.Event{}, fmt.Errorf("%w: terminal events are written by Finalize", domain.ErrValidation)
	}
	if err := ev.Validate(); err != nil {
		return event.Event{}, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.task.State.IsTerminal() {
		slog.Warn("append on terminal task ignored", "task_id", id, "type", ev.Type)
		return event.Event{}, task.ErrTerminal
	}
	return r.write(rec, ev), nil
}

// Finalize applies the terminal outcome and writes the one terminal event.
// Every subscription ends after receiving it.
func (r *Registry) Finalize(id string, o task.Outcome) (event.Event, error) {
	rec, err := r.lookup(id)
	if err != nil {
		return event.Event{}, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if err := rec.task.Finish(o, r.now()); err != nil {
		if errors.Is(err, task.ErrTerminal) {
			slog.Warn("finalize on terminal task ignored", "task_id", id)
		}
		return event.Event{}, err
	}

	ev := r.write(rec, o.TerminalEvent())
	for sub := range rec.subs {
		sub.end(nil)
	}
	clear(rec.subs)
	r.notifyState(rec.snapshot(false))
	return ev, nil
}

// write must be called with rec.mu held.
func (r *Registry) write(rec *record, ev event.Event) event.Event {
	rec.lastSeq++
	ev.Seq = rec.lastSeq
	ev.Time = r.now()

	rec.events = append(rec.events, ev)
	if over := len(rec.events) - r.cfg.BufferSize; over > 0 {
		rec.events = slices.Delete(rec.events, 0, over)
	}

	for sub := range rec.subs {
		select {
		case sub.ch <- ev.Clone():
		default:
			delete(rec.subs, sub)
			sub.end(ErrSubscriberOverflow)
			slog.Warn("subscriber disconnected on overflow", "task_id", rec.task.ID, "seq", ev.Seq)
			r.notifyOverflow(rec.task.ID)
		}
	}

	r.hookMu.RLock()
	for _, fn := range r.eventHooks {
		fn(rec.task.ID, ev.Clone())
	}
	r.hookMu.RUnlock()
	return ev
}

// Get returns a snapshot including the buffered events.
func (r *Registry) Get(id string) (task.Snapshot, error) {
	rec, err := r.lookup(id)
	if err != nil {
		return task.Snapshot{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.snapshot(true), nil
}

// List returns snapshots of every task, oldest first, without events.
func (r *Registry) List() []task.Snapshot {
	r.mu.RLock()
	recs := make([]*record, 0, len(r.tasks))
	for _, rec := range r.tasks {
		recs = append(recs, rec)
	}
	r.mu.RUnlock()

	out := make([]task.Snapshot, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		out = append(out, rec.snapshot(false))
		rec.mu.Unlock()
	}
	slices.SortFunc(out, func(a, b task.Snapshot) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out
}

// Subscribe returns the buffered events with seq >= fromSeq and registers
// for live events, atomically, so no event is missed or repeated. On a
// terminal task the subscription is already ended.
func (r *Registry) Subscribe(id string, fromSeq uint64) (*Subscription, error) {
	rec, err := r.lookup(id)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	sub := &Subscription{
		TaskID: id,
		ch:     make(chan event.Event, r.cfg.SubscriberBuffer),
		done:   make(chan struct{}),
		rec:    rec,
	}
	for _, ev := range rec.events {
		if ev.Seq >= fromSeq {
			sub.Replay = append(sub.Replay, ev.Clone())
		}
	}
	if len(rec.events) > 0 && fromSeq < rec.events[0].Seq && rec.events[0].Seq > 1 {
		sub.Truncated = true
	}

	if rec.task.State.IsTerminal() {
		sub.end(nil)
		return sub, nil
	}
	rec.subs[sub] = struct{}{}
	return sub, nil
}

// Sweep removes terminal tasks that completed more than maxAge ago and
// returns how many were removed.
func (r *Registry) Sweep(maxAge time.Duration) int {
	cutoff := r.now().Add(-maxAge)

	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, rec := range r.tasks {
		rec.mu.Lock()
		expired := rec.task.CompletedAt != nil && rec.task.CompletedAt.Before(cutoff)
		rec.mu.Unlock()
		if expired {
			delete(r.tasks, id)
			n++
		}
	}
	return n
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(maxAge); n > 0 {
				slog.Info("swept finished tasks", "removed", n)
			}
		}
	}
}

func (r *Registry) notifyState(snap task.Snapshot) {
	r.hookMu.RLock()
	defer r.hookMu.RUnlock()
	for _, fn := range r.stateHooks {
		fn(snap)
	}
}

func (r *Registry) notifyOverflow(taskID string) {
	r.hookMu.RLock()
	defer r.hookMu.RUnlock()
	for _, fn := range r.overflowFns {
		fn(taskID)
	}
}

// snapshot must be called with rec.mu held.
func (rec *record) snapshot(withEvents bool) task.Snapshot {
	t := rec.task
	snap := task.Snapshot{
		ID:          t.ID,
		State:       t.State,
		AgentID:     t.AgentID,
		CreatedAt:   t.CreatedAt,
		CompletedAt: t.CompletedAt,
		LastSeq:     rec.lastSeq,
		Artifact:    t.Artifact,
		Failure:     t.Failure,
		Subscribers: len(rec.subs),
	}
	if withEvents {
		snap.Events = make([]event.Event, len(rec.events))
		for i, ev := range rec.events {
			snap.Events[i] = ev.Clone()
		}
	}
	return snap
}

// Subscription is one reader of a task's events. Replay holds the buffered
// events at subscribe time; Events delivers everything after them.
type Subscription struct {
	TaskID    string
	Replay    []event.Event
	Truncated bool // events before the cursor were already evicted

	ch   chan event.Event
	done chan struct{}
	rec  *record
	once sync.Once
	err  error
}

// Events is closed when the subscription ends. Check Err afterwards.
func (s *Subscription) Events() <-chan event.Event {
	return s.ch
}

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err reports why the subscription ended: nil after the terminal event,
// ErrSubscriberOverflow, or ErrUnsubscribed. Valid once Done is closed.
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close detaches the subscriber. Safe to call more than once.
func (s *Subscription) Close() {
	s.rec.mu.Lock()
	defer s.rec.mu.Unlock()
	if _, ok := s.rec.subs[s]; ok {
		delete(s.rec.subs, s)
	}
	s.end(ErrUnsubscribed)
}

// end must be called with the record lock held.
func (s *Subscription) end(err error) {
	s.once.Do(func() {
		s.err = err
		// done first: a reader that sees ch closed must also see err.
		close(s.done)
		close(s.ch)
	})
}
