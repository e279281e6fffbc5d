package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	relayotel "github.com/Strob0t/agentrelay/internal/adapter/otel"
	"github.com/Strob0t/agentrelay/internal/domain"
	"github.com/Strob0t/agentrelay/internal/domain/agent"
	"github.com/Strob0t/agentrelay/internal/domain/event"
	"github.com/Strob0t/agentrelay/internal/domain/failure"
	"github.com/Strob0t/agentrelay/internal/domain/routing"
	"github.com/Strob0t/agentrelay/internal/domain/task"
	"github.com/Strob0t/agentrelay/internal/logger"
	"github.com/Strob0t/agentrelay/internal/port/a2a"
	"github.com/Strob0t/agentrelay/internal/resilience"
)

var (
	errCancelRequested = errors.New("cancel requested")
	errShuttingDown    = errors.New("relay shutting down")
)

// ExecutorConfig holds the downstream deadlines and concurrency cap.
type ExecutorConfig struct {
	CallTimeout   time.Duration // blocking calls
	StreamTimeout time.Duration // whole streams, unless the agent overrides it
	MaxConcurrent int           // runs executing at once; 0 is unlimited
}

// Executor drives each submitted task through
// created -> routing -> streaming -> completed|failed. Each task runs in
// its own goroutine, which is the only writer of that task's events.
type Executor struct {
	registry  *Registry
	router    *Router
	resolver  *CardResolver
	client    a2a.Client
	directory *Directory
	cfg       ExecutorConfig
	bulkhead  *resilience.Bulkhead
	metrics   *relayotel.Metrics

	mu      sync.Mutex
	runs    map[string]context.CancelCauseFunc
	closing bool
	wg      sync.WaitGroup
}

// NewExecutor wires an executor. client should be the resilient client.
func NewExecutor(registry *Registry, router *Router, resolver *CardResolver, client a2a.Client, directory *Directory, cfg ExecutorConfig) *Executor {
	return &Executor{
		registry:  registry,
		router:    router,
		resolver:  resolver,
		client:    client,
		directory: directory,
		cfg:       cfg,
		bulkhead:  resilience.NewBulkhead(cfg.MaxConcurrent),
		runs:      make(map[string]context.CancelCauseFunc),
	}
}

// SetMetrics enables task metrics.
func (e *Executor) SetMetrics(m *relayotel.Metrics) { e.metrics = m }

// Submit validates req, creates its task and starts it. The returned
// snapshot is taken before the run begins. The run outlives ctx.
func (e *Executor) Submit(ctx context.Context, req routing.WorkRequest) (task.Snapshot, error) {
	if req.Kind == "" {
		req.Kind = routing.KindText
	}
	if err := req.Validate(); err != nil {
		return task.Snapshot{}, err
	}

	e.mu.Lock()
	if e.closing {
		e.mu.Unlock()
		return task.Snapshot{}, fmt.Errorf("submit: %w", errShuttingDown)
	}
	snap := e.registry.Create()
	runCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	e.runs[snap.ID] = cancel
	e.wg.Add(1)
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.TasksSubmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(req.Kind))))
	}
	slog.InfoContext(ctx, "task submitted", "task_id", snap.ID, "kind", req.Kind, "size", len(req.Content))

	go e.run(runCtx, snap.ID, req)
	return snap, nil
}

// Cancel stops a running task. It fails with domain.ErrNotFound for an
// unknown task and domain.ErrConflict for one already finished.
func (e *Executor) Cancel(id string) error {
	snap, err := e.registry.Get(id)
	if err != nil {
		return err
	}
	if snap.State.IsTerminal() {
		return fmt.Errorf("task %s is %s: %w", id, snap.State, domain.ErrConflict)
	}

	e.mu.Lock()
	cancel, ok := e.runs[id]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("task %s is finishing: %w", id, domain.ErrConflict)
	}
	cancel(errCancelRequested)
	slog.Info("task cancel requested", "task_id", id)
	return nil
}

// Shutdown cancels every running task and waits for them to record their
// terminal event, or for ctx to end.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closing = true
	for _, cancel := range e.runs {
		cancel(errShuttingDown)
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) run(ctx context.Context, id string, req routing.WorkRequest) {
	defer e.wg.Done()
	defer func() {
		e.mu.Lock()
		cancel := e.runs[id]
		delete(e.runs, id)
		e.mu.Unlock()
		if cancel != nil {
			cancel(nil)
		}
	}()

	ctx = logger.WithTaskID(ctx, id)
	ctx, span := relayotel.StartTaskSpan(ctx, id, string(req.Kind))
	defer span.End()

	var out task.Outcome
	if err := e.bulkhead.Do(ctx, func() { out = e.execute(ctx, id, req) }); err != nil {
		out = task.FailedWith(failure.Cancelled(context.Cause(ctx)))
	}
	if out.Failure != nil && ctx.Err() != nil {
		// Whatever the downstream reported, the run ended because it was stopped.
		out = task.FailedWith(failure.Cancelled(context.Cause(ctx)))
	}

	ev, err := e.registry.Finalize(id, out)
	if err != nil {
		slog.ErrorContext(ctx, "finalize task", "error", err)
		return
	}

	snap, _ := e.registry.Get(id)
	attrs := metric.WithAttributes(attribute.String("agent", snap.AgentID))
	if out.Failure != nil {
		span.SetStatus(codes.Error, out.Failure.Message)
		span.SetAttributes(attribute.String("failure.kind", string(out.Failure.Kind)))
		slog.WarnContext(ctx, "task failed", "agent", snap.AgentID, "kind", out.Failure.Kind, "error", out.Failure.Message, "seq", ev.Seq)
		if e.metrics != nil {
			e.metrics.TasksFailed.Add(ctx, 1, metric.WithAttributes(
				attribute.String("agent", snap.AgentID),
				attribute.String("failure_kind", string(out.Failure.Kind)),
			))
		}
	} else {
		slog.InfoContext(ctx, "task completed", "agent", snap.AgentID, "seq", ev.Seq)
		if e.metrics != nil {
			e.metrics.TasksCompleted.Add(ctx, 1, attrs)
		}
	}
	if e.metrics != nil && snap.CompletedAt != nil {
		e.metrics.TaskDuration.Record(ctx, snap.CompletedAt.Sub(snap.CreatedAt).Seconds(), attrs)
	}
}

// execute runs the task up to its outcome. Only Finalize, called by run,
// writes the terminal event.
func (e *Executor) execute(ctx context.Context, id string, req routing.WorkRequest) task.Outcome {
	if err := e.registry.Transition(id, task.StateRouting); err != nil {
		return task.FailedWith(err)
	}

	d, ok := e.router.Classify(ctx, req)
	if !ok {
		return task.FailedWith(failure.Unsupported("no routing rule accepts this %s work", req.Kind))
	}
	entry, ok := e.directory.Lookup(d.Agent)
	if !ok {
		slog.ErrorContext(ctx, "routed agent has no endpoint", "agent", d.Agent)
		return task.FailedWith(failure.Unsupported("agent %q has no endpoint configured", d.Agent))
	}

	if err := e.registry.AssignAgent(id, d.Agent); err != nil {
		return task.FailedWith(err)
	}
	if _, err := e.registry.Append(id, event.Routing(d.Agent, entry.Endpoint, string(d.Stage), d.Pattern)); err != nil {
		return task.FailedWith(err)
	}

	card, err := e.resolver.Resolve(ctx, entry.Endpoint)
	if err != nil {
		return task.FailedWith(err)
	}

	if err := e.registry.Transition(id, task.StateStreaming); err != nil {
		return task.FailedWith(err)
	}

	msg := newMessage(id, req, d)
	if !card.Capabilities.Streaming {
		return e.call(ctx, entry, msg)
	}
	return e.stream(ctx, id, entry, card, msg)
}

func (e *Executor) call(ctx context.Context, entry AgentEntry, msg a2a.Message) task.Outcome {
	ctx, span := relayotel.StartDownstreamSpan(ctx, entry.ID, entry.Endpoint, false)
	defer span.End()

	timeout := e.cfg.CallTimeout
	if entry.Timeout > 0 {
		timeout = entry.Timeout
	}
	callCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	f, err := e.client.Call(callCtx, entry.Endpoint, msg)
	if err != nil {
		return task.FailedWith(deadlineFailure(ctx, callCtx, err, entry, timeout))
	}
	if e.metrics != nil {
		e.metrics.EventsRelayed.Add(ctx, 1, metric.WithAttributes(attribute.String("agent", entry.ID)))
	}
	return frameOutcome(f)
}

func (e *Executor) stream(ctx context.Context, id string, entry AgentEntry, card *agent.Card, msg a2a.Message) task.Outcome {
	ctx, span := relayotel.StartDownstreamSpan(ctx, entry.ID, entry.Endpoint, true)
	defer span.End()

	timeout := e.cfg.StreamTimeout
	if entry.Timeout > 0 {
		timeout = entry.Timeout
	}
	streamCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	st, err := e.client.Stream(streamCtx, entry.Endpoint, msg)
	if err != nil {
		return task.FailedWith(deadlineFailure(ctx, streamCtx, err, entry, timeout))
	}
	defer func() { _ = st.Close() }()

	slog.DebugContext(ctx, "streaming from agent", "agent", entry.ID, "card", card.Name)
	attrs := metric.WithAttributes(attribute.String("agent", entry.ID))
	for {
		f, err := st.Next()
		if errors.Is(err, io.EOF) {
			return task.FailedWith(failure.Protocol(nil, "stream from %s ended without a final frame", entry.ID))
		}
		if err != nil {
			return task.FailedWith(deadlineFailure(ctx, streamCtx, err, entry, timeout))
		}
		if e.metrics != nil {
			e.metrics.EventsRelayed.Add(ctx, 1, attrs)
		}
		if f.Event.Final {
			return frameOutcome(f)
		}
		if _, err := e.registry.Append(id, event.Translate(f)); err != nil {
			slog.WarnContext(ctx, "downstream frame dropped", "type", f.Event.Type, "error", err)
		}
	}
}

// frameOutcome turns a final frame into the task outcome. A failure frame
// keeps the agent's payload unchanged; a bare blocking result keeps its
// artifact verbatim.
func frameOutcome(f event.Frame) task.Outcome {
	if f.Failed() {
		return task.AgentFailed(f.Event.Payload)
	}
	if len(f.Artifact) > 0 {
		return task.Completed(f.Artifact, f.Event.Payload)
	}
	out, err := task.Succeeded(f.Event.Payload)
	if err != nil {
		return task.FailedWith(failure.Protocol(err, "final frame payload"))
	}
	return out
}

// deadlineFailure reports a downstream deadline as Unreachable. Errors
// caused by the run being stopped pass through for run to reclassify.
func deadlineFailure(runCtx, opCtx context.Context, err error, entry AgentEntry, timeout time.Duration) error {
	if runCtx.Err() == nil && errors.Is(opCtx.Err(), context.DeadlineExceeded) && failure.KindOf(err) != failure.KindUnreachable {
		return failure.Unreachable(err, "agent %s exceeded %s", entry.ID, timeout)
	}
	return err
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

var mimeTypes = map[routing.ContentKind]string{
	routing.KindJSON: "application/json",
	routing.KindCSV:  "text/csv",
	routing.KindXML:  "application/xml",
	routing.KindText: "text/plain",
}

func newMessage(taskID string, req routing.WorkRequest, d routing.Decision) a2a.Message {
	return a2a.Message{
		MessageID: uuid.NewString(),
		TaskID:    taskID,
		Role:      "user",
		Parts:     []a2a.Part{{Kind: "text", Text: req.Content, MimeType: mimeTypes[req.Kind]}},
		Metadata: map[string]any{
			"content_kind": string(req.Kind),
			"route":        map[string]any{"agent": d.Agent, "stage": string(d.Stage), "rule": d.Pattern},
		},
	}
}
