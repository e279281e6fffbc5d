package resilience

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/Strob0t/agentrelay/internal/domain/agent"
	"github.com/Strob0t/agentrelay/internal/domain/event"
	"github.com/Strob0t/agentrelay/internal/domain/failure"
	"github.com/Strob0t/agentrelay/internal/port/a2a"
)

// scriptedTransport fails the first failN calls with failErr.
type scriptedTransport struct {
	calls   int
	failN   int
	failErr error
	frames  []event.Frame
	tailErr error
}

func (s *scriptedTransport) attempt() error {
	s.calls++
	if s.calls <= s.failN {
		return s.failErr
	}
	return nil
}

func (s *scriptedTransport) Call(context.Context, string, a2a.Message) (event.Frame, error) {
	if err := s.attempt(); err != nil {
		return event.Frame{}, err
	}
	return event.Frame{Event: event.FrameEvent{Type: "analysis_complete", Final: true}}, nil
}

func (s *scriptedTransport) Stream(context.Context, string, a2a.Message) (a2a.FrameStream, error) {
	if err := s.attempt(); err != nil {
		return nil, err
	}
	return &sliceStream{frames: s.frames, tailErr: s.tailErr}, nil
}

func (s *scriptedTransport) FetchCard(context.Context, string) (*agent.Card, error) {
	if err := s.attempt(); err != nil {
		return nil, err
	}
	return &agent.Card{ID: "a", Name: "a", URL: "http://a"}, nil
}

type sliceStream struct {
	frames  []event.Frame
	tailErr error
	closed  bool
}

func (s *sliceStream) Next() (event.Frame, error) {
	if len(s.frames) == 0 {
		if s.tailErr != nil {
			return event.Frame{}, s.tailErr
		}
		return event.Frame{}, io.EOF
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, nil
}

func (s *sliceStream) Close() error { s.closed = true; return nil }

func newTestClient(tr a2a.Client, threshold, attempts int) *Client {
	set := NewBreakerSet(threshold, time.Minute, 1)
	r := NewRetrier(Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
	recordSleeps(r)
	return NewClient(tr, set, r)
}

func TestClientFailureCounterEqualsAttempts(t *testing.T) {
	tr := &scriptedTransport{failN: 100, failErr: failure.Unreachable(errTest, "refused")}
	c := newTestClient(tr, 10, 4)

	_, err := c.Call(context.Background(), "http://a", a2a.Message{})
	if failure.KindOf(err) != failure.KindUnreachable {
		t.Fatalf("expected Unreachable, got %v", err)
	}
	if tr.calls != 4 {
		t.Fatalf("expected 4 attempts, got %d", tr.calls)
	}
	if got := c.Breakers().For("http://a").Snapshot().Failures; got != 4 {
		t.Fatalf("expected 4 recorded failures, got %d", got)
	}
}

func TestClientStopsRetryingWhenBreakerOpens(t *testing.T) {
	tr := &scriptedTransport{failN: 100, failErr: failure.Remote(503, 0, "busy")}
	c := newTestClient(tr, 2, 10)

	_, err := c.Call(context.Background(), "http://a", a2a.Message{})
	if err == nil {
		t.Fatal("expected failure")
	}
	if tr.calls != 2 {
		t.Fatalf("expected retries to stop at threshold, got %d attempts", tr.calls)
	}

	_, err = c.Call(context.Background(), "http://a", a2a.Message{})
	if failure.KindOf(err) != failure.KindCircuitOpen {
		t.Fatalf("expected CircuitOpen, got %v", err)
	}
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatal("expected CircuitOpen to wrap ErrCircuitOpen")
	}
	if tr.calls != 2 {
		t.Fatalf("open breaker must not perform I/O, got %d attempts", tr.calls)
	}
}

func TestClientErrorsDoNotCount(t *testing.T) {
	tr := &scriptedTransport{failN: 100, failErr: failure.Remote(404, 0, "no such skill")}
	c := newTestClient(tr, 1, 3)

	_, _ = c.Call(context.Background(), "http://a", a2a.Message{})
	if tr.calls != 1 {
		t.Fatalf("4xx must not be retried, got %d attempts", tr.calls)
	}
	if c.Breakers().For("http://a").IsOpen() {
		t.Fatal("4xx must not open the breaker")
	}
}

func TestClientCancellationDoesNotCount(t *testing.T) {
	tr := &scriptedTransport{failN: 100, failErr: failure.Unreachable(context.Canceled, "cancelled")}
	c := newTestClient(tr, 1, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _ = c.Call(ctx, "http://a", a2a.Message{})
	if c.Breakers().For("http://a").IsOpen() {
		t.Fatal("caller cancellation must not open the breaker")
	}
}

func TestClientRetriesStreamEstablishment(t *testing.T) {
	tr := &scriptedTransport{
		failN:   2,
		failErr: failure.Unreachable(errTest, "refused"),
		frames:  []event.Frame{{Event: event.FrameEvent{Type: "analysis_complete", Final: true}}},
	}
	c := newTestClient(tr, 5, 3)

	st, err := c.Stream(context.Background(), "http://a", a2a.Message{})
	if err != nil {
		t.Fatalf("expected stream after retries, got %v", err)
	}
	defer st.Close()
	if tr.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", tr.calls)
	}
	f, err := st.Next()
	if err != nil || !f.Event.Final {
		t.Fatalf("expected final frame, got %+v %v", f, err)
	}
	if got := c.Breakers().For("http://a").Snapshot().Failures; got != 0 {
		t.Fatalf("final frame should reset failures, got %d", got)
	}
}

func TestClientMidStreamFailureRecorded(t *testing.T) {
	tr := &scriptedTransport{
		frames:  []event.Frame{{Event: event.FrameEvent{Type: "tool_started"}}},
		tailErr: failure.Unreachable(io.ErrUnexpectedEOF, "connection reset"),
	}
	c := newTestClient(tr, 1, 3)

	st, err := c.Stream(context.Background(), "http://a", a2a.Message{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.Next(); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Next(); failure.KindOf(err) != failure.KindUnreachable {
		t.Fatalf("expected Unreachable, got %v", err)
	}
	_ = st.Close()
	if tr.calls != 1 {
		t.Fatalf("broken stream must not be restarted, got %d calls", tr.calls)
	}
	if !c.Breakers().For("http://a").IsOpen() {
		t.Fatal("mid-stream failure should count toward the breaker")
	}
}

func TestClientFetchCard(t *testing.T) {
	tr := &scriptedTransport{failN: 1, failErr: failure.Unreachable(errTest, "refused")}
	c := newTestClient(tr, 5, 2)

	card, err := c.FetchCard(context.Background(), "http://a")
	if err != nil || card.ID != "a" {
		t.Fatalf("expected card after retry, got %+v %v", card, err)
	}
}
