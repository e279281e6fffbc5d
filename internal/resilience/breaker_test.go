package resilience

import (
	"errors"
	"testing"
	"time"
)

var errTest = errors.New("service unavailable")

// fakeClock is a manually advanced clock.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int, cooldown time.Duration, halfOpenMax int) (*Breaker, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	b := NewBreaker(threshold, cooldown, halfOpenMax)
	b.now = clk.now
	return b, clk
}

func trip(b *Breaker, n int) {
	for range n {
		_ = b.Execute(func() error { return errTest })
	}
}

func TestClosedStateAllowsCalls(t *testing.T) {
	b, _ := newTestBreaker(3, time.Second, 1)
	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !called {
		t.Fatal("expected fn to be called")
	}
}

func TestOpensExactlyAtThreshold(t *testing.T) {
	b, clk := newTestBreaker(3, time.Second, 1)

	trip(b, 2)
	if b.IsOpen() {
		t.Fatal("breaker opened before threshold")
	}
	trip(b, 1)

	snap := b.Snapshot()
	if snap.State != StateOpen || snap.Failures != 3 {
		t.Fatalf("expected open with 3 failures, got %+v", snap)
	}
	if !snap.OpenedAt.Equal(clk.t) {
		t.Fatalf("expected opened_at %v, got %v", clk.t, snap.OpenedAt)
	}

	called := false
	err := b.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Fatal("open breaker must not call fn")
	}
}

func TestStaysOpenUntilCooldown(t *testing.T) {
	b, clk := newTestBreaker(1, 10*time.Second, 1)
	trip(b, 1)

	clk.advance(9 * time.Second)
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected rejection before cooldown, got %v", err)
	}

	clk.advance(time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("expected trial after cooldown, got %v", err)
	}
	if got := b.Snapshot().State; got != StateHalfOpen {
		t.Fatalf("expected half_open, got %s", got)
	}
}

func TestHalfOpenAdmitsOnlyTrialWindow(t *testing.T) {
	b, clk := newTestBreaker(1, time.Second, 2)
	trip(b, 1)
	clk.advance(time.Second)

	if err := b.Allow(); err != nil {
		t.Fatalf("trial 1: %v", err)
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("trial 2: %v", err)
	}
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected third call rejected, got %v", err)
	}

	b.Success()
	if got := b.Snapshot().State; got != StateHalfOpen {
		t.Fatalf("one success of two must not close, got %s", got)
	}
	b.Success()
	snap := b.Snapshot()
	if snap.State != StateClosed || snap.Failures != 0 || snap.Successes != 0 {
		t.Fatalf("expected reset closed breaker, got %+v", snap)
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b, clk := newTestBreaker(2, time.Second, 1)
	trip(b, 2)
	firstOpen := b.Snapshot().OpenedAt

	clk.advance(2 * time.Second)
	_ = b.Execute(func() error { return errTest })

	snap := b.Snapshot()
	if snap.State != StateOpen {
		t.Fatalf("expected open after half-open failure, got %s", snap.State)
	}
	if !snap.OpenedAt.After(firstOpen) {
		t.Fatal("expected open timer reset on reopen")
	}

	err := b.Execute(func() error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen after reopen, got %v", err)
	}
}

func TestReleaseFreesTrialSlot(t *testing.T) {
	b, clk := newTestBreaker(1, time.Second, 1)
	trip(b, 1)
	clk.advance(time.Second)

	if err := b.Allow(); err != nil {
		t.Fatal(err)
	}
	b.Release()
	if err := b.Allow(); err != nil {
		t.Fatalf("expected released slot to be reusable, got %v", err)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Second, 1)

	trip(b, 2)
	_ = b.Execute(func() error { return nil })
	trip(b, 2)

	if b.IsOpen() {
		t.Fatal("non-consecutive failures must not open the breaker")
	}
}

func TestOnStateChange(t *testing.T) {
	b, clk := newTestBreaker(1, time.Second, 1)
	var got []string
	b.OnStateChange(func(from, to State) { got = append(got, from.String()+">"+to.String()) })

	trip(b, 1)
	clk.advance(time.Second)
	_ = b.Execute(func() error { return nil })

	want := []string{"closed>open", "open>half_open", "half_open>closed"}
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", got, want)
		}
	}
}

func TestBreakerSetPerEndpoint(t *testing.T) {
	s := NewBreakerSet(1, time.Minute, 1)
	var changed []string
	s.OnStateChange(func(endpoint string, _, to State) { changed = append(changed, endpoint+":"+to.String()) })

	a := s.For("http://a")
	if s.For("http://a") != a {
		t.Fatal("expected same breaker for same endpoint")
	}
	a.Failure()

	if err := s.For("http://b").Allow(); err != nil {
		t.Fatalf("other endpoint must stay closed, got %v", err)
	}
	snap := s.Snapshot()
	if snap["http://a"].Name != "open" || snap["http://b"].Name != "closed" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if len(changed) != 1 || changed[0] != "http://a:open" {
		t.Fatalf("unexpected transitions %v", changed)
	}
}
