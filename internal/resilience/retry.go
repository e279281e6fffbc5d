package resilience

import (
	"context"
	"time"

	"github.com/Strob0t/agentrelay/internal/domain/failure"
)

// Policy bounds retries of a single logical call.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Delay returns the backoff before retry number n (n >= 1):
// BaseDelay * 2^(n-1), capped at MaxDelay.
func (p Policy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := p.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retrier runs a function under a Policy. Only errors classified as
// retryable by the failure package are retried.
type Retrier struct {
	policy  Policy
	sleep   Sleeper
	onRetry func(attempt int, delay time.Duration, err error)
}

// NewRetrier creates a Retrier using a context-aware timer for backoff.
func NewRetrier(p Policy) *Retrier {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	return &Retrier{policy: p, sleep: sleepCtx}
}

// OnRetry registers a hook called before each backoff sleep.
func (r *Retrier) OnRetry(fn func(attempt int, delay time.Duration, err error)) {
	r.onRetry = fn
}

// Do calls fn until it succeeds, returns a non-retryable error, attempts are
// exhausted, ctx is done, or halt reports true after a failure. A retry-after
// hint on the error replaces the computed delay.
func (r *Retrier) Do(ctx context.Context, fn func(context.Context) error, halt func() bool) error {
	var err error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == r.policy.MaxAttempts || !failure.IsRetryable(err) {
			return err
		}
		if halt != nil && halt() {
			return err
		}
		if ctx.Err() != nil {
			return err
		}

		delay := r.policy.Delay(attempt)
		if hint := failure.RetryAfterOf(err); hint > 0 {
			delay = hint
		}
		if r.onRetry != nil {
			r.onRetry(attempt, delay, err)
		}
		if serr := r.sleep(ctx, delay); serr != nil {
			return err
		}
	}
	return err
}
