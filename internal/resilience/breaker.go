// Package resilience provides reliability patterns for downstream agent calls:
// per-endpoint circuit breakers, bounded retry with exponential backoff, and
// a transport decorator composing the two.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is open and rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the position of a breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitState is a point-in-time view of a breaker.
type CircuitState struct {
	State     State     `json:"-"`
	Name      string    `json:"state"`
	Failures  int       `json:"failures"`
	Successes int       `json:"successes"`
	OpenedAt  time.Time `json:"opened_at,omitzero"`
}

// Breaker implements a circuit breaker for one endpoint. It opens after
// threshold consecutive failures, rejects calls until cooldown has elapsed,
// then admits halfOpenMax trial calls. Any trial failure reopens it;
// halfOpenMax consecutive successes close it.
type Breaker struct {
	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	admitted    int
	threshold   int
	cooldown    time.Duration
	halfOpenMax int
	openedAt    time.Time
	now         func() time.Time // for testing
	onChange    func(from, to State)
}

// NewBreaker creates a circuit breaker that opens after threshold consecutive
// failures and stays open for cooldown before admitting halfOpenMax trials.
func NewBreaker(threshold int, cooldown time.Duration, halfOpenMax int) *Breaker {
	return &Breaker{
		threshold:   max(threshold, 1),
		cooldown:    cooldown,
		halfOpenMax: max(halfOpenMax, 1),
		now:         time.Now,
	}
}

// OnStateChange registers fn to be called on every transition. fn runs with
// the breaker locked and must not call back into it.
func (b *Breaker) OnStateChange(fn func(from, to State)) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

// Execute runs fn if the breaker admits it and records the outcome.
// Returns ErrCircuitOpen without calling fn when rejected.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}

	err := fn()
	if err != nil {
		b.Failure()
		return err
	}

	b.Success()
	return nil
}

// Allow admits or rejects the start of a call. An open breaker whose
// cooldown has elapsed moves to half-open and admits the first trial.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return ErrCircuitOpen
		}
		b.transition(StateHalfOpen)
		b.successes = 0
		b.admitted = 1
		return nil
	case StateHalfOpen:
		if b.admitted >= b.halfOpenMax {
			return ErrCircuitOpen
		}
		b.admitted++
		return nil
	}
	return ErrCircuitOpen
}

// Failure records a failed attempt.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.successes = 0
	switch b.state {
	case StateHalfOpen:
		b.open()
	case StateClosed:
		if b.failures >= b.threshold {
			b.open()
		}
	}
}

// Success records a successful call.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.halfOpenMax {
			b.failures = 0
			b.successes = 0
			b.admitted = 0
			b.transition(StateClosed)
		}
	case StateClosed:
		b.failures = 0
	}
}

// Release returns an unused half-open trial slot, for calls that ended
// without an outcome that says anything about the endpoint.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen && b.admitted > 0 {
		b.admitted--
	}
}

// IsOpen reports whether the breaker is currently rejecting calls.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == StateOpen
}

// Snapshot returns the current state.
func (b *Breaker) Snapshot() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return CircuitState{
		State:     b.state,
		Name:      b.state.String(),
		Failures:  b.failures,
		Successes: b.successes,
		OpenedAt:  b.openedAt,
	}
}

// open must be called with b.mu held.
func (b *Breaker) open() {
	b.openedAt = b.now()
	b.admitted = 0
	b.transition(StateOpen)
}

// transition must be called with b.mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if from != to && b.onChange != nil {
		b.onChange(from, to)
	}
}
