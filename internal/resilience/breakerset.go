package resilience

import (
	"sync"
	"time"
)

// BreakerSet holds one Breaker per endpoint for the life of the process.
type BreakerSet struct {
	mu          sync.Mutex
	breakers    map[string]*Breaker
	threshold   int
	cooldown    time.Duration
	halfOpenMax int
	now         func() time.Time
	onChange    func(endpoint string, from, to State)
}

// NewBreakerSet creates an empty set; breakers are created on first use.
func NewBreakerSet(threshold int, cooldown time.Duration, halfOpenMax int) *BreakerSet {
	return &BreakerSet{
		breakers:    make(map[string]*Breaker),
		threshold:   threshold,
		cooldown:    cooldown,
		halfOpenMax: halfOpenMax,
		now:         time.Now,
	}
}

// OnStateChange registers a transition callback for breakers created after
// the call.
func (s *BreakerSet) OnStateChange(fn func(endpoint string, from, to State)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// For returns the breaker for endpoint, creating it if needed.
func (s *BreakerSet) For(endpoint string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.breakers[endpoint]; ok {
		return b
	}
	b := NewBreaker(s.threshold, s.cooldown, s.halfOpenMax)
	b.now = s.now
	if fn := s.onChange; fn != nil {
		b.onChange = func(from, to State) { fn(endpoint, from, to) }
	}
	s.breakers[endpoint] = b
	return b
}

// Snapshot returns the state of every known breaker keyed by endpoint.
func (s *BreakerSet) Snapshot() map[string]CircuitState {
	s.mu.Lock()
	bs := make(map[string]*Breaker, len(s.breakers))
	for k, v := range s.breakers {
		bs[k] = v
	}
	s.mu.Unlock()

	out := make(map[string]CircuitState, len(bs))
	for k, b := range bs {
		out[k] = b.Snapshot()
	}
	return out
}
