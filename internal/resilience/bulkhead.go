package resilience

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Bulkhead caps how many task runs talk to downstream agents at once.
// A nil Bulkhead admits everything.
type Bulkhead struct {
	sem *semaphore.Weighted
}

// NewBulkhead returns a Bulkhead admitting limit runs, or nil when limit
// is not positive.
func NewBulkhead(limit int) *Bulkhead {
	if limit < 1 {
		return nil
	}
	return &Bulkhead{sem: semaphore.NewWeighted(int64(limit))}
}

// Do waits for a slot, runs fn and releases the slot. It returns ctx.Err()
// without calling fn if ctx ends while waiting.
func (b *Bulkhead) Do(ctx context.Context, fn func()) error {
	if b == nil {
		fn()
		return nil
	}
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer b.sem.Release(1)
	fn()
	return nil
}
