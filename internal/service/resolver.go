package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Strob0t/agentrelay/internal/domain/agent"
	"github.com/Strob0t/agentrelay/internal/domain/failure"
	"github.com/Strob0t/agentrelay/internal/port/a2a"
	"github.com/Strob0t/agentrelay/internal/port/cache"
)

const cardKeyPrefix = "card:"

// cachedCard is the cache entry for one endpoint.
type cachedCard struct {
	Card      *agent.Card `json:"card"`
	FetchedAt time.Time   `json:"fetched_at"`
}

// CardResolver fetches agent cards and caches them per endpoint for a TTL.
// Concurrent resolutions of the same endpoint share one fetch.
type CardResolver struct {
	client a2a.Client
	cache  cache.Cache
	ttl    time.Duration
	group  singleflight.Group
	now    func() time.Time
}

// NewCardResolver creates a resolver backed by c.
func NewCardResolver(client a2a.Client, c cache.Cache, ttl time.Duration) *CardResolver {
	return &CardResolver{client: client, cache: c, ttl: ttl, now: time.Now}
}

// Resolve returns the card for endpoint, fetching it when the cached copy
// is missing or older than the TTL. A card failing validation is reported
// as a protocol error and never cached.
func (r *CardResolver) Resolve(ctx context.Context, endpoint string) (*agent.Card, error) {
	if card, ok := r.lookup(ctx, endpoint); ok {
		return card, nil
	}

	ch := r.group.DoChan(endpoint, func() (any, error) {
		// Another caller may have filled the cache while we queued.
		if card, ok := r.lookup(ctx, endpoint); ok {
			return card, nil
		}
		return r.fetch(context.WithoutCancel(ctx), endpoint)
	})

	select {
	case <-ctx.Done():
		return nil, failure.Cancelled(context.Cause(ctx))
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*agent.Card), nil
	}
}

// Invalidate drops the cached card for endpoint.
func (r *CardResolver) Invalidate(ctx context.Context, endpoint string) error {
	return r.cache.Delete(ctx, cardKeyPrefix+endpoint)
}

func (r *CardResolver) lookup(ctx context.Context, endpoint string) (*agent.Card, bool) {
	data, ok, err := r.cache.Get(ctx, cardKeyPrefix+endpoint)
	if err != nil || !ok {
		return nil, false
	}
	var entry cachedCard
	if err := json.Unmarshal(data, &entry); err != nil || entry.Card == nil {
		return nil, false
	}
	if r.now().Sub(entry.FetchedAt) >= r.ttl {
		return nil, false
	}
	return entry.Card, true
}

func (r *CardResolver) fetch(ctx context.Context, endpoint string) (*agent.Card, error) {
	card, err := r.client.FetchCard(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if err := card.Validate(); err != nil {
		return nil, failure.Protocol(err, "agent card from %s", endpoint)
	}

	data, err := json.Marshal(cachedCard{Card: card, FetchedAt: r.now()})
	if err != nil {
		return card, nil
	}
	if err := r.cache.Set(ctx, cardKeyPrefix+endpoint, data, r.ttl); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("agent card not cached", "endpoint", endpoint, "error", err)
	}
	return card, nil
}
