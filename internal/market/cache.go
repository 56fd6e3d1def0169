package market

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/fingro/fingro-bot/internal/domain"
)

// Cache is the bounded TTL cache fronting the MAGA price service. It is
// constructed once at process start and shared; all mutation goes through
// its single-flight and eviction discipline.
//
// Guarantees:
//   - an expired entry is never served as fresh
//   - at most one in-flight upstream call per (commodity, zone) key
//   - LRU eviction once the configured capacity is reached
//   - upstream failures surface as domain.ErrMarketDataUnavailable after
//     the retry budget is exhausted; nothing partial is cached
type Cache struct {
	fetcher Fetcher
	entries *expirable.LRU[string, ReferenceEntry]
	group   singleflight.Group
	policy  RetryPolicy
	ttl     time.Duration
}

// NewCache creates a bounded reference-value cache over fetcher.
func NewCache(fetcher Fetcher, maxEntries int, ttl time.Duration, policy RetryPolicy) *Cache {
	return &Cache{
		fetcher: fetcher,
		entries: expirable.NewLRU[string, ReferenceEntry](maxEntries, nil, ttl),
		policy:  policy,
		ttl:     ttl,
	}
}

// Get returns the reference value for a (commodity, zone) pair, fetching
// through the retry policy on a miss or expiry. Concurrent callers for the
// same key share a single upstream call.
func (c *Cache) Get(ctx context.Context, commodity, zone string) (float64, error) {
	key := commodity + "|" + zone

	if value, ok := c.fresh(key); ok {
		return value, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check under the flight: a concurrent caller may have
		// populated the entry between the miss and the Do.
		if value, ok := c.fresh(key); ok {
			return value, nil
		}

		var value float64
		fetchErr := c.policy.Do(ctx, func(attemptCtx context.Context) error {
			fetched, err := c.fetcher.Fetch(attemptCtx, commodity, zone)
			if err != nil {
				return err
			}
			if fetched <= 0 || math.IsNaN(fetched) || math.IsInf(fetched, 0) {
				// Out-of-range upstream value: treated as unavailable
				// data rather than cached garbage.
				return fmt.Errorf("out-of-range reference value %v", fetched)
			}
			value = fetched
			return nil
		})
		if fetchErr != nil {
			slog.Warn("market reference fetch failed",
				"commodity", commodity,
				"zone", zone,
				"attempts", c.policy.MaxAttempts,
				"error", fetchErr)
			return 0.0, fmt.Errorf("%w: %v", domain.ErrMarketDataUnavailable, fetchErr)
		}

		now := time.Now()
		c.entries.Add(key, ReferenceEntry{
			Value:     value,
			FetchedAt: now,
			ExpiresAt: now.Add(c.ttl),
		})
		return value, nil
	})
	if err != nil {
		return 0, err
	}

	return v.(float64), nil
}

// fresh returns a cached value only while its own ExpiresAt stamp holds.
// The LRU evicts on the same TTL; the stamp check keeps expiry correct even
// for an entry the LRU has not swept yet.
func (c *Cache) fresh(key string) (float64, bool) {
	entry, ok := c.entries.Get(key)
	if !ok || !time.Now().Before(entry.ExpiresAt) {
		return 0, false
	}
	return entry.Value, true
}

// Len returns the number of live entries. Expired entries still pending
// sweep do not count as servable but may be included by the underlying LRU.
func (c *Cache) Len() int {
	return c.entries.Len()
}
