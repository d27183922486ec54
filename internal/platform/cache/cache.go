// Package cache is a write-once, time-bounded lookup-or-compute cache. Entries are never patched:
// they expire and the next lookup regenerates them wholesale. Concurrent misses for one key
// share a single computation.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/campaign-billing-ledger/internal/platform/metrics"
	"golang.org/x/sync/singleflight"
)

// Store holds encoded entries. Get must never return an entry past its TTL.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// SetNX stores value only if key holds no live entry
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Cache coordinates lookups against a Store
type Cache struct {
	store   Store
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(logger *slog.Logger, store Store, ttl time.Duration, m *metrics.Metrics) *Cache {
	return &Cache{store: store, ttl: ttl, metrics: m, logger: logger}
}

// Fetch returns the cached value for key or computes, stores and returns it.
// A failing store degrades to computing on every call.
func Fetch[T any](ctx context.Context, c *Cache, key string, compute func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if v, ok := c.lookup(ctx, key); ok {
		var out T
		if err := json.Unmarshal(v, &out); err == nil {
			c.metrics.CacheLookup(true)
			return out, nil
		}
		c.logger.Warn("Discarding undecodable cache entry", "key", key)
	}
	c.metrics.CacheLookup(false)

	res, err, shared := c.group.Do(key, func() (any, error) {
		// A caller that lost the race for the flight may find the entry already stored
		if v, ok := c.lookup(ctx, key); ok {
			return v, nil
		}

		value, err := compute(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		if err := c.store.SetNX(ctx, key, encoded, c.ttl); err != nil {
			c.logger.Warn("Failed to store cache entry", "key", key, "error", err)
		}
		return encoded, nil
	})
	if err != nil {
		return zero, err
	}
	if shared {
		c.logger.Debug("Shared report computation", "key", key)
	}

	var out T
	if err := json.Unmarshal(res.([]byte), &out); err != nil {
		return zero, err
	}
	return out, nil
}

func (c *Cache) lookup(ctx context.Context, key string) ([]byte, bool) {
	v, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("Cache lookup failed", "key", key, "error", err)
		return nil, false
	}
	return v, ok
}
