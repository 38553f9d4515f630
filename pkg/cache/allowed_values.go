// Package cache holds the allowed-values cache: distinct column values used
// to ground parameter extraction, bounded per column and TTL-refreshed.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dataquill-ai/dataquill-engine/pkg/apperrors"
	"github.com/dataquill-ai/dataquill-engine/pkg/datasource"
)

// entry is the cached state for one (table, column) key. Entries are replaced
// atomically under the write lock; readers only ever see a complete entry.
type entry struct {
	values     []string
	loadedAt   time.Time
	isPartial  bool
	refreshing bool
}

// AllowedValues is a stale-while-revalidate cache of distinct column values.
// Shared across all requests in the process; inject it, never make it a
// package global.
type AllowedValues struct {
	mu      sync.RWMutex
	entries map[string]*entry

	loadGroup singleflight.Group

	executor  datasource.QueryExecutor
	ttl       time.Duration
	maxValues int
	logger    *zap.Logger
}

// NewAllowedValues creates the cache. maxValues bounds values kept per
// column; lists that overflow are stored truncated and flagged partial.
func NewAllowedValues(executor datasource.QueryExecutor, ttl time.Duration, maxValues int, logger *zap.Logger) *AllowedValues {
	if maxValues <= 0 {
		maxValues = 500
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &AllowedValues{
		entries:   make(map[string]*entry),
		executor:  executor,
		ttl:       ttl,
		maxValues: maxValues,
		logger:    logger.Named("allowed_values"),
	}
}

// Get returns the distinct values for a column and whether the list is
// partial. Fresh hits return immediately; stale hits return the stale list
// and refresh in the background; misses load synchronously, coalescing
// concurrent loads of the same key. A load failure returns an empty list and
// the error without caching, so the next call retries.
func (c *AllowedValues) Get(ctx context.Context, table, column string) ([]string, bool, error) {
	key := table + "." + column

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if ok {
		if time.Since(e.loadedAt) < c.ttl {
			return e.values, e.isPartial, nil
		}
		c.maybeRefresh(key, table, column)
		return e.values, e.isPartial, nil
	}

	// Miss: coalesce concurrent loads of the same key.
	v, err, _ := c.loadGroup.Do(key, func() (any, error) {
		return c.load(ctx, key, table, column)
	})
	if err != nil {
		c.logger.Warn("allowed-values load failed",
			zap.String("key", key),
			zap.Error(err))
		return []string{}, false, fmt.Errorf("%w for %s: %w", apperrors.ErrCacheUnavailable, key, err)
	}

	loaded := v.(*entry)
	return loaded.values, loaded.isPartial, nil
}

// load fetches up to maxValues+1 rows so overflow is detectable, stores the
// result, and returns the stored entry.
func (c *AllowedValues) load(ctx context.Context, key, table, column string) (*entry, error) {
	values, err := c.executor.LoadDistinct(ctx, table, column, c.maxValues+1)
	if err != nil {
		return nil, err
	}

	isPartial := false
	if len(values) > c.maxValues {
		values = values[:c.maxValues]
		isPartial = true
	}

	e := &entry{
		values:    values,
		loadedAt:  time.Now(),
		isPartial: isPartial,
	}

	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()

	c.logger.Debug("allowed values loaded",
		zap.String("key", key),
		zap.Int("count", len(values)),
		zap.Bool("partial", isPartial))

	return e, nil
}

// maybeRefresh starts one background refresh for a stale key. The refreshing
// flag guarantees at most one in-flight refresh per key.
func (c *AllowedValues) maybeRefresh(key, table, column string) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || e.refreshing {
		c.mu.Unlock()
		return
	}
	e.refreshing = true
	c.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if _, err := c.load(ctx, key, table, column); err != nil {
			c.logger.Warn("background refresh failed",
				zap.String("key", key),
				zap.Error(err))
			// Clear the flag on the stale entry so a later call retries.
			c.mu.Lock()
			if cur, ok := c.entries[key]; ok {
				cur.refreshing = false
			}
			c.mu.Unlock()
		}
	}()
}

// Len returns the number of cached keys. Test helper.
func (c *AllowedValues) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
