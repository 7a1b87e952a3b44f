package cache

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

const numShards = 16

// QuoteCache is a sharded TTL cache for upstream quote responses. Entries
// expire lazily on read; there is no background sweeper.
type QuoteCache struct {
	shards [numShards]*quoteShard
	group  singleflight.Group
	now    func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

type quoteShard struct {
	mu    sync.RWMutex
	items map[string]quoteEntry
}

type quoteEntry struct {
	payload  any
	storedAt time.Time
	ttl      time.Duration
}

func (e quoteEntry) expired(now time.Time) bool {
	return now.Sub(e.storedAt) >= e.ttl
}

// NewQuoteCache creates an empty cache.
func NewQuoteCache() *QuoteCache {
	return NewQuoteCacheWithClock(time.Now)
}

// NewQuoteCacheWithClock is NewQuoteCache with an injectable clock.
func NewQuoteCacheWithClock(now func() time.Time) *QuoteCache {
	c := &QuoteCache{now: now}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &quoteShard{
			items: make(map[string]quoteEntry),
		}
	}
	return c
}

// getShard returns the shard for the given key.
func (c *QuoteCache) getShard(key string) *quoteShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Set stores payload under key for ttl. A non-positive ttl stores nothing.
func (c *QuoteCache) Set(key string, payload any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	shard := c.getShard(key)
	shard.mu.Lock()
	shard.items[key] = quoteEntry{
		payload:  payload,
		storedAt: c.now(),
		ttl:      ttl,
	}
	shard.mu.Unlock()
}

// Get returns a fresh payload. Expired entries are evicted.
func (c *QuoteCache) Get(key string) (any, bool) {
	shard := c.getShard(key)
	now := c.now()

	shard.mu.RLock()
	entry, ok := shard.items[key]
	shard.mu.RUnlock()
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	if entry.expired(now) {
		shard.mu.Lock()
		if cur, still := shard.items[key]; still && cur.expired(now) {
			delete(shard.items, key)
		}
		shard.mu.Unlock()
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return entry.payload, true
}

// GetOrLoad returns the cached value for key or calls load once per key
// across concurrent callers. Errors are returned to every waiter and are not
// cached.
func GetOrLoad[T any](ctx context.Context, c *QuoteCache, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	if v, ok := c.Get(key); ok {
		if typed, ok := v.(T); ok {
			return typed, nil
		}
	}

	// The shared load must not die with whichever caller arrived first.
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		c.Set(key, v, ttl)
		return v, nil
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		typed, ok := res.Val.(T)
		if !ok {
			return zero, nil
		}
		return typed, nil
	}
}

// CacheStats provides cache statistics.
type CacheStats struct {
	TotalItems  int            `json:"total_items"`
	ShardCounts [numShards]int `json:"shard_counts"`
	Hits        int64          `json:"hits"`
	Misses      int64          `json:"misses"`
	OldestAge   time.Duration  `json:"oldest_age"`
}

// Stats returns cache statistics.
func (c *QuoteCache) Stats() CacheStats {
	stats := CacheStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}
	var oldest time.Time

	for i, shard := range c.shards {
		shard.mu.RLock()
		stats.ShardCounts[i] = len(shard.items)
		stats.TotalItems += len(shard.items)
		for _, entry := range shard.items {
			if oldest.IsZero() || entry.storedAt.Before(oldest) {
				oldest = entry.storedAt
			}
		}
		shard.mu.RUnlock()
	}

	if !oldest.IsZero() {
		stats.OldestAge = c.now().Sub(oldest)
	}
	return stats
}
