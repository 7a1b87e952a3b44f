package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestQuoteCacheLazyExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := NewQuoteCacheWithClock(clock.Now)

	c.Set("price:BTCUSDT", "57000", 30*time.Second)
	v, ok := c.Get("price:BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, "57000", v)

	clock.Advance(29 * time.Second)
	_, ok = c.Get("price:BTCUSDT")
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok = c.Get("price:BTCUSDT")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().TotalItems, "expired entry is evicted on read")

	stats := c.Stats()
	assert.EqualValues(t, 2, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
}

func TestQuoteCacheIgnoresNonPositiveTTL(t *testing.T) {
	c := NewQuoteCache()
	c.Set("k", 1, 0)
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestGetOrLoadCoalescesConcurrentMisses(t *testing.T) {
	c := NewQuoteCache()
	var calls atomic.Int32
	release := make(chan struct{})

	load := func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 42, nil
	}

	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := GetOrLoad(context.Background(), c, "fx:USD:EUR", time.Minute, load)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	// Let the goroutines pile up on the in-flight load.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	for _, v := range results {
		assert.Equal(t, 42, v)
	}

	// Served from cache afterwards.
	v, err := GetOrLoad(context.Background(), c, "fx:USD:EUR", time.Minute, func(context.Context) (int, error) {
		t.Fatal("loader must not run on a fresh entry")
		return 0, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestGetOrLoadDoesNotCacheErrors(t *testing.T) {
	c := NewQuoteCache()
	boom := errors.New("upstream down")

	_, err := GetOrLoad(context.Background(), c, "k", time.Minute, func(context.Context) (string, error) {
		return "", boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Stats().TotalItems)

	v, err := GetOrLoad(context.Background(), c, "k", time.Minute, func(context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestGetOrLoadHonoursCallerContext(t *testing.T) {
	c := NewQuoteCache()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := GetOrLoad(ctx, c, "slow", time.Minute, func(context.Context) (int, error) {
		time.Sleep(20 * time.Millisecond)
		return 1, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
