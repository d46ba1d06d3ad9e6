package querycache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCache() (*Cache, *time.Time) {
	c := New(zap.NewNop(), time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }
	return c, &now
}

func TestGetOrFetchCachesWithinTTL(t *testing.T) {
	c, _ := newTestCache()

	calls := 0
	fetch := func(ctx context.Context) (any, error) {
		calls++
		return "value", nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.GetOrFetch(context.Background(), "bet:1", 5*time.Second, fetch)
		require.NoError(t, err)
		assert.Equal(t, "value", v)
	}
	assert.Equal(t, 1, calls)
}

func TestGetOrFetchRefetchesAfterTTL(t *testing.T) {
	c, now := newTestCache()

	calls := 0
	fetch := func(ctx context.Context) (any, error) {
		calls++
		return calls, nil
	}

	v, err := c.GetOrFetch(context.Background(), "bet:1", 5*time.Second, fetch)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	*now = now.Add(4 * time.Second)
	v, _ = c.GetOrFetch(context.Background(), "bet:1", 5*time.Second, fetch)
	assert.Equal(t, 1, v)

	*now = now.Add(2 * time.Second)
	v, _ = c.GetOrFetch(context.Background(), "bet:1", 5*time.Second, fetch)
	assert.Equal(t, 2, v)
	assert.Equal(t, 2, calls)
}

func TestFetchErrorIsNotCached(t *testing.T) {
	c, _ := newTestCache()

	boom := errors.New("node down")
	calls := 0
	fetch := func(ctx context.Context) (any, error) {
		calls++
		if calls == 1 {
			return nil, boom
		}
		return "ok", nil
	}

	_, err := c.GetOrFetch(context.Background(), "config", time.Minute, fetch)
	assert.ErrorIs(t, err, boom)

	v, err := c.GetOrFetch(context.Background(), "config", time.Minute, fetch)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestInvalidate(t *testing.T) {
	c, _ := newTestCache()

	calls := 0
	fetch := func(ctx context.Context) (any, error) {
		calls++
		return calls, nil
	}

	_, _ = c.GetOrFetch(context.Background(), "bet:1", time.Minute, fetch)
	c.Invalidate("bet:1", "open_bets")

	v, _ := c.GetOrFetch(context.Background(), "bet:1", time.Minute, fetch)
	assert.Equal(t, 2, v)
}

func TestInvalidatePrefix(t *testing.T) {
	c, _ := newTestCache()

	fetch := func(v any) func(context.Context) (any, error) {
		return func(ctx context.Context) (any, error) { return v, nil }
	}
	_, _ = c.GetOrFetch(context.Background(), "user_bets:flip1a", time.Minute, fetch(1))
	_, _ = c.GetOrFetch(context.Background(), "user_bets:flip1b", time.Minute, fetch(2))
	_, _ = c.GetOrFetch(context.Background(), "balance:flip1a", time.Minute, fetch(3))
	require.Equal(t, 3, c.Len())

	c.InvalidatePrefix("user_bets:")
	assert.Equal(t, 1, c.Len())

	calls := 0
	_, _ = c.GetOrFetch(context.Background(), "balance:flip1a", time.Minute, func(ctx context.Context) (any, error) {
		calls++
		return nil, nil
	})
	assert.Equal(t, 0, calls)
}

func TestEvictExpired(t *testing.T) {
	c, now := newTestCache()

	fetch := func(ctx context.Context) (any, error) { return "v", nil }
	_, _ = c.GetOrFetch(context.Background(), "bet:1", 5*time.Second, fetch)
	_, _ = c.GetOrFetch(context.Background(), "bet:2", time.Hour, fetch)

	*now = now.Add(10 * time.Second)
	c.evictExpired()

	assert.Equal(t, 1, c.Len())
}

// Duas buscas simultâneas pela mesma chave fria disparam o fetch em dobro.
// Comportamento assumido: o cache não coordena chamadores.
func TestConcurrentColdReadsBothFetch(t *testing.T) {
	c, _ := newTestCache()

	var entered sync.WaitGroup
	entered.Add(2)
	release := make(chan struct{})

	var mu sync.Mutex
	calls := 0
	fetch := func(ctx context.Context) (any, error) {
		entered.Done()
		<-release
		mu.Lock()
		calls++
		mu.Unlock()
		return "v", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.GetOrFetch(context.Background(), "open_bets", time.Minute, fetch)
		}()
	}

	entered.Wait()
	close(release)
	wg.Wait()

	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, c.Len())
}

func TestMetricCallbacks(t *testing.T) {
	c, _ := newTestCache()

	hits, misses := 0, 0
	c.OnHit = func() { hits++ }
	c.OnMiss = func() { misses++ }

	fetch := func(ctx context.Context) (any, error) { return "v", nil }
	_, _ = c.GetOrFetch(context.Background(), "config", time.Minute, fetch)
	_, _ = c.GetOrFetch(context.Background(), "config", time.Minute, fetch)
	_, _ = c.GetOrFetch(context.Background(), "config", time.Minute, fetch)

	assert.Equal(t, 1, misses)
	assert.Equal(t, 2, hits)
}
