package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	zenerrors "zen/internal/errors"
)

func TestLRUGetSetDelete(t *testing.T) {
	c, err := NewLRU(16, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	_, found, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Set(ctx, "session:user-a", `{"history":[]}`, 0))
	value, found, err := c.Get(ctx, "session:user-a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, `{"history":[]}`, value)

	require.NoError(t, c.Delete(ctx, "session:user-a"))
	_, found, _ = c.Get(ctx, "session:user-a")
	assert.False(t, found)
}

func TestLRUEntriesExpire(t *testing.T) {
	c, err := NewLRU(16, time.Minute)
	require.NoError(t, err)
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", 30*time.Second))

	now = now.Add(10 * time.Second)
	_, found, _ := c.Get(ctx, "k")
	assert.True(t, found)

	now = now.Add(25 * time.Second)
	_, found, _ = c.Get(ctx, "k")
	assert.False(t, found, "entry past its TTL is a miss")
}

func TestLRUEvictsOldest(t *testing.T) {
	c, err := NewLRU(3, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("k%d", i), "v", time.Minute))
	}
	assert.Equal(t, 3, c.Len())
	_, found, _ := c.Get(ctx, "k0")
	assert.False(t, found)
	_, found, _ = c.Get(ctx, "k4")
	assert.True(t, found)
}

func TestLRUConcurrentAccess(t *testing.T) {
	c, err := NewLRU(128, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				key := fmt.Sprintf("user-%d:entry-%d", id, j)
				_ = c.Set(ctx, key, "payload", time.Minute)
				_, _, _ = c.Get(ctx, key)
			}
		}(i)
	}
	wg.Wait()
}

// flaky is a Cache that fails on demand.
type flaky struct {
	mu      sync.Mutex
	failing bool
	inner   *LRU
}

func newFlaky(t *testing.T) *flaky {
	t.Helper()
	inner, err := NewLRU(16, time.Minute)
	require.NoError(t, err)
	return &flaky{inner: inner}
}

func (f *flaky) setFailing(v bool) {
	f.mu.Lock()
	f.failing = v
	f.mu.Unlock()
}

func (f *flaky) down() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failing
}

func (f *flaky) Get(ctx context.Context, key string) (string, bool, error) {
	if f.down() {
		return "", false, fmt.Errorf("connection refused")
	}
	return f.inner.Get(ctx, key)
}

func (f *flaky) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if f.down() {
		return fmt.Errorf("connection refused")
	}
	return f.inner.Set(ctx, key, value, ttl)
}

func (f *flaky) Delete(ctx context.Context, key string) error {
	if f.down() {
		return fmt.Errorf("connection refused")
	}
	return f.inner.Delete(ctx, key)
}

func TestFailoverBypassesFailingBackend(t *testing.T) {
	backend := newFlaky(t)
	cfg := zenerrors.DefaultCircuitBreakerConfig()
	cfg.FailureThreshold = 2
	cfg.Timeout = 50 * time.Millisecond
	f := NewFailover(backend, cfg, nil)
	ctx := context.Background()

	require.NoError(t, f.Set(ctx, "k", "v", time.Minute))
	value, found, err := f.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "v", value)
	assert.False(t, f.Degraded())

	backend.setFailing(true)
	for i := 0; i < 3; i++ {
		_, _, err := f.Get(ctx, "k")
		assert.NoError(t, err, "cache failures must not surface as run errors")
	}
	assert.True(t, f.Degraded(), "breaker should be open after repeated failures")

	// While open, calls are short-circuited misses.
	_, found, err = f.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
	assert.NoError(t, f.Set(ctx, "k2", "v2", time.Minute))
}

func TestFailoverRecoversAutomatically(t *testing.T) {
	backend := newFlaky(t)
	cfg := zenerrors.DefaultCircuitBreakerConfig()
	cfg.FailureThreshold = 1
	cfg.SuccessThreshold = 1
	cfg.Timeout = 10 * time.Millisecond
	f := NewFailover(backend, cfg, nil)
	ctx := context.Background()

	backend.setFailing(true)
	_, _, _ = f.Get(ctx, "k")
	require.True(t, f.Degraded())

	backend.setFailing(false)
	time.Sleep(20 * time.Millisecond) // let the breaker move to half-open

	require.NoError(t, f.Set(ctx, "k", "v", time.Minute))
	value, found, err := f.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", value)
	assert.False(t, f.Degraded(), "breaker should close once the backend heals")
}
