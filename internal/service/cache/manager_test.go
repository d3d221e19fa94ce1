package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinSight/internal/domain/models"
	pkgcache "FinSight/pkg/cache"
	"FinSight/pkg/logger"
)

type noopMetrics struct{}

func (noopMetrics) RecordFetch(string, models.DataType, string, float64) {}
func (noopMetrics) RecordCacheLookup(string, string)                     {}
func (noopMetrics) RecordBudgetConsumed(string, float64, float64)        {}
func (noopMetrics) RecordBudgetDenied(string, string)                    {}
func (noopMetrics) RecordAnalysis(string, float64)                       {}
func (noopMetrics) RecordHealthStatus(string, models.HealthStatus)       {}
func (noopMetrics) RecordLastPrice(string, float64)                      {}
func (noopMetrics) RecordError(string)                                   {}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	require.NoError(t, err)
	return l
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	tier := pkgcache.NewMemoryTier()
	t.Cleanup(func() { _ = tier.Close() })
	return NewManager(tier, NewPolicy(0, 0, 0, 0), time.Hour, noopMetrics{}, testLogger(t))
}

func TestSetGetRoundTrip(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	key := m.Key(models.DataTypePrice, "AAPL", "")

	require.NoError(t, m.Set(ctx, key, map[string]float64{"price": 187.5}, 5*time.Minute))

	raw, found, fresh := m.Get(ctx, key)
	require.True(t, found)
	assert.True(t, fresh)

	var got map[string]float64
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, 187.5, got["price"])
}

func TestMissOnUnknownKey(t *testing.T) {
	m := newTestManager(t)

	_, found, fresh := m.Get(context.Background(), m.Key(models.DataTypePrice, "TSLA", ""))
	assert.False(t, found)
	assert.False(t, fresh)
}

func TestEntryExpiresExactlyAtTTLBoundary(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	key := m.Key(models.DataTypePrice, "AAPL", "")

	storedAt := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return storedAt }
	require.NoError(t, m.Set(ctx, key, "v", time.Minute))

	m.now = func() time.Time { return storedAt.Add(time.Minute - time.Nanosecond) }
	_, found, fresh := m.Get(ctx, key)
	require.True(t, found)
	assert.True(t, fresh, "one nanosecond before expiry is still fresh")

	m.now = func() time.Time { return storedAt.Add(time.Minute) }
	_, found, fresh = m.Get(ctx, key)
	require.True(t, found)
	assert.False(t, fresh, "the expiry instant itself is expired")
}

func TestExpiredEntryServedAsStale(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	key := m.Key(models.DataTypeNews, "AAPL", "")

	// Zero TTL stores an immediately stale entry that the tier still
	// retains for the stale window.
	require.NoError(t, m.Set(ctx, key, []string{"headline"}, 0))

	raw, found, fresh := m.Get(ctx, key)
	require.True(t, found)
	assert.False(t, fresh)

	var got []string
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, []string{"headline"}, got)
}

func TestGetOrComputeSkipsFnOnFreshHit(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	key := m.Key(models.DataTypeAnalysis, "AAPL", "1w")

	require.NoError(t, m.Set(ctx, key, "cached", time.Minute))

	raw, err := m.GetOrCompute(ctx, key, func(context.Context) (any, time.Duration, error) {
		t.Fatal("compute must not run on a fresh hit")
		return nil, 0, nil
	})
	require.NoError(t, err)
	assert.Equal(t, `"cached"`, string(raw))
}

func TestGetOrComputeRunsOnceUnderContention(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	key := m.Key(models.DataTypeAnalysis, "AAPL", "1w")

	var computes atomic.Int32
	fn := func(context.Context) (any, time.Duration, error) {
		computes.Add(1)
		time.Sleep(50 * time.Millisecond)
		return "result", time.Minute, nil
	}

	const callers = 16
	results := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			raw, err := m.GetOrCompute(ctx, key, fn)
			results[i], errs[i] = string(raw), err
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), computes.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, `"result"`, results[i])
	}
}

func TestGetOrComputeRecomputesStaleEntry(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	key := m.Key(models.DataTypePrice, "AAPL", "")

	require.NoError(t, m.Set(ctx, key, "old", 0))

	raw, err := m.GetOrCompute(ctx, key, func(context.Context) (any, time.Duration, error) {
		return "new", time.Minute, nil
	})
	require.NoError(t, err)
	assert.Equal(t, `"new"`, string(raw))

	raw, found, fresh := m.Get(ctx, key)
	require.True(t, found)
	assert.True(t, fresh)
	assert.Equal(t, `"new"`, string(raw))
}

func TestFailedComputeStoresNothing(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	key := m.Key(models.DataTypePrice, "AAPL", "")

	boom := errors.New("upstream down")
	var computes atomic.Int32

	_, err := m.GetOrCompute(ctx, key, func(context.Context) (any, time.Duration, error) {
		computes.Add(1)
		return nil, 0, boom
	})
	require.ErrorIs(t, err, boom)

	_, found, _ := m.Get(ctx, key)
	assert.False(t, found, "a failed computation must not poison the cache")

	// The next call retries instead of replaying the failure.
	raw, err := m.GetOrCompute(ctx, key, func(context.Context) (any, time.Duration, error) {
		computes.Add(1)
		return "ok", time.Minute, nil
	})
	require.NoError(t, err)
	assert.Equal(t, `"ok"`, string(raw))
	assert.Equal(t, int32(2), computes.Load())
}

func TestWaiterFailsWhenContextExpires(t *testing.T) {
	m := newTestManager(t)
	key := m.Key(models.DataTypeAnalysis, "AAPL", "1w")

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _ = m.GetOrCompute(context.Background(), key, func(context.Context) (any, time.Duration, error) {
			close(started)
			<-release
			return "slow", time.Minute, nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.GetOrCompute(ctx, key, func(context.Context) (any, time.Duration, error) {
		t.Fatal("waiter must not start a second computation")
		return nil, 0, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}

func TestDeleteAndInvalidate(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	k1 := m.Key(models.DataTypeAnalysis, "AAPL", "1w")
	k2 := m.Key(models.DataTypeAnalysis, "AAPL", "1m")
	k3 := m.Key(models.DataTypeAnalysis, "MSFT", "1w")
	for _, k := range []string{k1, k2, k3} {
		require.NoError(t, m.Set(ctx, k, "v", time.Minute))
	}

	require.NoError(t, m.Delete(ctx, k1))
	_, found, _ := m.Get(ctx, k1)
	assert.False(t, found)

	require.NoError(t, m.Invalidate(ctx, pkgcache.Prefix(string(models.DataTypeAnalysis), "AAPL")))
	_, found, _ = m.Get(ctx, k2)
	assert.False(t, found)
	_, found, _ = m.Get(ctx, k3)
	assert.True(t, found, "other symbols survive a prefix invalidation")
}
