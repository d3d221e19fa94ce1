package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"FinSight/internal/domain/models"
	"FinSight/internal/domain/repository"
	pkgcache "FinSight/pkg/cache"
	"FinSight/pkg/logger"
)

// envelope wraps every cached payload with the metadata needed to judge
// freshness. TTL is carried in seconds so the shared tier stays readable
// across processes.
type envelope struct {
	Value      json.RawMessage `json:"value"`
	StoredAt   time.Time       `json:"stored_at"`
	TTLSeconds int64           `json:"ttl_seconds"`
}

func (e *envelope) freshAt(now time.Time) bool {
	expiry := e.StoredAt.Add(time.Duration(e.TTLSeconds) * time.Second)
	// An entry exactly at its expiry instant is already expired.
	return now.Before(expiry)
}

// ComputeFunc produces a value and the TTL to store it with.
type ComputeFunc func(ctx context.Context) (any, time.Duration, error)

// inflight is a per-key future shared by all concurrent callers of
// GetOrCompute while one computation runs.
type inflight struct {
	done chan struct{}
	val  json.RawMessage
	err  error
}

// Manager is the multi-tier cache front: freshness policy, stale
// fallback and at-most-one-concurrent computation per key.
type Manager struct {
	tier           pkgcache.Tier
	policy         *Policy
	staleRetention time.Duration
	metrics        repository.Metrics
	log            *logger.Logger

	mu       sync.Mutex
	inflight map[string]*inflight

	now func() time.Time
}

// NewManager creates a cache manager over a storage tier.
func NewManager(tier pkgcache.Tier, policy *Policy, staleRetention time.Duration, metrics repository.Metrics, log *logger.Logger) *Manager {
	if staleRetention <= 0 {
		staleRetention = 24 * time.Hour
	}
	return &Manager{
		tier:           tier,
		policy:         policy,
		staleRetention: staleRetention,
		metrics:        metrics,
		log:            log,
		inflight:       make(map[string]*inflight),
		now:            time.Now,
	}
}

// Policy exposes the TTL table for callers that need per-type TTLs.
func (m *Manager) Policy() *Policy {
	return m.policy
}

// Key builds the canonical cache key for an entity and qualifier.
func (m *Manager) Key(dt models.DataType, entity, qualifier string) string {
	return pkgcache.Key(string(dt), entity, qualifier)
}

// Get returns the raw cached value plus whether it was found at all and
// whether it is still fresh. A logically expired entry is still returned
// (found=true, fresh=false) so callers can serve an explicit stale
// fallback; it is never silently passed off as fresh.
func (m *Manager) Get(ctx context.Context, key string) (json.RawMessage, bool, bool) {
	raw, err := m.tier.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, pkgcache.ErrCacheMiss) {
			m.log.Warn("cache read failed", logger.String("key", key), logger.Error(err))
		}
		m.metrics.RecordCacheLookup("layered", "miss")
		return nil, false, false
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		m.metrics.RecordCacheLookup("layered", "miss")
		return nil, false, false
	}

	if env.freshAt(m.now()) {
		m.metrics.RecordCacheLookup("layered", "hit_fresh")
		return env.Value, true, true
	}
	m.metrics.RecordCacheLookup("layered", "hit_stale")
	return env.Value, true, false
}

// Set stores a value under key with the given logical TTL. The physical
// retention exceeds the TTL by the stale-retention window so the entry
// stays available for explicit stale fallback after it expires.
func (m *Manager) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	return m.setRaw(ctx, key, raw, ttl)
}

func (m *Manager) setRaw(ctx context.Context, key string, raw json.RawMessage, ttl time.Duration) error {
	env := envelope{
		Value:      raw,
		StoredAt:   m.now(),
		TTLSeconds: int64(ttl / time.Second),
	}
	blob, err := json.Marshal(&env)
	if err != nil {
		return fmt.Errorf("marshal cache envelope: %w", err)
	}
	return m.tier.Set(ctx, key, blob, ttl+m.staleRetention)
}

// Invalidate removes every entry under a key prefix from all tiers.
func (m *Manager) Invalidate(ctx context.Context, prefix string) error {
	return m.tier.DeletePrefix(ctx, prefix)
}

// Delete removes a single key from all tiers.
func (m *Manager) Delete(ctx context.Context, key string) error {
	return m.tier.Delete(ctx, key)
}

// GetOrCompute returns the fresh cached value for key, or runs fn at
// most once per key concurrently. Callers arriving while a computation
// is in flight wait for its result instead of recomputing. A failed
// computation stores nothing, so the next call retries.
func (m *Manager) GetOrCompute(ctx context.Context, key string, fn ComputeFunc) (json.RawMessage, error) {
	if raw, found, fresh := m.Get(ctx, key); found && fresh {
		return raw, nil
	}

	m.mu.Lock()
	if fl, ok := m.inflight[key]; ok {
		m.mu.Unlock()
		select {
		case <-fl.done:
			return fl.val, fl.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	fl := &inflight{done: make(chan struct{})}
	m.inflight[key] = fl
	m.mu.Unlock()

	// Re-check after winning the slot: another process, or the previous
	// winner, may have stored a fresh value between our miss and now.
	if raw, found, fresh := m.Get(ctx, key); found && fresh {
		m.resolve(key, fl, raw, nil)
		return raw, nil
	}

	value, ttl, err := fn(ctx)
	if err != nil {
		m.resolve(key, fl, nil, err)
		return nil, err
	}

	raw, err := json.Marshal(value)
	if err != nil {
		err = fmt.Errorf("marshal computed value: %w", err)
		m.resolve(key, fl, nil, err)
		return nil, err
	}

	if err := m.setRaw(ctx, key, raw, ttl); err != nil {
		// Serve the computed value even if the store failed; the next
		// call will recompute.
		m.log.Warn("cache store failed", logger.String("key", key), logger.Error(err))
	}

	m.resolve(key, fl, raw, nil)
	return raw, nil
}

// resolve publishes the computation outcome to all waiters and clears
// the in-flight slot.
func (m *Manager) resolve(key string, fl *inflight, val json.RawMessage, err error) {
	fl.val = val
	fl.err = err
	m.mu.Lock()
	delete(m.inflight, key)
	m.mu.Unlock()
	close(fl.done)
}
