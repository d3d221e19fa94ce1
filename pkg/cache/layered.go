package cache

import (
	"context"
	"time"
)

// LayeredTier implements a two-level tier (L1: memory, L2: shared).
// Writes go through to L2 first; L1 entries are capped to a short
// lifetime so cross-process invalidation converges quickly.
type LayeredTier struct {
	local       *MemoryTier
	shared      Tier
	localTTLCap time.Duration
}

// NewLayeredTier creates a layered tier over a shared backend.
func NewLayeredTier(shared Tier, opts ...LayeredOption) *LayeredTier {
	cfg := &LayeredConfig{
		MemoryMaxSize: 1000,
		LocalTTLCap:   30 * time.Second,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	return &LayeredTier{
		local:       NewMemoryTier(WithMemoryMaxSize(cfg.MemoryMaxSize)),
		shared:      shared,
		localTTLCap: cfg.LocalTTLCap,
	}
}

func (lt *LayeredTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := lt.shared.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	_ = lt.local.Set(ctx, key, value, lt.capTTL(ttl))
	return nil
}

func (lt *LayeredTier) Get(ctx context.Context, key string) ([]byte, error) {
	if v, err := lt.local.Get(ctx, key); err == nil {
		return v, nil
	}

	v, err := lt.shared.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	// Warm L1 for the next caller.
	_ = lt.local.Set(ctx, key, v, lt.localTTLCap)
	return v, nil
}

func (lt *LayeredTier) Delete(ctx context.Context, keys ...string) error {
	_ = lt.local.Delete(ctx, keys...)
	return lt.shared.Delete(ctx, keys...)
}

func (lt *LayeredTier) DeletePrefix(ctx context.Context, prefix string) error {
	_ = lt.local.DeletePrefix(ctx, prefix)
	return lt.shared.DeletePrefix(ctx, prefix)
}

// Close closes both layers.
func (lt *LayeredTier) Close() error {
	_ = lt.local.Close()
	return lt.shared.Close()
}

func (lt *LayeredTier) capTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > lt.localTTLCap {
		return lt.localTTLCap
	}
	return ttl
}
