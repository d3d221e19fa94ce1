package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// memoryItem stores a cached payload with expiration.
type memoryItem struct {
	value    []byte
	expireAt time.Time
}

func (m *memoryItem) expired() bool {
	return time.Now().After(m.expireAt)
}

// MemoryTier implements Tier using in-process storage with LRU eviction.
type MemoryTier struct {
	data          map[string]*memoryItem
	access        map[string]time.Time
	mutex         sync.RWMutex
	maxSize       int
	cleanupTicker *time.Ticker
	stopCh        chan struct{}
}

// NewMemoryTier creates an in-memory cache tier.
func NewMemoryTier(opts ...MemoryOption) *MemoryTier {
	cfg := &MemoryConfig{
		MaxSize:         1000,
		CleanupInterval: 5 * time.Minute,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	mt := &MemoryTier{
		data:          make(map[string]*memoryItem),
		access:        make(map[string]time.Time),
		maxSize:       cfg.MaxSize,
		cleanupTicker: time.NewTicker(cfg.CleanupInterval),
		stopCh:        make(chan struct{}),
	}

	go mt.cleanupExpired()
	return mt
}

func (mt *MemoryTier) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	mt.mutex.Lock()
	defer mt.mutex.Unlock()

	if _, exists := mt.data[key]; !exists && len(mt.data) >= mt.maxSize {
		mt.evictLRU()
	}

	expireAt := time.Now().Add(ttl)
	if ttl <= 0 {
		expireAt = time.Now().Add(7 * 24 * time.Hour) // default 7 days
	}

	mt.data[key] = &memoryItem{value: value, expireAt: expireAt}
	mt.access[key] = time.Now()
	return nil
}

func (mt *MemoryTier) Get(_ context.Context, key string) ([]byte, error) {
	mt.mutex.Lock()
	defer mt.mutex.Unlock()

	item, exists := mt.data[key]
	if !exists || item.expired() {
		if exists {
			delete(mt.data, key)
			delete(mt.access, key)
		}
		return nil, ErrCacheMiss
	}

	mt.access[key] = time.Now()
	return item.value, nil
}

func (mt *MemoryTier) Delete(_ context.Context, keys ...string) error {
	mt.mutex.Lock()
	defer mt.mutex.Unlock()

	for _, key := range keys {
		delete(mt.data, key)
		delete(mt.access, key)
	}
	return nil
}

func (mt *MemoryTier) DeletePrefix(_ context.Context, prefix string) error {
	mt.mutex.Lock()
	defer mt.mutex.Unlock()

	for key := range mt.data {
		if strings.HasPrefix(key, prefix) {
			delete(mt.data, key)
			delete(mt.access, key)
		}
	}
	return nil
}

// Len returns the number of live entries, expired included until swept.
func (mt *MemoryTier) Len() int {
	mt.mutex.RLock()
	defer mt.mutex.RUnlock()
	return len(mt.data)
}

func (mt *MemoryTier) evictLRU() {
	if len(mt.data) == 0 {
		return
	}

	var oldestKey string
	oldestTime := time.Now()

	for key, accessTime := range mt.access {
		if accessTime.Before(oldestTime) {
			oldestTime = accessTime
			oldestKey = key
		}
	}

	if oldestKey != "" {
		delete(mt.data, oldestKey)
		delete(mt.access, oldestKey)
	}
}

func (mt *MemoryTier) cleanupExpired() {
	for {
		select {
		case <-mt.stopCh:
			return
		case <-mt.cleanupTicker.C:
			mt.mutex.Lock()
			now := time.Now()
			for key, item := range mt.data {
				if now.After(item.expireAt) {
					delete(mt.data, key)
					delete(mt.access, key)
				}
			}
			mt.mutex.Unlock()
		}
	}
}

// Close stops the cleanup ticker.
func (mt *MemoryTier) Close() error {
	mt.cleanupTicker.Stop()
	close(mt.stopCh)
	return nil
}
