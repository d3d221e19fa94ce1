package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTier implements Tier using Redis as the shared cross-process layer.
type RedisTier struct {
	client *redis.Client
	prefix string
}

// NewRedisTier creates a Redis cache tier.
func NewRedisTier(opts ...RedisOption) (*RedisTier, error) {
	cfg := &RedisConfig{
		Host:         "localhost",
		Port:         6379,
		DB:           0,
		PoolSize:     10,
		PoolTimeout:  30 * time.Second,
		MinIdleConns: 5,
		Prefix:       "finsight",
	}

	for _, opt := range opts {
		opt(cfg)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		PoolTimeout:  cfg.PoolTimeout,
		MinIdleConns: cfg.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisTier{
		client: client,
		prefix: cfg.Prefix,
	}, nil
}

// Client returns the underlying redis client.
func (t *RedisTier) Client() *redis.Client {
	return t.client
}

// Close closes the Redis connection.
func (t *RedisTier) Close() error {
	return t.client.Close()
}

func (t *RedisTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return t.client.Set(ctx, t.wrapKey(key), value, ttl).Err()
}

func (t *RedisTier) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := t.client.Get(ctx, t.wrapKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}
	return data, nil
}

func (t *RedisTier) Delete(ctx context.Context, keys ...string) error {
	return t.client.Unlink(ctx, t.wrapKeys(keys...)...).Err()
}

func (t *RedisTier) DeletePrefix(ctx context.Context, prefix string) error {
	pattern := t.wrapKey(prefix) + "*"

	keys, err := t.client.Keys(ctx, pattern).Result()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	return t.client.Unlink(ctx, keys...).Err()
}

func (t *RedisTier) wrapKey(key string) string {
	return fmt.Sprintf("%s:%s", t.prefix, key)
}

func (t *RedisTier) wrapKeys(keys ...string) []string {
	wrapped := make([]string, len(keys))
	for i, key := range keys {
		wrapped[i] = t.wrapKey(key)
	}
	return wrapped
}
