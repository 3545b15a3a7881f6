package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/d-kuro/sessionclient/pkg/constants"
)

// RedisBackend implements Backend on a Redis server so several processes
// can share one durable session.
type RedisBackend struct {
	rdb       redis.UniversalClient
	prefix    string
	ttl       time.Duration
	opTimeout time.Duration
}

// RedisOption configures a RedisBackend.
type RedisOption func(*RedisBackend)

// WithRedisPrefix sets the key prefix (default "sessionclient:").
func WithRedisPrefix(prefix string) RedisOption {
	return func(b *RedisBackend) {
		b.prefix = prefix
	}
}

// WithRedisTTL expires stored keys after ttl. Zero keeps them forever.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(b *RedisBackend) {
		b.ttl = ttl
	}
}

// NewRedisBackend wraps an existing client. The caller owns the client.
func NewRedisBackend(rdb redis.UniversalClient, opts ...RedisOption) *RedisBackend {
	b := &RedisBackend{
		rdb:       rdb,
		prefix:    constants.DefaultRedisPrefix,
		opTimeout: constants.RedisOpTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewRedisBackendFromURL parses a redis:// URL and dials lazily.
func NewRedisBackendFromURL(rawURL string, opts ...RedisOption) (*RedisBackend, error) {
	ropts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return NewRedisBackend(redis.NewClient(ropts), opts...), nil
}

// Get implements Backend.Get.
func (b *RedisBackend) Get(key string) (string, error) {
	ctx, cancel := b.opContext()
	defer cancel()

	v, err := b.rdb.Get(ctx, b.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrStorageNotFound
		}
		return "", fmt.Errorf("redis get %s: %w: %v", key, ErrStorageUnavailable, err)
	}
	return v, nil
}

// Set implements Backend.Set.
func (b *RedisBackend) Set(key, value string) error {
	ctx, cancel := b.opContext()
	defer cancel()

	if err := b.rdb.Set(ctx, b.prefix+key, value, b.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w: %v", key, ErrStorageUnavailable, err)
	}
	return nil
}

// Delete implements Backend.Delete.
func (b *RedisBackend) Delete(key string) error {
	ctx, cancel := b.opContext()
	defer cancel()

	if err := b.rdb.Del(ctx, b.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w: %v", key, ErrStorageUnavailable, err)
	}
	return nil
}

// Name implements Backend.Name.
func (b *RedisBackend) Name() string {
	return "redis"
}

// Close closes the underlying client.
func (b *RedisBackend) Close() error {
	return b.rdb.Close()
}

func (b *RedisBackend) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), b.opTimeout)
}
