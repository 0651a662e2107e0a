package store

import (
	"context"
	"errors"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/redis/go-redis/v9"
)

// Backend is the durable key-value tier behind a GuardedStore
type Backend interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// RedisBackend stores values in Redis with a sliding TTL
type RedisBackend struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisBackend creates a Redis backed durable tier
func NewRedisBackend(client *redis.Client, ttl time.Duration) *RedisBackend {
	return &RedisBackend{client: client, ttl: ttl}
}

func (b *RedisBackend) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := b.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (b *RedisBackend) Set(ctx context.Context, key, value string) error {
	return b.client.Set(ctx, key, value, b.ttl).Err()
}

func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	return b.client.Del(ctx, key).Err()
}

// MemoryBackend is an in-process durable tier for tests and local runs
type MemoryBackend struct {
	values *ttlcache.Cache[string, string]
}

// NewMemoryBackend keeps values until deleted
func NewMemoryBackend() *MemoryBackend {
	return NewExpiringMemoryBackend(0)
}

// NewExpiringMemoryBackend drops values ttl after they were last set, like the
// Redis tier. ttl <= 0 keeps them forever.
func NewExpiringMemoryBackend(ttl time.Duration) *MemoryBackend {
	opts := []ttlcache.Option[string, string]{ttlcache.WithDisableTouchOnHit[string, string]()}
	if ttl > 0 {
		opts = append(opts, ttlcache.WithTTL[string, string](ttl))
	}
	return &MemoryBackend{values: ttlcache.New[string, string](opts...)}
}

// RunJanitor frees expired values until ctx is done
func (b *MemoryBackend) RunJanitor(ctx context.Context) {
	go b.values.Start()
	<-ctx.Done()
	b.values.Stop()
}

func (b *MemoryBackend) Get(_ context.Context, key string) (string, bool, error) {
	item := b.values.Get(key)
	if item == nil {
		return "", false, nil
	}
	return item.Value(), true, nil
}

func (b *MemoryBackend) Set(_ context.Context, key, value string) error {
	b.values.Set(key, value, ttlcache.DefaultTTL)
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, key string) error {
	b.values.Delete(key)
	return nil
}
