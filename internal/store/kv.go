package store

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrMiss 表示缓存不存在
var ErrMiss = errors.New("cache miss")

// 聚合缓存全局版本号（进程外共享，多实例下 INCR 原子递增）
const aggregateVersionKey = "fleet:aggregate:version"

// KV 抽象的 KV 存储（用于在单元测试中替换 Redis）
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	// AggregateVersion returns the current global cache version (0 when unset).
	AggregateVersion(ctx context.Context) (int64, error)
	// BumpAggregateVersion atomically increments the global cache version,
	// invalidating every versioned aggregate key at once.
	BumpAggregateVersion(ctx context.Context) (int64, error)
}

// RedisKV 基于 go-redis 的 KV 实现
type RedisKV struct {
	c *redis.Client
}

func NewRedisKV(c *redis.Client) *RedisKV { return &RedisKV{c: c} }

func (r *RedisKV) Get(ctx context.Context, key string) (string, error) {
	val, err := r.c.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", ErrMiss
		}
		return "", err
	}
	return val, nil
}

func (r *RedisKV) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.c.Set(ctx, key, value, ttl).Err()
}

func (r *RedisKV) AggregateVersion(ctx context.Context) (int64, error) {
	v, err := r.c.Get(ctx, aggregateVersionKey).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, err
	}
	return v, nil
}

func (r *RedisKV) BumpAggregateVersion(ctx context.Context) (int64, error) {
	return r.c.Incr(ctx, aggregateVersionKey).Result()
}
