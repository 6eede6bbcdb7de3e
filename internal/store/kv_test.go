package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisKV(t *testing.T) *RedisKV {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisKV(client)
}

func TestRedisKV_GetSet(t *testing.T) {
	kv := setupRedisKV(t)
	ctx := context.Background()

	_, err := kv.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, kv.Set(ctx, "k", "v", time.Minute))
	v, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}

func TestRedisKV_AggregateVersion(t *testing.T) {
	kv := setupRedisKV(t)
	ctx := context.Background()

	// 未设置时版本号为 0
	v, err := kv.AggregateVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	v, err = kv.BumpAggregateVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = kv.BumpAggregateVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	v, err = kv.AggregateVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}
