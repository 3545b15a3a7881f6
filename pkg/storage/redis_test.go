package storage

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisBackendTest(t *testing.T, opts ...RedisOption) (*RedisBackend, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisBackend(rdb, opts...), mr
}

func TestRedisBackend_RoundTrip(t *testing.T) {
	b, mr := newRedisBackendTest(t)

	_, err := b.Get("k")
	require.ErrorIs(t, err, ErrStorageNotFound)

	require.NoError(t, b.Set("k", "v"))
	assert.True(t, mr.Exists("sessionclient:k"))

	v, err := b.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	require.NoError(t, b.Delete("k"))
	require.NoError(t, b.Delete("k"))
	assert.False(t, mr.Exists("sessionclient:k"))
}

func TestRedisBackend_PrefixAndTTL(t *testing.T) {
	b, mr := newRedisBackendTest(t, WithRedisPrefix("app:"), WithRedisTTL(time.Minute))

	require.NoError(t, b.Set("k", "v"))
	assert.True(t, mr.Exists("app:k"))
	assert.Equal(t, time.Minute, mr.TTL("app:k"))

	mr.FastForward(2 * time.Minute)
	_, err := b.Get("k")
	require.ErrorIs(t, err, ErrStorageNotFound)
}

func TestRedisBackend_Unavailable(t *testing.T) {
	b, mr := newRedisBackendTest(t)
	mr.Close()

	_, err := b.Get("k")
	require.ErrorIs(t, err, ErrStorageUnavailable)
	require.ErrorIs(t, b.Set("k", "v"), ErrStorageUnavailable)
}

func TestNewRedisBackendFromURL(t *testing.T) {
	mr := miniredis.RunT(t)

	b, err := NewRedisBackendFromURL("redis://" + mr.Addr() + "/0")
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.Set("k", "v"))
	got, err := mr.Get("sessionclient:k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	_, err = NewRedisBackendFromURL("::not a url")
	require.Error(t, err)
}
