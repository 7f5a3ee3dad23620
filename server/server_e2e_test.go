package server

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisClient(t *testing.T, addr string) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:            addr,
		Protocol:        2,
		DisableIdentity: true,
		MaxRetries:      -1,
	})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestServerWithGoRedis(t *testing.T) {
	srv := startServer(t, RoleMaster)
	client := newRedisClient(t, srv.Addr())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, client.Ping(ctx).Err())

	echo, err := client.Echo(ctx, "line1\r\nline2").Result()
	require.NoError(t, err)
	assert.Equal(t, "line1\r\nline2", echo)

	require.NoError(t, client.Set(ctx, "key", "value", 0).Err())
	value, err := client.Get(ctx, "key").Result()
	require.NoError(t, err)
	assert.Equal(t, "value", value)

	_, err = client.Get(ctx, "missing").Result()
	assert.ErrorIs(t, err, redis.Nil)

	require.NoError(t, client.Set(ctx, "short", "lived", 50*time.Millisecond).Err())
	time.Sleep(80 * time.Millisecond)
	_, err = client.Get(ctx, "short").Result()
	assert.ErrorIs(t, err, redis.Nil)

	n, err := client.Exists(ctx, "key", "short").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	keys, err := client.Keys(ctx, "k*").Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"key"}, keys)

	info, err := client.Info(ctx, "replication").Result()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(info, "# Replication"))
	assert.Contains(t, info, "role:master")

	deleted, err := client.Del(ctx, "key").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	err = client.Do(ctx, "NOSUCHCOMMAND").Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestServerScriptsWithGoRedis(t *testing.T) {
	srv := startServer(t, RoleMaster)
	client := newRedisClient(t, srv.Addr())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	incr := redis.NewScript(`
		local current = redis.call('GET', KEYS[1])
		if not current then current = 0 end
		local next = tonumber(current) + tonumber(ARGV[1])
		redis.call('SET', KEYS[1], next)
		return next
	`)

	// Run falls back from EVALSHA to EVAL on NOSCRIPT
	got, err := incr.Run(ctx, client, []string{"counter"}, 5).Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(5), got)

	got, err = incr.Run(ctx, client, []string{"counter"}, 2).Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(7), got)

	exists, err := incr.Exists(ctx, client).Result()
	require.NoError(t, err)
	assert.Equal(t, []bool{true}, exists)

	value, err := client.Get(ctx, "counter").Result()
	require.NoError(t, err)
	assert.Equal(t, "7", value)
}

func TestServerConcurrentGoRedisClients(t *testing.T) {
	srv := startServer(t, RoleMaster)
	client := newRedisClient(t, srv.Addr())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const workers = 8
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		go func(w int) {
			for i := 0; i < 50; i++ {
				if err := client.Set(ctx, "k", w, 0).Err(); err != nil {
					errs <- err
					return
				}
				if err := client.Get(ctx, "k").Err(); err != nil {
					errs <- err
					return
				}
			}
			errs <- nil
		}(w)
	}

	for w := 0; w < workers; w++ {
		require.NoError(t, <-errs)
	}
	assert.Equal(t, int64(1), srv.State().Store().KeyCount())
}
