package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-shellworker/internal/storage/cache"
	"github.com/tinywideclouds/go-shellworker/pkg/dispatch"
)

func TestRedisClient(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client, err := cache.NewRedisClient(ctx, mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	t.Run("Set and Get round trip as JSON", func(t *testing.T) {
		in := dispatch.Devices{FCMTokens: []string{"tok-1"}}
		require.NoError(t, client.Set(ctx, "devices:a", in, time.Minute))

		raw, err := mr.Get("devices:a")
		require.NoError(t, err)
		assert.JSONEq(t, `{"fcm_tokens":["tok-1"],"apns_tokens":null,"web_subscriptions":null}`, raw)

		var out dispatch.Devices
		require.NoError(t, client.Get(ctx, "devices:a", &out))
		assert.Equal(t, in, out)
	})

	t.Run("Missing and expired keys are misses", func(t *testing.T) {
		var out dispatch.Devices
		assert.ErrorIs(t, client.Get(ctx, "devices:none", &out), cache.ErrCacheMiss)

		require.NoError(t, client.Set(ctx, "devices:short", dispatch.Devices{}, time.Second))
		mr.FastForward(2 * time.Second)
		assert.ErrorIs(t, client.Get(ctx, "devices:short", &out), cache.ErrCacheMiss)
	})

	t.Run("Corrupt value is an error, not a miss", func(t *testing.T) {
		require.NoError(t, mr.Set("devices:bad", "{nope"))
		var out dispatch.Devices
		err := client.Get(ctx, "devices:bad", &out)
		require.Error(t, err)
		assert.NotErrorIs(t, err, cache.ErrCacheMiss)
	})

	t.Run("Del removes the key", func(t *testing.T) {
		require.NoError(t, client.Set(ctx, "devices:gone", dispatch.Devices{}, 0))
		require.NoError(t, client.Del(ctx, "devices:gone"))
		assert.False(t, mr.Exists("devices:gone"))
	})

	t.Run("Raw shares the connection", func(t *testing.T) {
		require.NoError(t, client.Raw().Set(ctx, "plain", "v", 0).Err())
		assert.True(t, mr.Exists("plain"))
	})
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = cache.NewRedisClient(context.Background(), addr, "", 0)
	assert.Error(t, err)
}
