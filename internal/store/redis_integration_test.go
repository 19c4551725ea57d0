//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/felixgeelhaar/gatekeeper/internal/log"
)

func TestRedisStore_Integration(t *testing.T) {
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	first, err := OpenRedis(ctx, url, "gk:test:", log.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = first.Close() })
	second, err := OpenRedis(ctx, url, "gk:test:", log.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })

	_, err = first.Get(ctx, "app_token")
	assert.ErrorIs(t, err, ErrNotFound)

	changes := make(chan string, 4)
	first.OnExternalChange("app_token", func(key string) { changes <- key })
	// Give the subscription a moment to register server-side.
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, first.Set(ctx, "app_token", []byte(`"own"`)))
	require.NoError(t, second.Set(ctx, "app_token", []byte(`"shared"`)))

	select {
	case key := <-changes:
		assert.Equal(t, "app_token", key)
	case <-time.After(5 * time.Second):
		t.Fatal("expected change notification from the second handle")
	}

	token, ok := GetJSON[string](ctx, first, "app_token")
	require.True(t, ok)
	assert.Equal(t, "shared", token)

	require.NoError(t, second.Remove(ctx, "app_token"))
	_, err = first.Get(ctx, "app_token")
	assert.ErrorIs(t, err, ErrNotFound)
}
