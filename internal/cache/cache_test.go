package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
}

func newTestCache(t *testing.T, ttl time.Duration) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, ttl), mr
}

func TestSetGetRoundTrip(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.SetJSON(ctx, "k", payload{Name: "usd", Value: 100}))

	var got payload
	found, err := c.GetJSON(ctx, "k", &got)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, payload{Name: "usd", Value: 100}, got)
}

func TestGetMissingKey(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	var got payload
	found, err := c.GetJSON(context.Background(), "missing", &got)
	require.NoError(t, err)
	require.False(t, found)
}

func TestTTLExpiry(t *testing.T) {
	c, mr := newTestCache(t, time.Second)
	ctx := context.Background()
	require.NoError(t, c.SetJSON(ctx, "k", payload{Name: "eur"}))

	mr.FastForward(2 * time.Second)

	var got payload
	found, err := c.GetJSON(ctx, "k", &got)
	require.NoError(t, err)
	require.False(t, found)
}

func TestForeverSurvivesTTL(t *testing.T) {
	c, mr := newTestCache(t, time.Second)
	ctx := context.Background()
	require.NoError(t, c.SetJSONForever(ctx, "last", payload{Name: "gbp"}))

	mr.FastForward(time.Hour)

	var got payload
	found, err := c.GetJSON(ctx, "last", &got)
	require.NoError(t, err)
	require.True(t, found)
}

func TestNilCacheIsNoop(t *testing.T) {
	var c *Cache
	ctx := context.Background()
	require.NoError(t, c.SetJSON(ctx, "k", payload{}))
	require.NoError(t, c.SetJSONForever(ctx, "k", payload{}))
	require.NoError(t, c.Delete(ctx, "k"))
	found, err := c.GetJSON(ctx, "k", &payload{})
	require.NoError(t, err)
	require.False(t, found)
}
