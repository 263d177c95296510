package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newRedisLimiter(t *testing.T, limit int, window time.Duration) (*SlidingWindow, *miniredis.Miniredis, *clock) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })

	c := &clock{t: time.UnixMilli(1_700_000_000_000)}
	l := NewSlidingWindow(client, limit, window)
	l.now = c.now
	return l, srv, c
}

func TestSlidingWindow_Limit(t *testing.T) {
	ctx := context.Background()
	l, _, c := newRedisLimiter(t, 5, time.Minute)

	for i := 0; i < 5; i++ {
		res, err := l.Check(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i+1)
		assert.Equal(t, 4-i, res.Remaining)
		c.advance(time.Second)
	}

	res, err := l.Check(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	other, err := l.Check(ctx, "5.6.7.8")
	require.NoError(t, err)
	assert.True(t, other.Allowed, "keys are independent")
}

func TestSlidingWindow_Slides(t *testing.T) {
	ctx := context.Background()
	l, _, c := newRedisLimiter(t, 5, time.Minute)
	start := c.t

	for i := 0; i < 5; i++ {
		_, err := l.Check(ctx, "k")
		require.NoError(t, err)
		c.advance(time.Second)
	}

	// The first request (at start) has left the window; the other four have not.
	c.t = start.Add(time.Minute + 500*time.Millisecond)
	res, err := l.Check(ctx, "k")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.Check(ctx, "k")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, start.Add(time.Second).Add(time.Minute), res.Reset)
}

func TestSlidingWindow_RefusedRequestsDoNotCount(t *testing.T) {
	ctx := context.Background()
	l, _, c := newRedisLimiter(t, 2, time.Minute)

	for i := 0; i < 2; i++ {
		_, err := l.Check(ctx, "k")
		require.NoError(t, err)
	}
	for i := 0; i < 10; i++ {
		res, err := l.Check(ctx, "k")
		require.NoError(t, err)
		assert.False(t, res.Allowed)
	}

	c.advance(time.Minute + time.Millisecond)
	res, err := l.Check(ctx, "k")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Remaining)
}

func TestFallback_UsesMemoryWhenRedisFails(t *testing.T) {
	ctx := context.Background()
	l, srv, _ := newRedisLimiter(t, 5, time.Minute)
	mem := NewMemory(1, time.Minute, 100)
	f := NewFallback(l, mem, nil)

	res, err := f.Check(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 5, res.Limit)

	srv.SetError("LOADING")
	res, err = f.Check(ctx, "k")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Limit)

	res, err = f.Check(ctx, "k")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}
