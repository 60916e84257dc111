package ratelimiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestTokenBucket(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	tb := newTokenBucket(2, 3, clock.now)

	for i := 0; i < 3; i++ {
		require.True(t, tb.Allow(), "burst call %d", i)
	}
	require.False(t, tb.Allow())

	clock.advance(500 * time.Millisecond)
	require.True(t, tb.Allow())
	require.False(t, tb.Allow())

	clock.advance(time.Hour)
	require.InDelta(t, 3.0, tb.Tokens(), 1e-9)
}

func TestFixedWindowCounter(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	c := newFixedWindowCounter(2, time.Second, clock.now)

	require.True(t, c.Allow())
	require.True(t, c.Allow())
	require.False(t, c.Allow())

	clock.advance(1500 * time.Millisecond)
	require.True(t, c.Allow())
	require.True(t, c.Allow())
	require.False(t, c.Allow())

	// 第二个窗口从 1s 开始，2s 时重置
	clock.advance(500 * time.Millisecond)
	require.True(t, c.Allow())
}

func TestNew(t *testing.T) {
	l, err := New(Settings{Rate: 1, Capacity: 1})
	require.NoError(t, err)
	require.IsType(t, &TokenBucket{}, l)

	l, err = New(Settings{Algorithm: AlgorithmFixedWindow, Limit: 5, Window: time.Minute})
	require.NoError(t, err)
	require.IsType(t, &FixedWindowCounter{}, l)

	_, err = New(Settings{Algorithm: "leakyBucket"})
	require.EqualError(t, err, "unsupported rate limiter algorithm: leakyBucket")

	_, err = New(Settings{Algorithm: AlgorithmTokenBucket})
	require.Error(t, err)
}
