package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewLimiter(client, "test-salt")
}

func TestCheckRateLimit_AllowsUnderLimitThenBlocks(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	cfg := LimitConfig{Rate: 2, Window: time.Minute}

	for i := 0; i < 2; i++ {
		d, err := l.CheckRateLimit(ctx, ScopeInternalControl, "rl:test", cfg)
		require.NoError(t, err)
		require.True(t, d.Allowed)
		require.Equal(t, ScopeInternalControl, d.Scope)
	}

	d, err := l.CheckRateLimit(ctx, ScopeInternalControl, "rl:test", cfg)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, 0, d.Remaining)
}

func TestCheckRateLimit_RedisUnavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	l := NewLimiter(client, "test-salt")

	_, err := l.CheckRateLimit(context.Background(), ScopeInternalControl, "rl:test", LimitConfig{Rate: 1, Window: time.Second})
	require.ErrorIs(t, err, ErrRedisUnavailable)
}

func TestHashIP_StableAndSaltDependent(t *testing.T) {
	a := NewLimiter(nil, "salt-a")
	b := NewLimiter(nil, "salt-b")

	require.Equal(t, a.HashIP("10.0.0.1"), a.HashIP("10.0.0.1"))
	require.NotEqual(t, a.HashIP("10.0.0.1"), b.HashIP("10.0.0.1"))
}
