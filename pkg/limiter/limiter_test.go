package limiter

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_BurstThenDeny(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	p := Policy{RPM: 60, Burst: 3}

	for i := 0; i < 3; i++ {
		ok, err := s.Allow(ctx, "client", p, 1)
		require.NoError(t, err)
		assert.True(t, ok, "request %d within burst", i)
	}
	ok, err := s.Allow(ctx, "client", p, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, _ = s.Allow(ctx, "other", p, 1)
	assert.True(t, ok, "keys have independent buckets")
}

func TestMemoryStore_Refill(t *testing.T) {
	s := NewMemoryStore()
	clock := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return clock }
	ctx := context.Background()
	p := Policy{RPM: 60, Burst: 1}

	ok, _ := s.Allow(ctx, "c", p, 1)
	require.True(t, ok)
	ok, _ = s.Allow(ctx, "c", p, 1)
	require.False(t, ok)

	clock = clock.Add(1100 * time.Millisecond)
	ok, _ = s.Allow(ctx, "c", p, 1)
	assert.True(t, ok)
}

func TestMemoryStore_SweepsIdleBuckets(t *testing.T) {
	s := NewMemoryStore()
	clock := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return clock }
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = s.Allow(ctx, fmt.Sprintf("c%d", i), Policy{RPM: 60, Burst: 1}, 1)
	}
	assert.Equal(t, 5, s.Len())

	clock = clock.Add(s.idle + time.Minute)
	_, _ = s.Allow(ctx, "fresh", Policy{RPM: 60, Burst: 1}, 1)
	assert.Equal(t, 1, s.Len())
}

func TestPolicy_Defaults(t *testing.T) {
	assert.Equal(t, 1.0, Policy{}.perSecond())
	assert.Equal(t, 1, Policy{}.burst())
	assert.Equal(t, 2.0, Policy{RPM: 120}.perSecond())
	assert.Equal(t, 1, Policy{RPM: 120}.RetryAfter())
	assert.Equal(t, 6, Policy{RPM: 10}.RetryAfter())
}

// Requires a running Redis; skipped otherwise.
func TestRedisStore_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	s, err := DialRedis(ctx, "localhost:6379")
	if err != nil {
		t.Skip("redis not available")
	}
	defer s.Close()

	key := fmt.Sprintf("test-%d", time.Now().UnixNano())
	p := Policy{RPM: 60, Burst: 1}

	ok, err := s.Allow(ctx, key, p, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Allow(ctx, key, p, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	time.Sleep(1100 * time.Millisecond)
	ok, err = s.Allow(ctx, key, p, 1)
	require.NoError(t, err)
	assert.True(t, ok)
}
