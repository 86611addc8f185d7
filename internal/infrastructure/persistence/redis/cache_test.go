package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursegate/progress-engine/internal/domain/analytics"
)

func TestUsersDigest_IsOrderIndependent(t *testing.T) {
	assert.Equal(t, "all", UsersDigest(nil))
	assert.Equal(t, UsersDigest([]string{"b", "a"}), UsersDigest([]string{"a", "b"}))
	assert.NotEqual(t, UsersDigest([]string{"a"}), UsersDigest([]string{"a", "b"}))
	assert.Len(t, UsersDigest([]string{"a"}), 16)
}

func TestKeys(t *testing.T) {
	c := NewCacheWithClient(goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"}), "progress:", nil)
	t.Cleanup(func() { _ = c.Close() })

	assert.Equal(t, "progress:dashboard:go:all", c.Key(dashboardNamespace, DashboardScope("go"), UsersDigest(nil)))
	assert.Equal(t, "all", DashboardScope(""))

	now := time.Unix(125, 0)
	assert.Equal(t, "progress:ratelimit:heartbeat:u1:120", RateLimitKey(c, "u1", "heartbeat", time.Minute, now))
}

func TestCache_RejectsMissingTTL(t *testing.T) {
	c := NewCacheWithClient(goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"}), "", nil)
	t.Cleanup(func() { _ = c.Close() })

	assert.ErrorIs(t, c.Set(context.Background(), "k", 1, 0), ErrCacheInvalidTTL)
	assert.ErrorIs(t, c.Set(context.Background(), "", 1, time.Second), ErrCacheKeyEmpty)
}

// Live tests need TEST_REDIS_ADDR=host:port.
func liveCache(t *testing.T) *Cache {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	c, err := NewCache(context.Background(), Config{URL: "redis://" + addr, KeyPrefix: "test-" + uuid.NewString()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestDashboardCache_RoundTripAndInvalidate(t *testing.T) {
	c := liveCache(t)
	d := NewDashboardCache(c)
	ctx := context.Background()

	_, found, err := d.GetDashboard(ctx, "go", nil)
	require.NoError(t, err)
	assert.False(t, found)

	m := &analytics.Metrics{CourseSlug: "go", TotalUsers: 3, Completed: 1}
	require.NoError(t, d.SetDashboard(ctx, "go", []string{"u2", "u1"}, m, time.Minute))
	require.NoError(t, d.SetDashboard(ctx, "", nil, &analytics.Metrics{TotalUsers: 9}, time.Minute))

	got, found, err := d.GetDashboard(ctx, "go", []string{"u1", "u2"})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 3, got.TotalUsers)

	require.NoError(t, d.InvalidateCourse(ctx, "go"))
	_, found, _ = d.GetDashboard(ctx, "go", []string{"u1", "u2"})
	assert.False(t, found)
	_, found, _ = d.GetDashboard(ctx, "", nil)
	assert.False(t, found, "cross-course entries include the course")
}

func TestLocker_SingleHolder(t *testing.T) {
	c := liveCache(t)
	l := NewLocker(c)
	ctx := context.Background()

	release, ok, err := l.TryLock(ctx, "job", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, "job", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, release(ctx))
	_, ok, err = l.TryLock(ctx, "job", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRateLimiter_Window(t *testing.T) {
	c := liveCache(t)
	rl := NewRateLimiter(c, 2, time.Minute)
	ctx := context.Background()

	for i, want := range []bool{true, true, false} {
		ok, err := rl.Allow(ctx, "u1", "heartbeat")
		require.NoError(t, err)
		assert.Equal(t, want, ok, "request %d", i)
	}
}
