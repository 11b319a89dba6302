package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/attribution/internal/cache"
	"github.com/smallbiznis/attribution/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBeaconLimiterWithoutRedisAllowsEverything(t *testing.T) {
	cfg := config.Config{RateLimit: config.RateLimitConfig{Enabled: true, Rate: 1, Burst: 1}}
	l, err := NewBeaconLimiter(cfg, nil, zap.NewNop())
	require.NoError(t, err)
	assert.False(t, l.Enabled())

	for i := 0; i < 3; i++ {
		res, err := l.AllowIP(context.Background(), "203.0.113.7")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}

	release, claimed, err := l.ClaimPurchase(context.Background(), "01HSESSION")
	require.NoError(t, err)
	assert.True(t, claimed)
	release()
}

func TestNilBeaconLimiterIsSafe(t *testing.T) {
	var l *BeaconLimiter
	res, err := l.AllowIP(context.Background(), "203.0.113.7")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	_, claimed, err := l.ClaimPurchase(context.Background(), "s")
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestRetryAfter(t *testing.T) {
	assert.Zero(t, retryAfterFor(true, 0, 5))
	assert.Equal(t, 200*time.Millisecond, retryAfterFor(false, 0, 5))
	assert.Equal(t, 100*time.Millisecond, retryAfterFor(false, 0.5, 5))
}

func TestBucketTTL(t *testing.T) {
	assert.Equal(t, 8*time.Second, bucketTTL(5, 20))
	assert.Equal(t, time.Second, bucketTTL(100, 1))
	assert.Equal(t, time.Second, bucketTTL(0, 1))
}

func TestNewTokenBucketValidates(t *testing.T) {
	_, err := NewTokenBucket(nil, 1, 1)
	assert.ErrorIs(t, err, ErrBucketUnconfigured)

	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = client.Close() })
	_, err = NewTokenBucket(client, 0, 1)
	assert.ErrorIs(t, err, ErrBucketInvalid)

	cfg := config.Config{RateLimit: config.RateLimitConfig{Enabled: true, Rate: 5, Burst: 0}}
	_, err = NewBeaconLimiter(cfg, client, zap.NewNop())
	assert.ErrorIs(t, err, ErrBucketInvalid)
}

func TestReplyHelpers(t *testing.T) {
	assert.Equal(t, int64(1), toInt(int64(1)))
	assert.Equal(t, int64(1), toInt("1"))
	assert.Equal(t, 2.5, toFloat("2.5"))
	assert.Zero(t, toFloat("x"))
}

// redisClient connects to REDIS_ADDR or skips the test.
func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())
	return client
}

func TestBeaconLimiterAgainstRedis(t *testing.T) {
	client := redisClient(t)
	ctx := context.Background()
	cfg := config.Config{RateLimit: config.RateLimitConfig{Enabled: true, Rate: 0.001, Burst: 2}}
	l, err := NewBeaconLimiter(cfg, client, zap.NewNop())
	require.NoError(t, err)

	ip := "198.51.100." + time.Now().Format("150405.000")
	t.Cleanup(func() { client.Del(ctx, "beacon:ip:"+cache.AddressKey(ip)) })

	first, err := l.AllowIP(ctx, ip)
	require.NoError(t, err)
	second, err := l.AllowIP(ctx, ip)
	require.NoError(t, err)
	third, err := l.AllowIP(ctx, ip)
	require.NoError(t, err)
	assert.True(t, first.Allowed)
	assert.True(t, second.Allowed)
	assert.False(t, third.Allowed)
	assert.Positive(t, third.RetryAfter)

	release, claimed, err := l.ClaimPurchase(ctx, ip)
	require.NoError(t, err)
	require.True(t, claimed)
	_, again, err := l.ClaimPurchase(ctx, ip)
	require.NoError(t, err)
	assert.False(t, again)
	release()
	_, afterRelease, err := l.ClaimPurchase(ctx, ip)
	require.NoError(t, err)
	assert.True(t, afterRelease)
	client.Del(ctx, "beacon:purchase:"+ip)
}
