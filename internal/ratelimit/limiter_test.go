package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/stayledger/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLimiterDisabled(t *testing.T) {
	limiter, err := NewLimiter(config.Config{}, zap.NewNop())
	require.NoError(t, err)
	require.Nil(t, limiter)
	assert.False(t, limiter.Enabled())
}

func TestNewLimiterRequiresRedis(t *testing.T) {
	_, err := NewLimiter(config.Config{
		RateLimit: config.RateLimitConfig{Enabled: true, WebhookPerMinute: 60, WebhookBurst: 10},
	}, zap.NewNop())
	require.Error(t, err)
}

func TestNewLimiterRejectsZeroRate(t *testing.T) {
	_, err := NewLimiter(config.Config{
		Redis:     config.RedisConfig{Addr: "localhost:6379"},
		RateLimit: config.RateLimitConfig{Enabled: true, WebhookPerMinute: 0, WebhookBurst: 10},
	}, zap.NewNop())
	require.Error(t, err)
}

func TestNilLimiterAllowsEverything(t *testing.T) {
	var limiter *Limiter
	ctx := context.Background()

	res, err := limiter.AllowWebhook(ctx, "paypal", "203.0.113.7")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	token, ok, err := limiter.TryLockSweep(ctx, "deposit_expiry_sweep")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, token)
	limiter.ReleaseSweep(ctx, "deposit_expiry_sweep", token)
}

func TestWebhookKeyIsPerClient(t *testing.T) {
	assert.Equal(t, "webhook:ingest:paypal:203.0.113.7", webhookKey(" PayPal ", "203.0.113.7"))
	assert.NotEqual(t, webhookKey("paypal", "203.0.113.7"), webhookKey("paypal", "198.51.100.2"))
	assert.Equal(t, "webhook:ingest:stripe:unknown", webhookKey("stripe", ""))
}

func TestRetryAfter(t *testing.T) {
	assert.Zero(t, retryAfter(true, 0, 1))
	assert.Zero(t, retryAfter(false, 0, 0))
	assert.Equal(t, time.Second, retryAfter(false, 0, 1))
}

func TestDefaultBucketTTL(t *testing.T) {
	assert.Equal(t, time.Second, defaultBucketTTL(0, 10))
	assert.Equal(t, 200*time.Second, defaultBucketTTL(1, 100))
}

func TestLockerRequiresClient(t *testing.T) {
	var locker *Locker
	_, _, err := locker.TryLock(context.Background(), "k", time.Second)
	require.Error(t, err)
	require.NoError(t, locker.Release(context.Background(), "k", "token"))
}
