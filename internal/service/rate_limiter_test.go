package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/krs-enrollment-api/internal/repository"
	"github.com/noah-isme/krs-enrollment-api/pkg/config"
)

type failingCounterStore struct{}

func (failingCounterStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	return 0, 0, errors.New("redis: connection refused")
}

func testRateConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		Enabled: true,
		Prefix:  "test",
		Rules: map[string]config.RateRule{
			RateCategoryEnroll: {Limit: 10, Window: time.Minute},
		},
	}
}

func TestRateLimiterWindow(t *testing.T) {
	now := time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC)
	store := repository.NewMemoryCounterStore(func() time.Time { return now })
	metrics := NewMetricsService()
	limiter := NewRateLimiter(store, testRateConfig(), metrics, nil)
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		decision := limiter.Allow(ctx, RateCategoryEnroll, "10.0.0.1")
		assert.True(t, decision.Allowed, "request %d", i)
		assert.Equal(t, 10-i, decision.Remaining)
	}

	now = now.Add(15 * time.Second)
	decision := limiter.Allow(ctx, RateCategoryEnroll, "10.0.0.1")
	assert.False(t, decision.Allowed)
	assert.Equal(t, 0, decision.Remaining)
	assert.Equal(t, 45*time.Second, decision.RetryAfter)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.rateLimited.WithLabelValues(RateCategoryEnroll)))

	assert.True(t, limiter.Allow(ctx, RateCategoryEnroll, "10.0.0.2").Allowed)

	now = now.Add(45 * time.Second)
	assert.True(t, limiter.Allow(ctx, RateCategoryEnroll, "10.0.0.1").Allowed)
}

func TestRateLimiterFailsOpen(t *testing.T) {
	limiter := NewRateLimiter(failingCounterStore{}, testRateConfig(), nil, nil)
	decision := limiter.Allow(context.Background(), RateCategoryEnroll, "10.0.0.1")
	assert.True(t, decision.Allowed)
	assert.Equal(t, 10, decision.Limit)
}

func TestRateLimiterIgnoresUnknownCategory(t *testing.T) {
	limiter := NewRateLimiter(repository.NewMemoryCounterStore(nil), testRateConfig(), nil, nil)
	for i := 0; i < 50; i++ {
		decision := limiter.Allow(context.Background(), "reports", "10.0.0.1")
		assert.True(t, decision.Allowed)
		assert.False(t, decision.Limited)
	}
}

func TestRateLimiterHashesIdentity(t *testing.T) {
	limiter := NewRateLimiter(repository.NewMemoryCounterStore(nil), testRateConfig(), nil, nil)
	key := limiter.key(RateCategoryEnroll, "10.0.0.1")
	assert.NotContains(t, key, "10.0.0.1")
	assert.Equal(t, key, limiter.key(RateCategoryEnroll, "10.0.0.1"))
	assert.Len(t, key, len("test:enroll:")+32)
}
