package service

import (
	"context"
	"encoding/hex"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/noah-isme/krs-enrollment-api/internal/repository"
	"github.com/noah-isme/krs-enrollment-api/pkg/config"
)

// Rate-limit categories.
const (
	RateCategoryEnroll = "enroll"
	RateCategoryCart   = "cart"
	RateCategorySearch = "search"
)

// RateDecision is the outcome of one limiter check.
type RateDecision struct {
	Allowed    bool
	Limited    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// RateLimiter is a fixed-window throttle over an injected counter store. Store
// failures let the request through.
type RateLimiter struct {
	store   repository.CounterStore
	rules   map[string]config.RateRule
	prefix  string
	metrics *MetricsService
	logger  *zap.Logger
}

// NewRateLimiter constructs the limiter.
func NewRateLimiter(store repository.CounterStore, cfg config.RateLimitConfig, metrics *MetricsService, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "rl"
	}
	return &RateLimiter{store: store, rules: cfg.Rules, prefix: prefix, metrics: metrics, logger: logger}
}

// Allow counts one request for identity in category.
func (l *RateLimiter) Allow(ctx context.Context, category, identity string) RateDecision {
	rule, ok := l.rules[category]
	if !ok || rule.Limit <= 0 || l.store == nil {
		return RateDecision{Allowed: true}
	}

	count, resetIn, err := l.store.Increment(ctx, l.key(category, identity), rule.Window)
	if err != nil {
		l.logger.Warn("rate limit store unavailable, allowing request", zap.String("category", category), zap.Error(err))
		return RateDecision{Allowed: true, Limited: true, Limit: rule.Limit, Remaining: rule.Limit}
	}

	remaining := rule.Limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	decision := RateDecision{Allowed: count <= int64(rule.Limit), Limited: true, Limit: rule.Limit, Remaining: remaining}
	if !decision.Allowed {
		decision.RetryAfter = resetIn
		l.metrics.RecordRateLimited(category)
	}
	return decision
}

func (l *RateLimiter) key(category, identity string) string {
	sum := blake2b.Sum256([]byte(identity))
	return l.prefix + ":" + category + ":" + hex.EncodeToString(sum[:16])
}
