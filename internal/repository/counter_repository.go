package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCounterUnavailable is returned when a counter store has no backing connection.
var ErrCounterUnavailable = errors.New("counter store unavailable")

// CounterStore increments fixed-window counters for the rate limiter.
// Increment returns the count after incrementing and the time left in the current window.
type CounterStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// MemoryCounterStore keeps window counters in process memory.
type MemoryCounterStore struct {
	mu       sync.Mutex
	now      func() time.Time
	counters map[string]*windowCounter
	calls    int
	widest   time.Duration
}

type windowCounter struct {
	start time.Time
	count int64
}

const memoryCounterSweepEvery = 1024

// NewMemoryCounterStore builds a single-node counter store. A nil clock uses time.Now.
func NewMemoryCounterStore(now func() time.Time) *MemoryCounterStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryCounterStore{now: now, counters: make(map[string]*windowCounter)}
}

// Increment resets the counter to 1 once the window has elapsed since it started.
func (s *MemoryCounterStore) Increment(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.calls++
	if window > s.widest {
		s.widest = window
	}
	if s.calls%memoryCounterSweepEvery == 0 {
		s.sweep(now)
	}

	counter, ok := s.counters[key]
	if !ok || now.Sub(counter.start) >= window {
		counter = &windowCounter{start: now}
		s.counters[key] = counter
	}
	counter.count++
	return counter.count, counter.start.Add(window).Sub(now), nil
}

// sweep drops counters older than the widest window seen.
func (s *MemoryCounterStore) sweep(now time.Time) {
	for key, counter := range s.counters {
		if now.Sub(counter.start) >= s.widest {
			delete(s.counters, key)
		}
	}
}

// incrementScript starts the window on the first hit and reports the remaining TTL.
var incrementScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisCounterStore shares window counters across nodes through Redis.
type RedisCounterStore struct {
	client *redis.Client
}

// NewRedisCounterStore constructs the Redis-backed store.
func NewRedisCounterStore(client *redis.Client) *RedisCounterStore {
	return &RedisCounterStore{client: client}
}

// Increment runs the counter script atomically on the server.
func (s *RedisCounterStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if s.client == nil {
		return 0, 0, ErrCounterUnavailable
	}

	vals, err := incrementScript.Run(ctx, s.client, []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("redis increment %s: %w", key, err)
	}
	if len(vals) != 2 {
		return 0, 0, fmt.Errorf("redis increment %s: unexpected reply %v", key, vals)
	}
	return vals[0], time.Duration(vals[1]) * time.Millisecond, nil
}
