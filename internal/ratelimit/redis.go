package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrScript increments the counter and starts its window on first use.
// A key left without expiry is repaired so a counter can never outlive its window forever.
var incrScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if count == 1 or ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisStore keeps counters in Redis so several instances share one limit.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
}

// RedisOption configures RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix namespaces counter keys.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = strings.Trim(prefix, ":") }
}

// WithRedisClock overrides the time source used to turn TTLs into reset times.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(s *RedisStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewRedisStore returns a RedisStore using rdb.
func NewRedisStore(rdb redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{rdb: rdb, prefix: "ratelimit", now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ CounterStore = (*RedisStore)(nil)

func (s *RedisStore) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

// Increment implements CounterStore.
func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	ms := window.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	raw, err := incrScript.Run(ctx, s.rdb, []string{s.key(key)}, ms).Int64Slice()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis incr %s: %w", key, err)
	}
	if len(raw) != 2 {
		return 0, time.Time{}, fmt.Errorf("redis incr %s: unexpected reply %v", key, raw)
	}
	return raw[0], s.now().Add(time.Duration(raw[1]) * time.Millisecond), nil
}

// Reset implements CounterStore.
func (s *RedisStore) Reset(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.key(key)).Err()
}

// Ping checks connectivity; used by the readiness probe.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
