package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrementScript bumps a counter and starts its window on the first hit in
// one round trip. Returns {count, pttl}.
var incrementScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if count == 1 or ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisTracker shares counters between instances through Redis.
type RedisTracker struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisTracker(client redis.UniversalClient, prefix string) *RedisTracker {
	return &RedisTracker{client: client, prefix: prefix}
}

func (t *RedisTracker) key(k string) string {
	return t.prefix + k
}

func (t *RedisTracker) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	res, err := incrementScript.Run(ctx, t.client, []string{t.key(key)}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrTrackerUnavailable, err)
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("%w: unexpected script reply %v", ErrTrackerUnavailable, res)
	}
	return res[0], time.Duration(res[1]) * time.Millisecond, nil
}

func (t *RedisTracker) Count(ctx context.Context, key string) (int64, error) {
	n, err := t.client.Get(ctx, t.key(key)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrTrackerUnavailable, err)
	}
	return n, nil
}

func (t *RedisTracker) Lock(ctx context.Context, key string, d time.Duration) error {
	if err := t.client.Set(ctx, t.key(key), 1, d).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTrackerUnavailable, err)
	}
	return nil
}

func (t *RedisTracker) LockedFor(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := t.client.PTTL(ctx, t.key(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTrackerUnavailable, err)
	}
	// -2 missing, -1 no expiry. Locks are always written with one.
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

func (t *RedisTracker) Reset(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = t.key(k)
	}
	if err := t.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTrackerUnavailable, err)
	}
	return nil
}
