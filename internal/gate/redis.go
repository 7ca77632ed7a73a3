package gate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key prefix for throttle counters: vigil:gate:{messageID}:{source}.
const redisThrottlePrefix = "vigil:gate:"

// RedisThrottle shares failure counts across engine replicas. Counters
// expire with the window TTL, so Redis does its own cleanup.
//
// Failures are counted best-effort: if Redis is unreachable the gate falls
// back to not-throttled rather than locking everyone out, and the
// persistent per-message lockout still applies.
type RedisThrottle struct {
	rdb       *redis.Client
	threshold int
	window    time.Duration
}

// NewRedisThrottle creates a throttle backed by the given client.
func NewRedisThrottle(rdb *redis.Client, threshold int, window time.Duration) *RedisThrottle {
	return &RedisThrottle{rdb: rdb, threshold: threshold, window: window}
}

// Blocked implements Throttle. The now parameter is unused; expiry is
// enforced by the key TTL on the Redis side.
func (t *RedisThrottle) Blocked(messageID, source string, _ time.Time) bool {
	n, err := t.rdb.Get(context.Background(), t.key(messageID, source)).Int()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("gate throttle read failed", "error", err)
		}
		return false
	}
	return n >= t.threshold
}

// RecordFailure implements Throttle.
func (t *RedisThrottle) RecordFailure(messageID, source string, _ time.Time) {
	ctx := context.Background()
	key := t.key(messageID, source)

	n, err := t.rdb.Incr(ctx, key).Result()
	if err != nil {
		slog.Warn("gate throttle increment failed", "error", err)
		return
	}
	if n == 1 {
		// First failure in this window starts the TTL.
		if err := t.rdb.Expire(ctx, key, t.window).Err(); err != nil {
			slog.Warn("gate throttle expire failed", "error", err)
		}
	}
}

func (t *RedisThrottle) key(messageID, source string) string {
	return fmt.Sprintf("%s%s:%s", redisThrottlePrefix, messageID, source)
}
