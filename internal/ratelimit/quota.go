package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// quotaScript atomically checks whether consuming `tokens` more would exceed
// the identity's per-family quota, and if not, reserves them.
// KEYS[1] = quota key
// ARGV[1] = tokens to consume
// ARGV[2] = quota limit
// ARGV[3] = window in milliseconds (quota resets this often)
// Returns: 1 if allowed (and reserved), 0 if it would exceed the quota.
var quotaScript = redis.NewScript(`
	local key    = KEYS[1]
	local tokens = tonumber(ARGV[1])
	local limit  = tonumber(ARGV[2])
	local window = tonumber(ARGV[3])

	local used = tonumber(redis.call('GET', key) or '0')
	if used + tokens > limit then
		return 0
	end

	redis.call('INCRBY', key, tokens)
	redis.call('PEXPIRE', key, window)
	return 1
`)

// QuotaLimiter enforces per-identity, per-family token quotas (spec §4.6
// preprocessor step 7), grounded on the teacher's sliding-window Lua-script
// pattern in rpm.go but tracking cumulative token consumption rather than
// request counts within a window.
type QuotaLimiter struct {
	rdb    *redis.Client
	window time.Duration
}

// NewQuotaLimiter creates a QuotaLimiter whose counters reset every window.
func NewQuotaLimiter(rdb *redis.Client, window time.Duration) *QuotaLimiter {
	if window <= 0 {
		window = time.Hour
	}
	return &QuotaLimiter{rdb: rdb, window: window}
}

// Allow reserves `tokens` against identity's quota for family, returning
// false if it would be exceeded. On Redis unavailability it fails open, same
// as RPMLimiter, since quota enforcement is best-effort rather than billing.
func (q *QuotaLimiter) Allow(ctx context.Context, identity, family string, tokens, limit int64) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	key := fmt.Sprintf("quota:%s:%s", identity, family)
	result, err := quotaScript.Run(ctx, q.rdb, []string{key}, tokens, limit, q.window.Milliseconds()).Int()
	if err != nil {
		return true, nil
	}
	return result == 1, nil
}
