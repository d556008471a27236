package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/campaign-dispatch/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLimitPerSec  int64 = 10
	defaultLimitPrefix        = "campaign-dispatch"
	window                    = time.Second
	minWindowWait             = 5 * time.Millisecond
)

// sendWindowScript counts one send in the current window and reports
// whether the count is still within the limit.
var sendWindowScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter caps mailer sends per organization per second across
// every worker sharing the Redis instance.
type RedisRateLimiter struct {
	client      *goredis.Client
	keyPrefix   string
	limitPerSec int64
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client *goredis.Client, prefix string, limitPerSec int) (*RedisRateLimiter, error) {
	return newRedisRateLimiter(client, prefix, int64(limitPerSec), time.Now, sleepWithContext)
}

func newRedisRateLimiter(
	client *goredis.Client,
	prefix string,
	limitPerSec int64,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultLimitPrefix
	}
	if limitPerSec <= 0 {
		limitPerSec = defaultLimitPerSec
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &RedisRateLimiter{
		client:      client,
		keyPrefix:   prefix + ":ratelimit:send",
		limitPerSec: limitPerSec,
		now:         nowFn,
		sleep:       sleepFn,
	}, nil
}

func (r *RedisRateLimiter) Allow(ctx context.Context, organizationID string) (bool, error) {
	if r == nil || r.client == nil {
		return false, fmt.Errorf("rate limiter is not initialized")
	}

	org := strings.TrimSpace(organizationID)
	if org == "" {
		return false, fmt.Errorf("organization id is required")
	}

	key := r.windowKey(org, r.now())
	result, err := sendWindowScript.Run(ctx, r.client, []string{key}, r.limitPerSec, window.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}

	return result == 1, nil
}

// Wait blocks until the organization gets a slot, sleeping to the start of
// the next window after each refusal.
func (r *RedisRateLimiter) Wait(ctx context.Context, organizationID string) error {
	for {
		allowed, err := r.Allow(ctx, organizationID)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		if err := r.sleep(ctx, r.untilNextWindow()); err != nil {
			return err
		}
	}
}

func (r *RedisRateLimiter) windowKey(org string, at time.Time) string {
	return fmt.Sprintf("%s:%s:%d", r.keyPrefix, org, at.UTC().Unix())
}

func (r *RedisRateLimiter) untilNextWindow() time.Duration {
	now := r.now()
	return max(now.Truncate(window).Add(window).Sub(now), minWindowWait)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
