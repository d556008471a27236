package redis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/campaign-dispatch/internal/lock"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLockTTL = 30 * time.Second
	lockRetryStep  = 25 * time.Millisecond
	lockRetryMax   = 250 * time.Millisecond
)

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lease only while the key still holds its token.
var renewScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var _ lock.Locker = (*RedisLocker)(nil)

// RedisLocker grants leases with SET NX PX. The TTL bounds how long a
// crashed holder can block others; a live holder renews its lease every
// third of the TTL until Release.
type RedisLocker struct {
	client *goredis.Client
	ttl    time.Duration
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRedisLocker(client *goredis.Client, ttl time.Duration) (*RedisLocker, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}

	return &RedisLocker{
		client: client,
		ttl:    ttl,
		sleep:  sleepWithContext,
	}, nil
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (lock.Lease, error) {
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("lock key is required")
	}

	token := uuid.NewString()
	backoff := lockRetryStep
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %s: %v", lock.ErrNotAcquired, key, ctx.Err())
			}
			return nil, fmt.Errorf("failed to acquire lock %q: %w", key, err)
		}
		if ok {
			return l.hold(key, token), nil
		}

		if err := l.sleep(ctx, backoff); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", lock.ErrNotAcquired, key, err)
		}

		backoff += lockRetryStep
		if backoff > lockRetryMax {
			backoff = lockRetryMax
		}
	}
}

func (l *RedisLocker) hold(key, token string) *redisLease {
	ctx, cancel := context.WithCancel(context.Background())
	lease := &redisLease{
		client: l.client,
		key:    key,
		token:  token,
		stop:   cancel,
		done:   make(chan struct{}),
	}
	go lease.renew(ctx, l.ttl)
	return lease
}

type redisLease struct {
	client *goredis.Client
	key    string
	token  string

	stop     context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}
}

// renew keeps the key alive until the lease is released or another holder
// owns the key.
func (l *redisLease) renew(ctx context.Context, ttl time.Duration) {
	defer close(l.done)

	interval := ttl / 3
	if interval <= 0 {
		interval = ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			callCtx, cancel := context.WithTimeout(ctx, interval)
			renewed, err := renewScript.Run(callCtx, l.client, []string{l.key}, l.token, ttl.Milliseconds()).Int()
			cancel()
			if err == nil && renewed == 0 {
				return
			}
		}
	}
}

// Release deletes the key only while it still holds this lease's token.
func (l *redisLease) Release(ctx context.Context) error {
	l.stopOnce.Do(l.stop)
	<-l.done

	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("failed to release lock %q: %w", l.key, err)
	}
	return nil
}
