package booking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"campusbook/internal/metrics"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "campusbook:lock:facility:"

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker shared by every process using the same redis.
// Locks expire after ttl so a crashed holder cannot block a facility forever.
type RedisLocker struct {
	client   redis.UniversalClient
	ttl      time.Duration
	maxWait  time.Duration
	minDelay time.Duration
	maxDelay time.Duration
}

func NewRedisLocker(client redis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &RedisLocker{
		client:   client,
		ttl:      ttl,
		maxWait:  2 * ttl,
		minDelay: 2 * time.Millisecond,
		maxDelay: 50 * time.Millisecond,
	}
}

// Lock spins with capped exponential backoff until the key is free, ctx is done
// or maxWait passes. Redis failures are returned as-is so callers can fail over.
func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	start := time.Now()
	redisKey := lockKeyPrefix + key
	token := uuid.NewString()
	delay := r.minDelay

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			break
		}
		if time.Since(start) >= r.maxWait {
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		delay *= 2
		if delay > r.maxDelay {
			delay = r.maxDelay
		}
	}
	metrics.ObserveLockWait("redis", time.Since(start))

	var once sync.Once
	return func() {
		once.Do(func() {
			// Released on a fresh context: the caller's may already be cancelled.
			releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = releaseScript.Run(releaseCtx, r.client, []string{redisKey}, token).Err()
		})
	}, nil
}

// Ping checks redis connectivity.
func (r *RedisLocker) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
