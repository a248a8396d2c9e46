package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Redis holds keys as redislock leases so replicas sharing one Redis exclude
// each other. The lease TTL must outlive the longest unit of work.
type Redis struct {
	client *redislock.Client
	prefix string
	ttl    time.Duration
	retry  time.Duration
	logger *logrus.Logger
}

func NewRedis(rdb redis.UniversalClient, ttl time.Duration, logger *logrus.Logger) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Redis{
		client: redislock.New(rdb),
		prefix: "apotek:lock:",
		ttl:    ttl,
		retry:  50 * time.Millisecond,
		logger: logger,
	}
}

// Acquire retries with a linear backoff until the lease is obtained or ctx
// is done.
func (r *Redis) Acquire(ctx context.Context, key string) (Release, error) {
	lease, err := r.client.Obtain(ctx, r.prefix+key, r.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(r.retry),
	})
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, err)
		}
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := lease.Release(releaseCtx); err != nil {
				r.logger.WithFields(logrus.Fields{
					"module": "lock",
					"action": "release",
					"key":    key,
				}).WithError(err).Warn("redis lock release failed; lease will expire")
			}
		})
	}, nil
}
