package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/warp/hoursbank/generic"
)

// =============================================================================
// REDIS - Lock shared by every replica
// =============================================================================

type RedisOptions struct {
	// TTL bounds how long a crashed holder can block a key.
	TTL time.Duration

	// Retries and Backoff control how long Lock waits for a held key.
	Retries int
	Backoff time.Duration

	// Prefix is prepended to every key.
	Prefix string
}

func DefaultRedisOptions() RedisOptions {
	return RedisOptions{TTL: 30 * time.Second, Retries: 50, Backoff: 100 * time.Millisecond, Prefix: "lock:"}
}

type Redis struct {
	locker *redislock.Client
	opts   RedisOptions
	logger logrus.FieldLogger
}

func NewRedis(client redis.UniversalClient, opts RedisOptions, logger logrus.FieldLogger) *Redis {
	if opts.TTL <= 0 {
		opts.TTL = DefaultRedisOptions().TTL
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Redis{locker: redislock.New(client), opts: opts, logger: logger}
}

// Connect parses a redis URL and pings it before building the lock.
func Connect(ctx context.Context, url string, opts RedisOptions, logger logrus.FieldLogger) (*Redis, *redis.Client, error) {
	parsed, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(parsed)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedis(client, opts, logger), client, nil
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	strategy := redislock.NoRetry()
	if r.opts.Retries > 0 {
		strategy = redislock.LimitRetry(redislock.LinearBackoff(r.opts.Backoff), r.opts.Retries)
	}
	return r.obtain(ctx, key, strategy)
}

func (r *Redis) TryLock(ctx context.Context, key string) (func(), error) {
	return r.obtain(ctx, key, redislock.NoRetry())
}

func (r *Redis) obtain(ctx context.Context, key string, strategy redislock.RetryStrategy) (func(), error) {
	fullKey := r.opts.Prefix + key
	l, err := r.locker.Obtain(ctx, fullKey, r.opts.TTL, &redislock.Options{RetryStrategy: strategy})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: could not obtain %s", generic.ErrConcurrentModification, fullKey)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to obtain redis lock %s: %w", fullKey, err)
	}
	return func() {
		// The caller's ctx may already be cancelled; release regardless.
		if err := l.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			r.logger.WithFields(logrus.Fields{"key": fullKey}).Warn("failed to release redis lock: " + err.Error())
		}
	}, nil
}
