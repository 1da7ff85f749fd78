package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const unlockScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"

var ErrLockHeld = errors.New("lock is held by another owner")

// RedisLocker shares per-key locks between relay instances. A lock expires
// after TTL even when its holder dies; only the holder can release it.
type RedisLocker struct {
	client   redis.UniversalClient
	prefix   string
	ttl      time.Duration
	wait     time.Duration
	newValue func() string
	log      *logrus.Entry
}

func NewRedisLocker(client redis.UniversalClient, ttl, wait time.Duration, log *logrus.Logger) *RedisLocker {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RedisLocker{
		client:   client,
		prefix:   "smsrelay:lock:",
		ttl:      ttl,
		wait:     wait,
		newValue: uuid.NewString,
		log:      log.WithField("component", "redislock"),
	}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	k := l.prefix + key
	value := l.newValue()

	acquire := func() error {
		ok, err := l.client.SetNX(ctx, k, value, l.ttl).Result()
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return ErrLockHeld
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	b.MaxElapsedTime = l.wait
	if err := backoff.Retry(acquire, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		n, err := l.client.Eval(ctx, unlockScript, []string{k}, value).Int64()
		if err != nil {
			l.log.WithError(err).WithField("key", key).Warn("unlock failed")
			return
		}
		if n == 0 {
			l.log.WithField("key", key).Warn("lock expired before unlock")
		}
	}, nil
}
