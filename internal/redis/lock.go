package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/clinicflow/clinic-backend/internal/lock"
)

type redisResourceLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisResourceLocker creates a locker that uses one Redis key per
// resource. The token guards against releasing a lock that expired and
// was re-acquired by another caller.
func NewRedisResourceLocker(client *redis.Client, ttl time.Duration) lock.Locker {
	return &redisResourceLocker{
		client: client,
		ttl:    ttl,
	}
}

func (l *redisResourceLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	redisKey := fmt.Sprintf("lock:%s", key)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire resource lock: %w", err)
	}
	if !ok {
		return lock.ErrNotAcquired
	}

	defer func() {
		_ = l.release(ctx, redisKey, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisResourceLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release resource lock: %w", err)
	}
	return nil
}
