package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrNotAcquired = errors.New("resource lock not acquired")

// Locker guards a critical section keyed by a resource id, e.g.
// "timeslot:<uuid>" or "stock:<medicine-uuid>". Implementations must
// guarantee that at most one caller runs fn for the same key at a time.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// WithRetry runs fn under the lock, retrying a bounded number of times
// with exponential backoff when the lock is held by someone else. Any
// error other than ErrNotAcquired is returned as-is; exhausting the
// attempts returns ErrNotAcquired so callers can surface a conflict.
func WithRetry(ctx context.Context, l Locker, key string, attempts int, backoff time.Duration, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		err = l.WithLock(ctx, key, fn)
		if !errors.Is(err, ErrNotAcquired) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

// LocalLocker serializes critical sections with in-process mutexes, one
// per resource key. Suitable for single-node deployments and tests; a
// multi-node deployment uses the redis-backed locker instead.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *LocalLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	return fn(ctx)
}
