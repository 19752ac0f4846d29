package redislock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockBusy means the lock was not acquired within the wait window. Callers
// treat it as a transient busy signal, not a hard failure.
var ErrLockBusy = errors.New("lock busy")

// releaseScript deletes the lock only if this holder still owns it, so a
// lease that expired mid-body never releases a successor's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is an exclusive-lease lock on Redis keys. The lease auto-expires, so
// a crashed holder cannot starve a key permanently; lease duration must
// exceed the expected body time with margin.
type Locker struct {
	log   *slog.Logger
	rdb   *redis.Client
	retry time.Duration
}

func New(log *slog.Logger, rdb *redis.Client) *Locker {
	return &Locker{log: log, rdb: rdb, retry: 50 * time.Millisecond}
}

// WithLock acquires key within wait, runs fn, and releases the lock
// unconditionally on exit. wait <= 0 means a single acquisition attempt.
func (l *Locker) WithLock(ctx context.Context, key string, wait, lease time.Duration, fn func(ctx context.Context) error) error {
	owner := uuid.NewString()
	deadline := time.Now().Add(wait)

	for {
		ok, err := l.rdb.SetNX(ctx, key, owner, lease).Result()
		if err != nil {
			return fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		if wait <= 0 || !time.Now().Add(l.retry).Before(deadline) {
			return ErrLockBusy
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retry):
		}
	}

	defer l.release(ctx, key, owner)
	return fn(ctx)
}

func (l *Locker) release(ctx context.Context, key, owner string) {
	// Release must run even when the body failed because ctx was cancelled.
	ctx = context.WithoutCancel(ctx)
	res, err := releaseScript.Run(ctx, l.rdb, []string{key}, owner).Int64()
	if err != nil {
		l.log.Error("lock release failed", "key", key, "err", err)
		return
	}
	if res == 0 {
		l.log.Warn("lock not held at release, lease likely expired", "key", key)
	}
}
