// Package lock provides a Redis-backed named lock that wraps a function call:
// acquire with a bounded wait, run, release in a deferred block. The lease is
// independent of the caller's context so a stuck holder cannot pin the key.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ErrNotAcquired is returned when the lock could not be taken within the wait time.
var ErrNotAcquired = errors.New("lock not acquired")

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Locker acquires named locks in Redis.
type Locker struct {
	rdb       redis.UniversalClient
	wait      time.Duration
	lease     time.Duration
	retryStep time.Duration
}

// Option configures a Locker.
type Option func(*Locker)

// WithWait sets how long WithLock keeps trying before giving up. Zero means a single attempt.
func WithWait(d time.Duration) Option {
	return func(l *Locker) { l.wait = d }
}

// WithLease sets how long an acquired lock lives if it is never released.
func WithLease(d time.Duration) Option {
	return func(l *Locker) { l.lease = d }
}

// WithRetryStep sets the polling interval while waiting.
func WithRetryStep(d time.Duration) Option {
	return func(l *Locker) { l.retryStep = d }
}

// NewLocker creates a Locker with a 10s wait and 30s lease unless overridden.
func NewLocker(rdb redis.UniversalClient, opts ...Option) *Locker {
	l := &Locker{
		rdb:       rdb,
		wait:      10 * time.Second,
		lease:     30 * time.Second,
		retryStep: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// WithLock runs fn while holding key. The lock is released after fn returns,
// even if ctx was cancelled in the meantime.
func (l *Locker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}
	log.Debug().Str("lock_key", key).Dur("lease", l.lease).Msg("lock acquired")

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := l.release(releaseCtx, key, token); err != nil {
			log.Warn().Err(err).Str("lock_key", key).Msg("lock release failed, lease will expire")
			return
		}
		log.Debug().Str("lock_key", key).Msg("lock released")
	}()

	return fn(ctx)
}

func (l *Locker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.lease).Result()
		if err != nil {
			return fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("acquire lock %s after %s: %w", key, l.wait, ErrNotAcquired)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retryStep):
		}
	}
}

func (l *Locker) release(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, l.rdb, []string{key}, token).Err()
}
