package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLocker(t *testing.T, opts ...Option) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewLocker(rdb, opts...), mr
}

func TestWithLock_RunsAndReleases(t *testing.T) {
	locker, mr := setupLocker(t, WithLease(time.Minute))

	called := false
	err := locker.WithLock(context.Background(), "coupon:issue:1:2", func(ctx context.Context) error {
		called = true
		assert.True(t, mr.Exists("coupon:issue:1:2"), "key should be held while fn runs")
		assert.Equal(t, time.Minute, mr.TTL("coupon:issue:1:2"))
		return nil
	})

	require.NoError(t, err)
	assert.True(t, called)
	assert.False(t, mr.Exists("coupon:issue:1:2"), "key should be released")
}

func TestWithLock_ReleasesOnError(t *testing.T) {
	locker, mr := setupLocker(t)
	fnErr := errors.New("boom")

	err := locker.WithLock(context.Background(), "k", func(ctx context.Context) error {
		return fnErr
	})

	assert.ErrorIs(t, err, fnErr)
	assert.False(t, mr.Exists("k"))
}

func TestWithLock_NotAcquiredWhenHeld(t *testing.T) {
	locker, mr := setupLocker(t, WithWait(100*time.Millisecond), WithRetryStep(10*time.Millisecond))
	require.NoError(t, mr.Set("k", "someone-else"))

	called := false
	err := locker.WithLock(context.Background(), "k", func(ctx context.Context) error {
		called = true
		return nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotAcquired)
	assert.False(t, called)

	v, _ := mr.Get("k")
	assert.Equal(t, "someone-else", v, "foreign lock must not be released")
}

func TestWithLock_ContextCancelledWhileWaiting(t *testing.T) {
	locker, mr := setupLocker(t, WithWait(time.Minute), WithRetryStep(10*time.Millisecond))
	require.NoError(t, mr.Set("k", "someone-else"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := locker.WithLock(ctx, "k", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithLock_SerializesHolders(t *testing.T) {
	locker, _ := setupLocker(t, WithWait(5*time.Second), WithRetryStep(time.Millisecond))

	var (
		inside  int32
		maxSeen int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithLock(context.Background(), "shared", func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				if n > atomic.LoadInt32(&maxSeen) {
					atomic.StoreInt32(&maxSeen, n)
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxSeen))
}
