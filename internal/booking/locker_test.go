package booking

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// assertMutualExclusion runs workers that each hold the lock briefly and
// fails if two of them are ever inside the critical section together.
func assertMutualExclusion(t *testing.T, locker Locker, key string, workers int) {
	t.Helper()
	var (
		inside   atomic.Int32
		violated atomic.Bool
		wg       sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(context.Background(), key)
			if !assert.NoError(t, err) {
				return
			}
			if inside.Add(1) > 1 {
				violated.Store(true)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	assert.False(t, violated.Load(), "two holders inside the critical section")
}

func TestKeyedMutex_MutualExclusion(t *testing.T) {
	km := NewKeyedMutex()
	assertMutualExclusion(t, km, "hall", 20)
	assert.Equal(t, 0, km.size())
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	km := NewKeyedMutex()
	unlockA, err := km.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := km.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()
}

func TestKeyedMutex_ContextCancel(t *testing.T) {
	km := NewKeyedMutex()
	unlock, err := km.Lock(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = km.Lock(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock() // second call is a no-op
	assert.Equal(t, 0, km.size())
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisLocker_MutualExclusion(t *testing.T) {
	_, client := setupRedis(t)
	locker := NewRedisLocker(client, 5*time.Second)
	assertMutualExclusion(t, locker, "hall", 10)
}

func TestRedisLocker_ReleaseChecksToken(t *testing.T) {
	mr, client := setupRedis(t)
	locker := NewRedisLocker(client, time.Second)
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "hall")
	require.NoError(t, err)
	assert.True(t, mr.Exists(lockKeyPrefix+"hall"))

	// The lease expires and another holder takes the key.
	mr.FastForward(2 * time.Second)
	unlock2, err := locker.Lock(ctx, "hall")
	require.NoError(t, err)
	holder, err := mr.Get(lockKeyPrefix + "hall")
	require.NoError(t, err)

	// The stale holder must not release the new lease.
	unlock()
	current, err := mr.Get(lockKeyPrefix + "hall")
	require.NoError(t, err)
	assert.Equal(t, holder, current)

	unlock2()
	assert.False(t, mr.Exists(lockKeyPrefix+"hall"))
}

func TestRedisLocker_Timeout(t *testing.T) {
	_, client := setupRedis(t)
	locker := NewRedisLocker(client, time.Second)
	locker.maxWait = 20 * time.Millisecond

	unlock, err := locker.Lock(context.Background(), "hall")
	require.NoError(t, err)
	defer unlock()

	_, err = locker.Lock(context.Background(), "hall")
	assert.ErrorIs(t, err, ErrLockTimeout)
}

func TestRedisLocker_Unavailable(t *testing.T) {
	mr, client := setupRedis(t)
	locker := NewRedisLocker(client, time.Second)
	mr.Close()

	_, err := locker.Lock(context.Background(), "hall")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrLockTimeout))
	assert.Error(t, locker.Ping(context.Background()))
}

type mockLocker struct {
	mock.Mock
}

func (m *mockLocker) Lock(ctx context.Context, key string) (func(), error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(func()), args.Error(1)
}

func TestFailoverLocker(t *testing.T) {
	primary := new(mockLocker)
	fallback := new(mockLocker)
	logger := zerolog.New(io.Discard)
	locker := NewFailoverLocker(primary, fallback, &logger)
	ctx := context.Background()
	noop := func() {}

	t.Run("PrimarySuccess", func(t *testing.T) {
		primary.On("Lock", ctx, "f-1").Return(noop, nil).Once()

		unlock, err := locker.Lock(ctx, "f-1")
		assert.NoError(t, err)
		assert.NotNil(t, unlock)
		primary.AssertExpectations(t)
	})

	t.Run("PrimaryFailFallbackSuccess", func(t *testing.T) {
		primary.On("Lock", ctx, "f-2").Return(nil, errors.New("connection refused")).Once()
		fallback.On("Lock", ctx, "f-2").Return(noop, nil).Once()

		_, err := locker.Lock(ctx, "f-2")
		assert.NoError(t, err)
		assert.True(t, locker.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("StaysOnFallbackWhileDown", func(t *testing.T) {
		fallback.On("Lock", ctx, "f-3").Return(noop, nil).Once()

		_, err := locker.Lock(ctx, "f-3")
		assert.NoError(t, err)
		primary.AssertNotCalled(t, "Lock", ctx, "f-3")
		fallback.AssertExpectations(t)
	})

	t.Run("RecoveryAttempt", func(t *testing.T) {
		locker.isDown.Store(true)
		locker.lastCheck = time.Now().Add(-2 * time.Minute)
		primary.On("Lock", ctx, "f-4").Return(noop, nil).Once()

		_, err := locker.Lock(ctx, "f-4")
		assert.NoError(t, err)
		assert.False(t, locker.isDown.Load())
		primary.AssertExpectations(t)
	})

	t.Run("ContentionIsNotAnOutage", func(t *testing.T) {
		primary.On("Lock", ctx, "f-5").Return(nil, ErrLockTimeout).Once()

		_, err := locker.Lock(ctx, "f-5")
		assert.ErrorIs(t, err, ErrLockTimeout)
		assert.False(t, locker.isDown.Load())
		fallback.AssertNotCalled(t, "Lock", ctx, "f-5")
	})
}

func TestFailoverLocker_RedisOutage(t *testing.T) {
	mr, client := setupRedis(t)
	logger := zerolog.New(io.Discard)
	locker := NewFailoverLocker(NewRedisLocker(client, time.Second), NewKeyedMutex(), &logger)

	mr.Close()
	assertMutualExclusion(t, locker, "hall", 10)
	assert.True(t, locker.isDown.Load())
}
