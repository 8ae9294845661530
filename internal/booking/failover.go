package booking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"campusbook/internal/metrics"
	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverLocker uses the primary Locker and switches to the fallback when the
// primary is unreachable. While down, the primary is retried once per minute.
type FailoverLocker struct {
	primary  Locker
	fallback Locker
	logger   *zerolog.Logger

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverLocker(primary, fallback Locker, logger *zerolog.Logger) *FailoverLocker {
	return &FailoverLocker{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (f *FailoverLocker) Lock(ctx context.Context, key string) (func(), error) {
	if f.isDown.Load() && !f.shouldRetry() {
		metrics.IncLockFallback()
		return f.fallback.Lock(ctx, key)
	}

	unlock, err := f.primary.Lock(ctx, key)
	if err == nil {
		if f.isDown.CompareAndSwap(true, false) {
			f.logger.Info().Msg("Primary facility locker recovered")
		}
		return unlock, nil
	}

	// Contention and cancellation are not outages.
	if errors.Is(err, ErrLockTimeout) || ctx.Err() != nil {
		return nil, err
	}

	f.markDown(err)
	metrics.IncLockFallback()
	return f.fallback.Lock(ctx, key)
}

func (f *FailoverLocker) shouldRetry() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if time.Since(f.lastCheck) < recoveryInterval {
		return false
	}
	f.lastCheck = time.Now()
	return true
}

func (f *FailoverLocker) markDown(err error) {
	f.mu.Lock()
	f.lastCheck = time.Now()
	f.mu.Unlock()

	if !f.isDown.Swap(true) {
		f.logger.Warn().Err(err).Msg("Primary facility locker unavailable, using local fallback")
	}
}
