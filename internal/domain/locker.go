package domain

import (
	"context"
	"errors"
)

// ErrLockNotAcquired is returned when the run lock is already held by
// another dispatch.
var ErrLockNotAcquired = errors.New("lock not acquired")

// Lock represents an acquired run lock.
type Lock interface {
	// Unlock releases the lock.
	Unlock(ctx context.Context) error
}

// Locker serializes update runs. Lock must be non-blocking: if the lock is
// already held it returns ErrLockNotAcquired and the dispatch is skipped
// rather than queued, so concurrent dispatches can never race on the push
// step.
type Locker interface {
	Lock(ctx context.Context, name string) (Lock, error)
}
