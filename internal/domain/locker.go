// internal/domain/locker.go
package domain

import (
	"context"
	"errors"
)

// ErrLockNotAcquired is returned when another worker already holds the lock
// of an exclusive task.
var ErrLockNotAcquired = errors.New("lock not acquired")

// Lock is a held task lock.
type Lock interface {
	Unlock(ctx context.Context) error
}

// Locker serializes executions of exclusive tasks across workers.
type Locker interface {
	// Lock tries to take the lock for name without waiting. If the lock is
	// held elsewhere it returns ErrLockNotAcquired.
	Lock(ctx context.Context, name string) (Lock, error)
}
