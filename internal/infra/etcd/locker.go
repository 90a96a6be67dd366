// internal/infra/etcd/locker.go
package etcd

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"ai-orchestrator/internal/domain"
)

const (
	locksDir = "locks"
	// LockSessionTTL is the lease TTL of a lock session, in seconds. A crashed
	// worker releases its locks once the lease expires.
	LockSessionTTL = 10
	// lockAttempt bounds the time TryLock may wait on etcd.
	lockAttempt = 500 * time.Millisecond
)

type etcdLock struct {
	mutex   *concurrency.Mutex
	session *concurrency.Session
	name    string
}

// Unlock releases the mutex and closes its session, revoking the lease.
func (l *etcdLock) Unlock(ctx context.Context) error {
	defer func() {
		_ = l.session.Close()
	}()

	if err := l.mutex.Unlock(ctx); err != nil {
		return fmt.Errorf("failed to unlock %s: %w", l.name, err)
	}
	return nil
}

type etcdLocker struct {
	client *clientv3.Client
	prefix string
}

// NewEtcdLocker creates a locker whose keys live under prefix.
func NewEtcdLocker(client *clientv3.Client, prefix string) domain.Locker {
	return &etcdLocker{client: client, prefix: prefix}
}

// Lock tries once to take the lock. Every attempt uses its own session.
func (l *etcdLocker) Lock(ctx context.Context, name string) (domain.Lock, error) {
	session, err := concurrency.NewSession(l.client, concurrency.WithTTL(LockSessionTTL))
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd session for lock %s: %w", name, err)
	}

	mutex := concurrency.NewMutex(session, path.Join(l.prefix, locksDir, name))

	tryCtx, cancel := context.WithTimeout(ctx, lockAttempt)
	defer cancel()

	if err := mutex.TryLock(tryCtx); err != nil {
		_ = session.Close()
		if errors.Is(err, concurrency.ErrLocked) || errors.Is(err, context.DeadlineExceeded) {
			return nil, domain.ErrLockNotAcquired
		}
		return nil, fmt.Errorf("failed to try acquiring etcd lock %s: %w", name, err)
	}

	return &etcdLock{
		mutex:   mutex,
		session: session,
		name:    name,
	}, nil
}
