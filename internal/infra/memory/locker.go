// internal/infra/memory/locker.go
package memory

import (
	"context"
	"sync"

	"ai-orchestrator/internal/domain"
)

// Locker is a process-local domain.Locker.
type Locker struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocker creates a Locker with no held locks.
func NewLocker() *Locker {
	return &Locker{held: make(map[string]bool)}
}

type lock struct {
	locker *Locker
	name   string
}

func (l *lock) Unlock(ctx context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	delete(l.locker.held, l.name)
	return nil
}

// Lock takes name if it is free.
func (l *Locker) Lock(ctx context.Context, name string) (domain.Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] {
		return nil, domain.ErrLockNotAcquired
	}
	l.held[name] = true
	return &lock{locker: l, name: name}, nil
}

// LeaderElection always wins immediately. It is used when a single process
// runs both the API and the worker.
type LeaderElection struct {
	mu       sync.Mutex
	isLeader bool
	lost     chan struct{}
}

// NewLeaderElection creates a single-node election.
func NewLeaderElection() *LeaderElection {
	return &LeaderElection{}
}

func (e *LeaderElection) Campaign(ctx context.Context) (<-chan struct{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.isLeader = true
	e.lost = make(chan struct{})
	return e.lost, nil
}

func (e *LeaderElection) Resign(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.isLeader && e.lost != nil {
		close(e.lost)
	}
	e.isLeader = false
	return nil
}

func (e *LeaderElection) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isLeader
}
