// Package dispatchtest holds helpers for tests and diagnostics that need to
// wait for a task to finish. Production request paths never block on a task.
package dispatchtest

import (
	"context"
	"fmt"
	"time"

	"ai-orchestrator/internal/domain"
)

// StatusResolver is the part of dispatch.Resolver Await needs.
type StatusResolver interface {
	Resolve(ctx context.Context, taskID string) (domain.TaskStatus, error)
}

// Await polls resolver every interval until taskID leaves PENDING or ctx is
// done. A task that never completes is indistinguishable from an unknown ID,
// so callers must always bound ctx.
func Await(ctx context.Context, resolver StatusResolver, taskID string, interval time.Duration) (domain.TaskStatus, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := resolver.Resolve(ctx, taskID)
		if err != nil {
			return domain.TaskStatus{}, err
		}
		if status.Status != domain.TaskStatePending {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return status, fmt.Errorf("task %s still pending: %w", taskID, ctx.Err())
		case <-ticker.C:
		}
	}
}
