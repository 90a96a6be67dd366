package usecase

import (
	"context"

	"ai-orchestrator/internal/domain"
)

// TaskSubmitter enqueues tasks for the workers.
type TaskSubmitter interface {
	Submit(ctx context.Context, taskName string, args []any, kwargs map[string]any, queue string) (string, error)
}

// StatusResolver reads the state of a submitted task.
type StatusResolver interface {
	Resolve(ctx context.Context, taskID string) (domain.TaskStatus, error)
}
