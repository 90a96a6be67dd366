package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ai-orchestrator/internal/discovery"
	"ai-orchestrator/internal/dispatch"
	"ai-orchestrator/internal/domain"
)

// BrokerPing is the result of a successful broker ping.
type BrokerPing struct {
	// Workers maps each consumed queue to the IDs of its live workers.
	Workers map[string][]string `json:"workers"`
}

// TaskService exposes task status and the broker diagnostics.
type TaskService struct {
	tasks    TaskSubmitter
	statuses StatusResolver
	broker   domain.Broker
	workers  domain.WorkerDirectory
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewTaskService creates a TaskService.
func NewTaskService(tasks TaskSubmitter, statuses StatusResolver, broker domain.Broker, workers domain.WorkerDirectory, logger *slog.Logger) *TaskService {
	return &TaskService{
		tasks:    tasks,
		statuses: statuses,
		broker:   broker,
		workers:  workers,
		logger:   logger.With("component", "task-service"),
		tracer:   otel.Tracer("ai-orchestrator-usecase"),
	}
}

// Status reports the current state of taskID.
func (s *TaskService) Status(ctx context.Context, taskID string) (domain.TaskStatus, error) {
	ctx, span := s.tracer.Start(ctx, "service.Status", trace.WithAttributes(attribute.String("task.id", taskID)))
	defer span.End()

	status, err := s.statuses.Resolve(ctx, taskID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve task status")
		return domain.TaskStatus{}, err
	}
	return status, nil
}

// SendSimpleTask queues the worker smoke test without waiting for it.
func (s *TaskService) SendSimpleTask(ctx context.Context) domain.Envelope {
	ctx, span := s.tracer.Start(ctx, "service.SendSimpleTask")
	defer span.End()

	return dispatch.Wrap(ctx, func(ctx context.Context) (any, error) {
		taskID, err := s.tasks.Submit(ctx, domain.TaskSimpleTest, nil, nil, "")
		if err != nil {
			return nil, err
		}
		return map[string]string{
			"message": fmt.Sprintf("Simple task sent with ID: %s", taskID),
			"task_id": taskID,
		}, nil
	})
}

// PingBroker checks broker connectivity and lists the live workers.
func (s *TaskService) PingBroker(ctx context.Context) domain.Envelope {
	ctx, span := s.tracer.Start(ctx, "service.PingBroker")
	defer span.End()

	env := dispatch.Wrap(ctx, func(ctx context.Context) (any, error) {
		if err := s.broker.Ping(ctx); err != nil {
			if domain.IsKind(err, domain.KindBrokerUnavailable) {
				return nil, err
			}
			return nil, domain.BrokerUnavailable("service.PingBroker", err)
		}
		var workers []domain.WorkerInfo
		if s.workers != nil {
			workers = s.workers.Workers()
		}
		return BrokerPing{Workers: discovery.ByQueue(workers)}, nil
	})
	if !env.Succeeded() {
		span.SetStatus(codes.Error, env.Error)
		s.logger.Warn("broker ping failed", "error", env.Error)
	}
	return env
}
