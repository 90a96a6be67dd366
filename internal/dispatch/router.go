// internal/dispatch/router.go
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ai-orchestrator/internal/domain"
	"ai-orchestrator/internal/metrics"
)

// Routes maps task names to queues. It is static configuration: a task is
// always consumed by the workers of one queue.
type Routes struct {
	byTask       map[string]string
	defaultQueue string
}

// NewRoutes copies routes so later changes to the map have no effect.
func NewRoutes(routes map[string]string, defaultQueue string) Routes {
	byTask := make(map[string]string, len(routes))
	for name, queue := range routes {
		byTask[name] = queue
	}
	return Routes{byTask: byTask, defaultQueue: defaultQueue}
}

// QueueFor returns the queue a task is routed to.
func (r Routes) QueueFor(taskName string) string {
	if q, ok := r.byTask[taskName]; ok && q != "" {
		return q
	}
	return r.defaultQueue
}

// Router enqueues named tasks on the broker and hands back their IDs.
type Router struct {
	broker domain.Broker
	routes Routes
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewRouter creates a router publishing through broker.
func NewRouter(broker domain.Broker, routes Routes, logger *slog.Logger) *Router {
	return &Router{
		broker: broker,
		routes: routes,
		logger: logger.With("component", "task-router"),
		tracer: otel.Tracer("ai-orchestrator-dispatch"),
		now:    time.Now,
	}
}

// Submit publishes one message for taskName and returns its new task ID.
// The task name is not checked against any registry: an unknown name is
// accepted and fails later on the worker. When queue is empty the static
// route of the task is used. A failed publish is not retried.
func (r *Router) Submit(ctx context.Context, taskName string, args []any, kwargs map[string]any, queue string) (string, error) {
	ctx, span := r.tracer.Start(ctx, "dispatch.Router.Submit")
	defer span.End()

	if queue == "" {
		queue = r.routes.QueueFor(taskName)
	}
	if args == nil {
		args = []any{}
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}

	msg := &domain.TaskMessage{
		ID:          uuid.NewString(),
		TaskName:    taskName,
		Args:        args,
		Kwargs:      kwargs,
		Queue:       queue,
		SubmittedAt: r.now().UTC(),
	}
	span.SetAttributes(
		attribute.String("task.id", msg.ID),
		attribute.String("task.name", taskName),
		attribute.String("task.queue", queue),
	)

	if err := msg.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid task message")
		return "", domain.ValidationFailure("dispatch.Submit", err.Error(), "")
	}

	if err := r.broker.Publish(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish task")
		metrics.TasksSubmittedTotal.WithLabelValues(taskName, queue, "broker_unavailable").Inc()
		r.logger.Error("failed to publish task", "task_name", taskName, "queue", queue, "error", err)
		if domain.IsKind(err, domain.KindBrokerUnavailable) {
			return "", err
		}
		return "", domain.BrokerUnavailable("dispatch.Submit", err)
	}

	metrics.TasksSubmittedTotal.WithLabelValues(taskName, queue, "ok").Inc()
	r.logger.Info("task submitted", "task_id", msg.ID, "task_name", taskName, "queue", queue)
	return msg.ID, nil
}
