// internal/dispatch/resolver.go
package dispatch

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ai-orchestrator/internal/domain"
	"ai-orchestrator/internal/metrics"
)

// Resolver maps a task ID to its externally visible state.
type Resolver struct {
	broker domain.Broker
	logger *slog.Logger
	tracer trace.Tracer
}

// NewResolver creates a resolver reading from broker's result backend.
func NewResolver(broker domain.Broker, logger *slog.Logger) *Resolver {
	return &Resolver{
		broker: broker,
		logger: logger.With("component", "status-resolver"),
		tracer: otel.Tracer("ai-orchestrator-dispatch"),
	}
}

// Resolve reads the current state of taskID from the broker on every call.
// An ID the broker has never seen is reported as PENDING, exactly like a
// queued or running task. A record that cannot be decoded is reported as a
// FAILURE of kind Unknown. Only a broker transport error is returned.
func (r *Resolver) Resolve(ctx context.Context, taskID string) (domain.TaskStatus, error) {
	ctx, span := r.tracer.Start(ctx, "dispatch.Resolver.Resolve")
	defer span.End()
	span.SetAttributes(attribute.String("task.id", taskID))

	status := domain.TaskStatus{TaskID: taskID, Status: domain.TaskStatePending}

	result, err := r.broker.Result(ctx, taskID)
	switch {
	case errors.Is(err, domain.ErrResultNotFound):
		// Not ready.
	case errors.Is(err, domain.ErrMalformedResult):
		span.RecordError(err)
		r.logger.Warn("unreadable task result", "task_id", taskID, "error", err)
		msg := err.Error()
		status.Status = domain.TaskStateFailure
		status.Error = &msg
		status.Kind = domain.KindUnknown
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read task result")
		r.logger.Error("failed to read task result", "task_id", taskID, "error", err)
		if domain.IsKind(err, domain.KindBrokerUnavailable) {
			return domain.TaskStatus{}, err
		}
		return domain.TaskStatus{}, domain.BrokerUnavailable("dispatch.Resolve", err)
	case result.Successful:
		status.Status = domain.TaskStateSuccess
		status.Result = result.Result
		if len(status.Result) == 0 {
			status.Result = []byte("null")
		}
	default:
		status.Status = domain.TaskStateFailure
		msg := result.Error
		if msg == "" {
			msg = "task failed"
		}
		status.Error = &msg
		status.Kind = result.ErrorKind
		if status.Kind == "" {
			status.Kind = domain.KindUnknown
		}
	}

	span.SetAttributes(attribute.String("task.status", string(status.Status)))
	metrics.StatusLookupsTotal.WithLabelValues(string(status.Status)).Inc()
	return status, nil
}
