// internal/worker/consumer.go
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ai-orchestrator/internal/domain"
	"ai-orchestrator/internal/metrics"
)

// ErrNoHandler is the failure recorded for task names no handler serves.
var ErrNoHandler = errors.New("no handler registered for task")

// ConsumerConfig tunes queue consumption.
type ConsumerConfig struct {
	WorkerID     string
	Queues       []string
	Concurrency  int
	PollInterval time.Duration
	TaskTimeout  time.Duration
	// MaxBackoff caps the wait between attempts while the broker is down.
	MaxBackoff time.Duration
}

// Consumer claims messages from its queues and runs them. Each queue gets
// Concurrency slots and every slot runs one task at a time.
type Consumer struct {
	broker   domain.Consumer
	handlers *Handlers
	cfg      ConsumerConfig
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewConsumer creates a consumer.
func NewConsumer(broker domain.Consumer, handlers *Handlers, cfg ConsumerConfig, logger *slog.Logger) *Consumer {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &Consumer{
		broker:   broker,
		handlers: handlers,
		cfg:      cfg,
		logger:   logger.With("component", "task-consumer", "worker_id", cfg.WorkerID),
		tracer:   otel.Tracer("ai-orchestrator-worker"),
	}
}

// Run consumes until ctx is canceled, then waits for running tasks.
func (c *Consumer) Run(ctx context.Context) error {
	p := pool.New().WithContext(ctx).WithMaxGoroutines(len(c.cfg.Queues) * c.cfg.Concurrency)
	for _, queue := range c.cfg.Queues {
		for slot := 0; slot < c.cfg.Concurrency; slot++ {
			queue, slot := queue, slot
			p.Go(func(ctx context.Context) error {
				c.slot(ctx, queue, slot)
				return nil
			})
		}
	}
	c.logger.Info("consumer started", "queues", c.cfg.Queues, "concurrency", c.cfg.Concurrency)
	err := p.Wait()
	c.logger.Info("consumer stopped")
	return err
}

func (c *Consumer) slot(ctx context.Context, queue string, slot int) {
	logger := c.logger.With("queue", queue, "slot", slot)
	notify := c.broker.Notify(ctx, queue)
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for ctx.Err() == nil {
		msg, err := c.claim(ctx, queue, logger)
		if err != nil {
			// Only ctx cancellation ends the retry loop.
			return
		}
		if msg == nil {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-notify:
				if !ok {
					notify = nil
				}
			case <-ticker.C:
			}
			continue
		}
		c.Process(ctx, msg)
	}
}

// claim returns the next message, nil when the queue is empty. Broker errors
// are retried with exponential backoff until ctx is done.
func (c *Consumer) claim(ctx context.Context, queue string, logger *slog.Logger) (*domain.TaskMessage, error) {
	var msg *domain.TaskMessage
	op := func() error {
		m, err := c.broker.Claim(ctx, queue)
		if errors.Is(err, domain.ErrQueueEmpty) {
			msg = nil
			return nil
		}
		if err != nil {
			return err
		}
		msg = m
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("failed to claim task, retrying", "error", err, "retry_in", wait)
	}
	if err := backoff.RetryNotify(op, c.newBackOff(ctx), notify); err != nil {
		return nil, err
	}
	return msg, nil
}

func (c *Consumer) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = c.cfg.MaxBackoff
	b.MaxElapsedTime = 0 // retry until ctx is done
	return backoff.WithContext(b, ctx)
}

// Process runs msg through its handler and stores the result. It never
// returns an error: every outcome becomes a result record.
func (c *Consumer) Process(ctx context.Context, msg *domain.TaskMessage) *domain.TaskResult {
	ctx, span := c.tracer.Start(ctx, "worker.Process",
		trace.WithAttributes(
			attribute.String("task.id", msg.ID),
			attribute.String("task.name", msg.TaskName),
			attribute.String("task.queue", msg.Queue),
		))
	defer span.End()

	logger := c.logger.With("task_id", msg.ID, "task_name", msg.TaskName, "queue", msg.Queue)
	logger.Info("task received")

	metrics.WorkerBusySlots.WithLabelValues(msg.Queue).Inc()
	defer metrics.WorkerBusySlots.WithLabelValues(msg.Queue).Dec()

	result := &domain.TaskResult{
		TaskID:    msg.ID,
		TaskName:  msg.TaskName,
		WorkerID:  c.cfg.WorkerID,
		StartedAt: time.Now().UTC(),
	}

	value, execErr := c.execute(ctx, msg)
	result.CompletedAt = time.Now().UTC()
	metrics.TaskExecutionDuration.WithLabelValues(msg.TaskName).Observe(result.CompletedAt.Sub(result.StartedAt).Seconds())

	if execErr == nil {
		raw, err := json.Marshal(value)
		if err != nil {
			execErr = domain.ValidationFailure("worker.Process", "task result is not JSON serializable", fmt.Sprint(value))
		} else {
			result.Successful = true
			result.Result = raw
		}
	}

	if execErr != nil {
		result.Successful = false
		result.Error = execErr.Error()
		if result.Error == "" {
			result.Error = "task failed"
		}
		result.ErrorKind = domain.KindOf(execErr)
		metrics.TaskExecutionsTotal.WithLabelValues(msg.TaskName, string(domain.TaskStateFailure)).Inc()
		span.RecordError(execErr)
		span.SetStatus(codes.Error, "task failed")
		logger.Error("task failed", "error", execErr, "kind", result.ErrorKind)
	} else {
		metrics.TaskExecutionsTotal.WithLabelValues(msg.TaskName, string(domain.TaskStateSuccess)).Inc()
		span.SetStatus(codes.Ok, "task succeeded")
		logger.Info("task succeeded", "duration", result.CompletedAt.Sub(result.StartedAt))
	}

	// The result must not be lost: retry while the broker is down, even
	// past cancellation of the consume loop, for a bounded time.
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
	defer cancel()
	store := func() error { return c.broker.StoreResult(storeCtx, result) }
	onRetry := func(err error, wait time.Duration) {
		logger.Warn("failed to store task result, retrying", "error", err, "retry_in", wait)
	}
	if err := backoff.RetryNotify(store, c.newBackOff(storeCtx), onRetry); err != nil {
		span.RecordError(err)
		logger.Error("failed to store task result", "error", err)
	}
	return result
}

func (c *Consumer) execute(ctx context.Context, msg *domain.TaskMessage) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = &domain.Error{Kind: domain.KindUnknown, Op: msg.TaskName, Message: fmt.Sprintf("panic: %v", r)}
		}
	}()

	handler, ok := c.handlers.Lookup(msg.TaskName)
	if !ok {
		return nil, &domain.Error{Kind: domain.KindUnknown, Op: msg.TaskName, Err: ErrNoHandler}
	}

	if c.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.TaskTimeout)
		defer cancel()
	}
	return handler(ctx, msg)
}
