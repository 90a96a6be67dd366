// internal/infra/etcd/broker.go
package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ai-orchestrator/internal/domain"
)

const (
	queuesDir  = "queues"
	resultsDir = "results"
	// claimBatch bounds how many of the oldest messages one Claim races for.
	claimBatch = 8
)

// Broker stores task messages and results in etcd.
//
// Layout under the prefix:
//
//	{prefix}/queues/{queue}/{task_id}  JSON TaskMessage, removed when claimed
//	{prefix}/results/{task_id}         JSON TaskResult, attached to a TTL lease
type Broker struct {
	client    *clientv3.Client
	prefix    string
	resultTTL time.Duration
	logger    *slog.Logger
	tracer    trace.Tracer
}

var (
	_ domain.Broker   = (*Broker)(nil)
	_ domain.Consumer = (*Broker)(nil)
)

// NewBroker creates an etcd-backed broker. A zero resultTTL keeps results forever.
func NewBroker(client *clientv3.Client, prefix string, resultTTL time.Duration, logger *slog.Logger) *Broker {
	return &Broker{
		client:    client,
		prefix:    prefix,
		resultTTL: resultTTL,
		logger:    logger.With("component", "etcd-broker"),
		tracer:    otel.Tracer("ai-orchestrator-etcd-broker"),
	}
}

func (b *Broker) queuePrefix(queue string) string {
	return path.Join(b.prefix, queuesDir, queue) + "/"
}

func (b *Broker) resultKey(taskID string) string {
	return path.Join(b.prefix, resultsDir, taskID)
}

// Publish writes msg under its queue. Each call creates a new key.
func (b *Broker) Publish(ctx context.Context, msg *domain.TaskMessage) error {
	ctx, span := b.tracer.Start(ctx, "broker.etcd.Publish")
	defer span.End()

	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid task message: %w", err)
	}
	msgJSON, err := json.Marshal(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal task message")
		return fmt.Errorf("failed to marshal task message %s to JSON: %w", msg.ID, err)
	}

	key := b.queuePrefix(msg.Queue) + msg.ID
	span.SetAttributes(
		attribute.String("task.id", msg.ID),
		attribute.String("task.queue", msg.Queue),
		attribute.String("etcd.key", key),
	)

	if _, err := b.client.Put(ctx, key, string(msgJSON)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to put task message to etcd")
		return domain.BrokerUnavailable("broker.Publish", fmt.Errorf("failed to save task %s to etcd: %w", msg.ID, err))
	}
	return nil
}

// Claim removes the oldest message of queue. Deletion is guarded by the
// key's mod revision so that concurrent workers never receive the same
// message.
func (b *Broker) Claim(ctx context.Context, queue string) (*domain.TaskMessage, error) {
	ctx, span := b.tracer.Start(ctx, "broker.etcd.Claim")
	defer span.End()
	span.SetAttributes(attribute.String("task.queue", queue))

	resp, err := b.client.Get(ctx, b.queuePrefix(queue),
		clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByCreateRevision, clientv3.SortAscend), // Oldest first
		clientv3.WithLimit(claimBatch),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list queue from etcd")
		return nil, domain.BrokerUnavailable("broker.Claim", fmt.Errorf("failed to list queue %s: %w", queue, err))
	}

	for _, kv := range resp.Kvs {
		key := string(kv.Key)
		txnResp, err := b.client.Txn(ctx).
			If(clientv3.Compare(clientv3.ModRevision(key), "=", kv.ModRevision)).
			Then(clientv3.OpDelete(key)).
			Commit()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to claim task from etcd")
			return nil, domain.BrokerUnavailable("broker.Claim", fmt.Errorf("failed to claim %s: %w", key, err))
		}
		if !txnResp.Succeeded {
			// Another worker got there first.
			continue
		}

		var msg domain.TaskMessage
		if err := json.Unmarshal(kv.Value, &msg); err != nil {
			span.RecordError(err)
			res := malformedMessageResult(key, err)
			if err := b.StoreResult(ctx, res); err != nil {
				b.logger.Error("failed to record malformed task message", "key", key, "error", err)
			} else {
				b.logger.Warn("malformed task message marked as failed", "key", key, "task_id", res.TaskID)
			}
			continue
		}
		span.SetAttributes(attribute.String("task.id", msg.ID))
		return &msg, nil
	}
	return nil, domain.ErrQueueEmpty
}

// malformedMessageResult builds the failure recorded for an undecodable
// queue entry. The task ID is the last element of the key.
func malformedMessageResult(key string, cause error) *domain.TaskResult {
	now := time.Now().UTC()
	return &domain.TaskResult{
		TaskID:      path.Base(key),
		Successful:  false,
		Error:       fmt.Sprintf("malformed task message: %v", cause),
		ErrorKind:   domain.KindUnknown,
		StartedAt:   now,
		CompletedAt: now,
	}
}

// Notify watches queue for new messages.
func (b *Broker) Notify(ctx context.Context, queue string) <-chan struct{} {
	out := make(chan struct{}, 1)
	watchChan := b.client.Watch(ctx, b.queuePrefix(queue), clientv3.WithPrefix(), clientv3.WithFilterDelete())

	go func() {
		defer close(out)
		for watchResp := range watchChan {
			if err := watchResp.Err(); err != nil {
				b.logger.Warn("queue watch interrupted", "queue", queue, "error", err)
				continue
			}
			if len(watchResp.Events) == 0 {
				continue
			}
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()
	return out
}

// StoreResult writes the completion record of a task.
func (b *Broker) StoreResult(ctx context.Context, result *domain.TaskResult) error {
	ctx, span := b.tracer.Start(ctx, "broker.etcd.StoreResult")
	defer span.End()

	if err := result.Validate(); err != nil {
		return fmt.Errorf("invalid task result: %w", err)
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal task result")
		return fmt.Errorf("failed to marshal task result %s to JSON: %w", result.TaskID, err)
	}

	key := b.resultKey(result.TaskID)
	span.SetAttributes(
		attribute.String("task.id", result.TaskID),
		attribute.Bool("task.successful", result.Successful),
		attribute.String("etcd.key", key),
	)

	var opts []clientv3.OpOption
	if b.resultTTL > 0 {
		lease, err := b.client.Grant(ctx, int64(b.resultTTL.Seconds()))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to grant result lease")
			return domain.BrokerUnavailable("broker.StoreResult", fmt.Errorf("failed to grant lease for %s: %w", result.TaskID, err))
		}
		opts = append(opts, clientv3.WithLease(lease.ID))
	}

	if _, err := b.client.Put(ctx, key, string(resultJSON), opts...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to put task result to etcd")
		return domain.BrokerUnavailable("broker.StoreResult", fmt.Errorf("failed to save result %s to etcd: %w", result.TaskID, err))
	}
	return nil
}

// Result reads the completion record of a task.
func (b *Broker) Result(ctx context.Context, taskID string) (*domain.TaskResult, error) {
	ctx, span := b.tracer.Start(ctx, "broker.etcd.Result")
	defer span.End()
	span.SetAttributes(attribute.String("task.id", taskID))

	resp, err := b.client.Get(ctx, b.resultKey(taskID))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get task result from etcd")
		return nil, domain.BrokerUnavailable("broker.Result", fmt.Errorf("failed to get result %s from etcd: %w", taskID, err))
	}
	if len(resp.Kvs) == 0 {
		return nil, domain.ErrResultNotFound
	}

	var result domain.TaskResult
	if err := json.Unmarshal(resp.Kvs[0].Value, &result); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to unmarshal task result")
		return nil, fmt.Errorf("%w %s: %v", domain.ErrMalformedResult, taskID, err)
	}
	return &result, nil
}

// Ping issues a count-only read to check that the cluster answers.
func (b *Broker) Ping(ctx context.Context) error {
	ctx, span := b.tracer.Start(ctx, "broker.etcd.Ping")
	defer span.End()

	if _, err := b.client.Get(ctx, b.prefix, clientv3.WithPrefix(), clientv3.WithCountOnly()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "etcd ping failed")
		return domain.BrokerUnavailable("broker.Ping", err)
	}
	return nil
}
