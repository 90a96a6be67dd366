// internal/domain/broker.go
package domain

import (
	"context"
	"errors"
)

var (
	// ErrResultNotFound is returned when the result backend has no record for a task.
	ErrResultNotFound = errors.New("task result not found")
	// ErrQueueEmpty is returned by Claim when no message is waiting.
	ErrQueueEmpty = errors.New("queue is empty")
	// ErrMalformedResult is returned when a stored result record cannot be decoded.
	ErrMalformedResult = errors.New("malformed task result")
)

// Broker is the message-queue infrastructure shared by the front service
// and the workers. Implementations must be safe for concurrent use.
type Broker interface {
	// Publish durably enqueues one message on msg.Queue.
	Publish(ctx context.Context, msg *TaskMessage) error
	// Result returns the completion record of a task, or ErrResultNotFound.
	Result(ctx context.Context, taskID string) (*TaskResult, error)
	// Ping checks that the broker can be reached.
	Ping(ctx context.Context) error
}

// Consumer is the worker side of the broker.
type Consumer interface {
	// Claim removes and returns the oldest message of a queue, or ErrQueueEmpty.
	// At most one caller ever receives a given message.
	Claim(ctx context.Context, queue string) (*TaskMessage, error)
	// Notify returns a channel that receives a value whenever a message may
	// have been published on the queue. It is closed when ctx is done.
	Notify(ctx context.Context, queue string) <-chan struct{}
	// StoreResult records the completion of a task.
	StoreResult(ctx context.Context, result *TaskResult) error
}
