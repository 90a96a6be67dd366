// internal/infra/memory/broker.go
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"ai-orchestrator/internal/domain"
)

// Broker is an in-process broker. It backs the standalone mode, where the
// API and a worker share one process, and the tests.
// Messages and results are stored as JSON so they cross the same wire
// contract as the etcd broker.
type Broker struct {
	mu       sync.Mutex
	queues   map[string][][]byte
	results  map[string][]byte
	watchers map[string][]chan struct{}
	// down makes every call fail as if the broker were unreachable.
	down bool
}

var (
	_ domain.Broker   = (*Broker)(nil)
	_ domain.Consumer = (*Broker)(nil)
)

// NewBroker creates an empty in-process broker.
func NewBroker() *Broker {
	return &Broker{
		queues:   make(map[string][][]byte),
		results:  make(map[string][]byte),
		watchers: make(map[string][]chan struct{}),
	}
}

// SetDown toggles simulated unavailability.
func (b *Broker) SetDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = down
}

func (b *Broker) unavailable(op string) error {
	if b.down {
		return domain.BrokerUnavailable(op, fmt.Errorf("connection refused"))
	}
	return nil
}

// Publish appends msg to its queue.
func (b *Broker) Publish(ctx context.Context, msg *domain.TaskMessage) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid task message: %w", err)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal task message %s: %w", msg.ID, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.unavailable("memory.Publish"); err != nil {
		return err
	}
	b.queues[msg.Queue] = append(b.queues[msg.Queue], data)
	for _, ch := range b.watchers[msg.Queue] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

// Claim pops the oldest message of queue.
func (b *Broker) Claim(ctx context.Context, queue string) (*domain.TaskMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.unavailable("memory.Claim"); err != nil {
		return nil, err
	}
	pending := b.queues[queue]
	if len(pending) == 0 {
		return nil, domain.ErrQueueEmpty
	}
	data := pending[0]
	b.queues[queue] = pending[1:]

	var msg domain.TaskMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task message: %w", err)
	}
	return &msg, nil
}

// Notify signals publications on queue until ctx is done.
func (b *Broker) Notify(ctx context.Context, queue string) <-chan struct{} {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	b.watchers[queue] = append(b.watchers[queue], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		watchers := b.watchers[queue]
		for i, w := range watchers {
			if w == ch {
				b.watchers[queue] = append(watchers[:i], watchers[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

// StoreResult records result, replacing any earlier record.
func (b *Broker) StoreResult(ctx context.Context, result *domain.TaskResult) error {
	if err := result.Validate(); err != nil {
		return fmt.Errorf("invalid task result: %w", err)
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal task result %s: %w", result.TaskID, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.unavailable("memory.StoreResult"); err != nil {
		return err
	}
	b.results[result.TaskID] = data
	return nil
}

// Result returns the stored record of taskID.
func (b *Broker) Result(ctx context.Context, taskID string) (*domain.TaskResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.unavailable("memory.Result"); err != nil {
		return nil, err
	}
	data, ok := b.results[taskID]
	if !ok {
		return nil, domain.ErrResultNotFound
	}
	var result domain.TaskResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task result %s: %w", taskID, err)
	}
	return &result, nil
}

// Ping reports simulated availability.
func (b *Broker) Ping(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unavailable("memory.Ping")
}

// Pending returns the messages waiting on queue, oldest first.
func (b *Broker) Pending(queue string) []*domain.TaskMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*domain.TaskMessage, 0, len(b.queues[queue]))
	for _, data := range b.queues[queue] {
		var msg domain.TaskMessage
		if err := json.Unmarshal(data, &msg); err == nil {
			out = append(out, &msg)
		}
	}
	return out
}
