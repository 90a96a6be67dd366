package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"ai-orchestrator/internal/domain"
)

func TestBrokerClaimIsFIFOPerQueue(t *testing.T) {
	b := NewBroker()
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if err := b.Publish(ctx, &domain.TaskMessage{ID: id, TaskName: "t", Queue: "text_queue"}); err != nil {
			t.Fatalf("Publish(%s) error = %v", id, err)
		}
	}
	if err := b.Publish(ctx, &domain.TaskMessage{ID: "c", TaskName: "t", Queue: "vision_queue"}); err != nil {
		t.Fatalf("Publish(c) error = %v", err)
	}

	for _, want := range []string{"a", "b"} {
		msg, err := b.Claim(ctx, "text_queue")
		if err != nil {
			t.Fatalf("Claim() error = %v", err)
		}
		if msg.ID != want {
			t.Errorf("Claim() = %s, want %s", msg.ID, want)
		}
	}
	if _, err := b.Claim(ctx, "text_queue"); !errors.Is(err, domain.ErrQueueEmpty) {
		t.Errorf("Claim() on drained queue error = %v, want ErrQueueEmpty", err)
	}
	if msg, err := b.Claim(ctx, "vision_queue"); err != nil || msg.ID != "c" {
		t.Errorf("Claim(vision_queue) = %v, %v; want c", msg, err)
	}
}

func TestBrokerNotifySignalsPublish(t *testing.T) {
	b := NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	ch := b.Notify(ctx, "text_queue")

	if err := b.Publish(context.Background(), &domain.TaskMessage{ID: "a", TaskName: "t", Queue: "text_queue"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no notification after publish")
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			// A pending signal may still be buffered; the next read must see the close.
			if _, ok := <-ch; ok {
				t.Fatal("channel not closed after cancel")
			}
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestBrokerResultNotFound(t *testing.T) {
	b := NewBroker()
	if _, err := b.Result(context.Background(), "missing"); !errors.Is(err, domain.ErrResultNotFound) {
		t.Fatalf("Result() error = %v, want ErrResultNotFound", err)
	}
}

func TestLockerIsExclusive(t *testing.T) {
	l := NewLocker()
	ctx := context.Background()

	lock, err := l.Lock(ctx, "monitor")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	if _, err := l.Lock(ctx, "monitor"); !errors.Is(err, domain.ErrLockNotAcquired) {
		t.Fatalf("second Lock() error = %v, want ErrLockNotAcquired", err)
	}
	if err := lock.Unlock(ctx); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	if _, err := l.Lock(ctx, "monitor"); err != nil {
		t.Fatalf("Lock() after Unlock error = %v", err)
	}
}
