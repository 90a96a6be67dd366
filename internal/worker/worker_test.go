package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"ai-orchestrator/internal/domain"
	"ai-orchestrator/internal/infra/memory"
	"ai-orchestrator/internal/infra/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeProvider answers every call with reply or err.
type fakeProvider struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
	images  []string
}

func (f *fakeProvider) Kind() domain.ProviderKind { return domain.ProviderKindLocal }

func (f *fakeProvider) Generate(ctx context.Context, model, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

func (f *fakeProvider) Analyze(ctx context.Context, imagePath, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images = append(f.images, imagePath)
	return f.reply, f.err
}

func newConsumer(broker *memory.Broker, h *Handlers) *Consumer {
	return NewConsumer(broker, h, ConsumerConfig{
		WorkerID:     "w1",
		Queues:       []string{"text_queue"},
		PollInterval: 10 * time.Millisecond,
		MaxBackoff:   20 * time.Millisecond,
	}, testLogger())
}

func TestProcessStoresResult(t *testing.T) {
	broker := memory.NewBroker()
	h := NewHandlers()
	h.Register("echo", func(ctx context.Context, msg *domain.TaskMessage) (any, error) {
		return map[string]any{"echo": msg.Args[0]}, nil
	})
	c := newConsumer(broker, h)

	c.Process(context.Background(), &domain.TaskMessage{ID: "t1", TaskName: "echo", Args: []any{"hi"}, Queue: "text_queue"})

	res, err := broker.Result(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Result() error = %v", err)
	}
	if !res.Successful || string(res.Result) != `{"echo":"hi"}` {
		t.Errorf("result = %+v", res)
	}
	if res.WorkerID != "w1" {
		t.Errorf("WorkerID = %q, want w1", res.WorkerID)
	}
}

func TestProcessFailures(t *testing.T) {
	tests := []struct {
		name     string
		handler  Handler
		wantKind domain.ErrorKind
		wantText string
	}{
		{
			name:     "no handler",
			wantKind: domain.KindUnknown,
			wantText: "no handler registered for task",
		},
		{
			name: "panic",
			handler: func(ctx context.Context, msg *domain.TaskMessage) (any, error) {
				panic("boom")
			},
			wantKind: domain.KindUnknown,
			wantText: "panic: boom",
		},
		{
			name: "provider failure",
			handler: func(ctx context.Context, msg *domain.TaskMessage) (any, error) {
				return nil, domain.ProviderFailure("ollama.generate", errors.New("model unavailable"))
			},
			wantKind: domain.KindProviderFailure,
			wantText: "model unavailable",
		},
		{
			name: "untyped error",
			handler: func(ctx context.Context, msg *domain.TaskMessage) (any, error) {
				return nil, errors.New("disk full")
			},
			wantKind: domain.KindUnknown,
			wantText: "disk full",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broker := memory.NewBroker()
			h := NewHandlers()
			if tt.handler != nil {
				h.Register("task", tt.handler)
			}
			res := newConsumer(broker, h).Process(context.Background(), &domain.TaskMessage{ID: "t1", TaskName: "task", Queue: "text_queue"})

			if res.Successful {
				t.Fatal("Process() succeeded, want failure")
			}
			if res.ErrorKind != tt.wantKind {
				t.Errorf("ErrorKind = %s, want %s", res.ErrorKind, tt.wantKind)
			}
			if !strings.Contains(res.Error, tt.wantText) {
				t.Errorf("Error = %q, want it to contain %q", res.Error, tt.wantText)
			}
			if _, err := broker.Result(context.Background(), "t1"); err != nil {
				t.Errorf("failure was not stored: %v", err)
			}
		})
	}
}

func TestRunConsumesPublishedTasks(t *testing.T) {
	broker := memory.NewBroker()
	h := NewHandlers()
	h.Register("double", func(ctx context.Context, msg *domain.TaskMessage) (any, error) {
		return msg.Args[0].(float64) * 2, nil
	})
	c := newConsumer(broker, h)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	// Round-trip through JSON so args look the way the broker delivers them.
	var args []any
	_ = json.Unmarshal([]byte(`[21]`), &args)
	if err := broker.Publish(context.Background(), &domain.TaskMessage{ID: "t1", TaskName: "double", Args: args, Queue: "text_queue"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var res *domain.TaskResult
	for time.Now().Before(deadline) {
		r, err := broker.Result(context.Background(), "t1")
		if err == nil {
			res = r
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}

	if res == nil {
		t.Fatal("task was never consumed")
	}
	if !res.Successful || string(res.Result) != "42" {
		t.Errorf("result = %+v", res)
	}
}

func TestRunSurvivesBrokerOutage(t *testing.T) {
	broker := memory.NewBroker()
	broker.SetDown(true)
	h := NewHandlers()
	h.Register("ok", func(ctx context.Context, msg *domain.TaskMessage) (any, error) { return "ok", nil })
	c := newConsumer(broker, h)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	broker.SetDown(false)
	if err := broker.Publish(context.Background(), &domain.TaskMessage{ID: "t1", TaskName: "ok", Queue: "text_queue"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	found := false
	for time.Now().Before(deadline) {
		if _, err := broker.Result(context.Background(), "t1"); err == nil {
			found = true
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
	if !found {
		t.Fatal("task was not consumed after the broker came back")
	}
}

func TestHandlersNames(t *testing.T) {
	h := NewHandlers()
	RegisterTasks(h, TaskDeps{Logger: testLogger()})
	want := []string{
		domain.TaskGenerateProductDescription,
		domain.TaskProcessAnimationScript,
		domain.TaskSimpleTest,
		domain.TaskAnalyzeSprite,
		domain.TaskMonitorSpritesDirectory,
		domain.TaskProcessProductImage,
	}
	got := h.Names()
	if len(got) != len(want) {
		t.Fatalf("Names() = %v", got)
	}
	for _, name := range want {
		if _, ok := h.Lookup(name); !ok {
			t.Errorf("%s is not registered", name)
		}
	}
}

func newTestStorage(t *testing.T) (*storage.FileStorage, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	return storage.New(fs, storage.Dirs{
		Upload:    "/data/uploads",
		Generated: "/data/generated",
		Sprites:   "/data/sprites",
		Archive:   "/data/archive",
	}, testLogger()), fs
}
