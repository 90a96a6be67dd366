package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"ai-orchestrator/internal/dispatch/dispatchtest"
	"ai-orchestrator/internal/domain"
	"ai-orchestrator/internal/infra/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDispatch(t *testing.T) (*memory.Broker, *Router, *Resolver) {
	t.Helper()
	broker := memory.NewBroker()
	routes := NewRoutes(map[string]string{"text.simple_test_task": "text_queue"}, "default")
	return broker, NewRouter(broker, routes, testLogger()), NewResolver(broker, testLogger())
}

// complete simulates a worker finishing the oldest message of queue.
func complete(t *testing.T, broker *memory.Broker, queue string, result any, failure string) string {
	t.Helper()
	ctx := context.Background()
	msg, err := broker.Claim(ctx, queue)
	if err != nil {
		t.Fatalf("Claim(%q) error = %v", queue, err)
	}
	record := &domain.TaskResult{TaskID: msg.ID, TaskName: msg.TaskName, CompletedAt: time.Now()}
	if failure != "" {
		record.Error = failure
		record.ErrorKind = domain.KindProviderFailure
	} else {
		raw, err := json.Marshal(result)
		if err != nil {
			t.Fatalf("marshal result: %v", err)
		}
		record.Successful = true
		record.Result = raw
	}
	if err := broker.StoreResult(ctx, record); err != nil {
		t.Fatalf("StoreResult() error = %v", err)
	}
	return msg.ID
}

func TestSubmitReturnsUniqueIDsWithoutDedup(t *testing.T) {
	broker, router, _ := newTestDispatch(t)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 3; i++ {
		id, err := router.Submit(ctx, "generate_description", []any{"red toy car", nil}, nil, "text_queue")
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		if id == "" {
			t.Fatal("Submit() returned an empty task id")
		}
		if seen[id] {
			t.Fatalf("Submit() returned duplicate id %q", id)
		}
		seen[id] = true
	}

	if got := len(broker.Pending("text_queue")); got != 3 {
		t.Errorf("queued messages = %d, want 3", got)
	}
}

func TestSubmitUsesStaticRouteWhenQueueEmpty(t *testing.T) {
	broker, router, _ := newTestDispatch(t)
	ctx := context.Background()

	if _, err := router.Submit(ctx, "text.simple_test_task", nil, nil, ""); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if _, err := router.Submit(ctx, "not.registered.anywhere", nil, nil, ""); err != nil {
		t.Fatalf("Submit() of unknown task name error = %v", err)
	}

	if got := len(broker.Pending("text_queue")); got != 1 {
		t.Errorf("text_queue messages = %d, want 1", got)
	}
	pending := broker.Pending("default")
	if len(pending) != 1 || pending[0].TaskName != "not.registered.anywhere" {
		t.Errorf("default queue = %+v, want the unknown task", pending)
	}
}

func TestSubmitPreservesArgsAndKwargs(t *testing.T) {
	broker, router, _ := newTestDispatch(t)

	_, err := router.Submit(context.Background(), "text.process_animation_script", nil,
		map[string]any{"script": "wave", "current_animation_state": nil}, "text_queue")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	msg := broker.Pending("text_queue")[0]
	if msg.Kwargs["script"] != "wave" {
		t.Errorf("kwargs[script] = %v, want wave", msg.Kwargs["script"])
	}
	if _, ok := msg.Kwargs["current_animation_state"]; !ok {
		t.Error("null kwarg was dropped")
	}
	if msg.Args == nil || len(msg.Args) != 0 {
		t.Errorf("args = %v, want empty list", msg.Args)
	}
}

func TestSubmitBrokerUnavailable(t *testing.T) {
	broker, router, _ := newTestDispatch(t)
	broker.SetDown(true)

	id, err := router.Submit(context.Background(), "text.simple_test_task", nil, nil, "")
	if err == nil {
		t.Fatal("Submit() error = nil, want BrokerUnavailable")
	}
	if id != "" {
		t.Errorf("Submit() id = %q, want empty on failure", id)
	}
	if kind := domain.KindOf(err); kind != domain.KindBrokerUnavailable {
		t.Errorf("KindOf(err) = %q, want %q", kind, domain.KindBrokerUnavailable)
	}
}

func TestResolveUnknownIDIsPending(t *testing.T) {
	_, _, resolver := newTestDispatch(t)

	status, err := resolver.Resolve(context.Background(), "never-submitted")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if status.Status != domain.TaskStatePending {
		t.Errorf("Status = %q, want PENDING", status.Status)
	}
	if status.Result != nil || status.Error != nil {
		t.Errorf("pending status carries result=%s error=%v", status.Result, status.Error)
	}
}

func TestResolveBrokerUnavailable(t *testing.T) {
	broker, _, resolver := newTestDispatch(t)
	broker.SetDown(true)

	_, err := resolver.Resolve(context.Background(), "abc")
	if !domain.IsKind(err, domain.KindBrokerUnavailable) {
		t.Fatalf("Resolve() error = %v, want BrokerUnavailable", err)
	}
}

// unreadableResults answers every result lookup with an undecodable record.
type unreadableResults struct {
	*memory.Broker
}

func (unreadableResults) Result(ctx context.Context, taskID string) (*domain.TaskResult, error) {
	return nil, fmt.Errorf("%w %s: unexpected end of JSON input", domain.ErrMalformedResult, taskID)
}

func TestResolveMalformedResultIsFailure(t *testing.T) {
	resolver := NewResolver(unreadableResults{memory.NewBroker()}, testLogger())

	status, err := resolver.Resolve(context.Background(), "abc")
	if err != nil {
		t.Fatalf("Resolve() error = %v, want a FAILURE status", err)
	}
	if status.Status != domain.TaskStateFailure || status.Kind != domain.KindUnknown {
		t.Errorf("status = %+v, want FAILURE of kind Unknown", status)
	}
	if status.Error == nil || status.Result != nil {
		t.Errorf("status carries result=%s error=%v", status.Result, status.Error)
	}
}

func TestGenerateDescriptionScenarioSuccess(t *testing.T) {
	broker, router, resolver := newTestDispatch(t)
	ctx := context.Background()

	id, err := router.Submit(ctx, "generate_description", []any{"red toy car", nil}, map[string]any{}, "text_queue")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	ticket, _ := json.Marshal(domain.NewTaskTicket(id))
	if want := `{"task_id":"` + id + `","status":"PENDING"}`; string(ticket) != want {
		t.Errorf("ticket = %s, want %s", ticket, want)
	}

	msg := broker.Pending("text_queue")[0]
	if len(msg.Args) != 2 || msg.Args[0] != "red toy car" || msg.Args[1] != nil {
		t.Errorf("args = %#v, want [red toy car <nil>]", msg.Args)
	}

	complete(t, broker, "text_queue", map[string]string{"name": "Red Toy Car"}, "")

	// Repeated reads must be identical.
	var first []byte
	for i := 0; i < 3; i++ {
		status, err := resolver.Resolve(ctx, id)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		got, err := json.Marshal(status)
		if err != nil {
			t.Fatalf("marshal status: %v", err)
		}
		want := `{"task_id":"` + id + `","status":"SUCCESS","result":{"name":"Red Toy Car"},"error":null}`
		if string(got) != want {
			t.Fatalf("status = %s, want %s", got, want)
		}
		if first == nil {
			first = got
		} else if string(first) != string(got) {
			t.Fatalf("status changed between reads: %s then %s", first, got)
		}
	}
}

func TestModelUnavailableScenarioFailure(t *testing.T) {
	broker, router, resolver := newTestDispatch(t)
	ctx := context.Background()

	id, err := router.Submit(ctx, "generate_description", []any{"red toy car", nil}, nil, "text_queue")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	complete(t, broker, "text_queue", nil, "model unavailable")

	for i := 0; i < 2; i++ {
		status, err := resolver.Resolve(ctx, id)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		got, _ := json.Marshal(status)
		want := `{"task_id":"` + id + `","status":"FAILURE","result":null,"error":"model unavailable"}`
		if string(got) != want {
			t.Fatalf("status = %s, want %s", got, want)
		}
		if status.Kind != domain.KindProviderFailure {
			t.Errorf("Kind = %q, want %q", status.Kind, domain.KindProviderFailure)
		}
	}
}

func TestResultAndErrorMutuallyExclusive(t *testing.T) {
	broker, router, resolver := newTestDispatch(t)
	ctx := context.Background()

	okID, _ := router.Submit(ctx, "text.simple_test_task", nil, nil, "text_queue")
	failID, _ := router.Submit(ctx, "text.simple_test_task", nil, nil, "text_queue")
	pendingID, _ := router.Submit(ctx, "text.simple_test_task", nil, nil, "text_queue")
	complete(t, broker, "text_queue", "hello", "")
	complete(t, broker, "text_queue", nil, "boom")

	for _, id := range []string{okID, failID, pendingID} {
		status, err := resolver.Resolve(ctx, id)
		if err != nil {
			t.Fatalf("Resolve(%s) error = %v", id, err)
		}
		switch status.Status {
		case domain.TaskStatePending:
			if status.Result != nil || status.Error != nil {
				t.Errorf("PENDING %s carries result or error", id)
			}
		case domain.TaskStateSuccess:
			if status.Error != nil {
				t.Errorf("SUCCESS %s carries error %q", id, *status.Error)
			}
		case domain.TaskStateFailure:
			if status.Result != nil {
				t.Errorf("FAILURE %s carries result %s", id, status.Result)
			}
			if status.Error == nil || *status.Error == "" {
				t.Errorf("FAILURE %s has no error text", id)
			}
		default:
			t.Errorf("unexpected status %q", status.Status)
		}
	}
}

func TestWrap(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		fn       func(context.Context) (any, error)
		status   domain.TaskState
		wantKind domain.ErrorKind
	}{
		{
			name:   "success",
			fn:     func(context.Context) (any, error) { return "text", nil },
			status: domain.TaskStateSuccess,
		},
		{
			name: "provider failure",
			fn: func(context.Context) (any, error) {
				return nil, domain.ProviderFailure("gemini.Generate", errors.New("quota exceeded"))
			},
			status:   domain.TaskStateFailure,
			wantKind: domain.KindProviderFailure,
		},
		{
			name:     "untyped error",
			fn:       func(context.Context) (any, error) { return nil, errors.New("boom") },
			status:   domain.TaskStateFailure,
			wantKind: domain.KindUnknown,
		},
		{
			name:     "empty error text",
			fn:       func(context.Context) (any, error) { return nil, errors.New("") },
			status:   domain.TaskStateFailure,
			wantKind: domain.KindUnknown,
		},
		{
			name:     "panic",
			fn:       func(context.Context) (any, error) { panic("provider exploded") },
			status:   domain.TaskStateFailure,
			wantKind: domain.KindUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := Wrap(ctx, tt.fn)
			if env.Status != tt.status {
				t.Fatalf("Status = %q, want %q", env.Status, tt.status)
			}
			if tt.status == domain.TaskStateSuccess {
				if env.Error != "" {
					t.Errorf("Error = %q, want empty", env.Error)
				}
				return
			}
			if env.Error == "" {
				t.Error("Error is empty on FAILURE")
			}
			if env.Result != nil {
				t.Errorf("Result = %v, want nil on FAILURE", env.Result)
			}
			if env.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", env.Kind, tt.wantKind)
			}
		})
	}
}

func TestAwaitReturnsTerminalStatus(t *testing.T) {
	broker, router, resolver := newTestDispatch(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	id, _ := router.Submit(ctx, "text.simple_test_task", nil, nil, "text_queue")
	go func() {
		time.Sleep(20 * time.Millisecond)
		msg, err := broker.Claim(ctx, "text_queue")
		if err != nil {
			t.Errorf("Claim() error = %v", err)
			return
		}
		_ = broker.StoreResult(ctx, &domain.TaskResult{TaskID: msg.ID, Successful: true, Result: []byte(`"pong"`)})
	}()

	status, err := dispatchtest.Await(ctx, resolver, id, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if status.Status != domain.TaskStateSuccess || string(status.Result) != `"pong"` {
		t.Errorf("Await() = %+v, want SUCCESS \"pong\"", status)
	}
}

func TestAwaitTimesOutWhilePending(t *testing.T) {
	_, _, resolver := newTestDispatch(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	status, err := dispatchtest.Await(ctx, resolver, "never-completes", 5*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Await() error = %v, want deadline exceeded", err)
	}
	if status.Status != domain.TaskStatePending {
		t.Errorf("Status = %q, want PENDING", status.Status)
	}
}
