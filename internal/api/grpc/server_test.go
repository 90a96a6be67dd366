package grpcapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"ai-orchestrator/internal/dispatch"
	"ai-orchestrator/internal/dispatch/dispatchtest"
	"ai-orchestrator/internal/domain"
	"ai-orchestrator/internal/infra/memory"
)

const testSecret = "s3cret"

func startServer(t *testing.T) (*memory.Broker, *bufconn.Listener) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	broker := memory.NewBroker()
	router := dispatch.NewRouter(broker, dispatch.NewRoutes(map[string]string{
		domain.TaskSimpleTest: "text_queue",
	}, "default"), logger)

	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer(NewServer(router, dispatch.NewResolver(broker, logger), logger), testSecret)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return broker, lis
}

func dial(t *testing.T, lis *bufconn.Listener, key string) *Client {
	t.Helper()
	c, err := NewClient("passthrough:///bufnet", key, grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSubmitAndResolve(t *testing.T) {
	broker, lis := startServer(t)
	c := dial(t, lis, testSecret)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ticket, err := c.Submit(ctx, domain.TaskSimpleTest, nil, nil, "")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if ticket.TaskID == "" || ticket.Status != domain.TaskStatePending {
		t.Fatalf("ticket = %+v", ticket)
	}
	pending := broker.Pending("text_queue")
	if len(pending) != 1 || pending[0].ID != ticket.TaskID {
		t.Fatalf("text_queue = %+v", pending)
	}

	st, err := c.Resolve(ctx, ticket.TaskID)
	if err != nil || st.Status != domain.TaskStatePending || st.Result != nil || st.Error != nil {
		t.Fatalf("Resolve() = %+v, %v", st, err)
	}

	msg, _ := broker.Claim(ctx, "text_queue")
	raw, _ := json.Marshal(map[string]any{"reply": "pong"})
	_ = broker.StoreResult(ctx, &domain.TaskResult{TaskID: msg.ID, TaskName: msg.TaskName, Successful: true, Result: raw, CompletedAt: time.Now()})

	st, err = dispatchtest.Await(ctx, c, ticket.TaskID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if st.Status != domain.TaskStateSuccess || string(st.Result) != `{"reply":"pong"}` || st.Error != nil {
		t.Errorf("status = %+v", st)
	}
}

func TestSubmitErrors(t *testing.T) {
	broker, lis := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := dial(t, lis, "wrong").Submit(ctx, domain.TaskSimpleTest, nil, nil, ""); !domain.IsKind(err, domain.KindAuthorizationFailure) {
		t.Errorf("wrong key error = %v, want AuthorizationFailure", err)
	}

	c := dial(t, lis, testSecret)
	if _, err := c.Submit(ctx, "", nil, nil, ""); !domain.IsKind(err, domain.KindValidationFailure) {
		t.Errorf("empty task name error = %v, want ValidationFailure", err)
	}

	broker.SetDown(true)
	if _, err := c.Submit(ctx, domain.TaskSimpleTest, []any{"x"}, map[string]any{"k": 1.0}, "text_queue"); !domain.IsKind(err, domain.KindBrokerUnavailable) {
		t.Errorf("broker down error = %v, want BrokerUnavailable", err)
	}
	if _, err := c.Resolve(ctx, "t1"); !domain.IsKind(err, domain.KindBrokerUnavailable) {
		t.Errorf("broker down resolve error = %v, want BrokerUnavailable", err)
	}
}

func TestResolveFailure(t *testing.T) {
	broker, lis := startServer(t)
	c := dial(t, lis, testSecret)
	ctx := context.Background()

	_ = broker.StoreResult(ctx, &domain.TaskResult{TaskID: "t1", TaskName: "x", Error: "model unavailable", ErrorKind: domain.KindProviderFailure, CompletedAt: time.Now()})
	st, err := c.Resolve(ctx, "t1")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if st.Status != domain.TaskStateFailure || st.Error == nil || *st.Error != "model unavailable" || st.Result != nil {
		t.Errorf("status = %+v", st)
	}
}
