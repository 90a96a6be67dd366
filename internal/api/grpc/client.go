// internal/api/grpc/client.go
package grpcapi

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"ai-orchestrator/internal/domain"
)

// Client calls a remote TaskService.
type Client struct {
	conn   *grpc.ClientConn
	apiKey string
}

// NewClient connects to the TaskService at target.
func NewClient(target, apiKey string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", target, err)
	}
	return &Client{conn: conn, apiKey: apiKey}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Submit enqueues a task and returns its ticket.
func (c *Client) Submit(ctx context.Context, taskName string, args []any, kwargs map[string]any, queue string) (domain.TaskTicket, error) {
	req := map[string]any{"task_name": taskName}
	if args != nil {
		req["args"] = args
	}
	if kwargs != nil {
		req["kwargs"] = kwargs
	}
	if queue != "" {
		req["queue"] = queue
	}
	in, err := structpb.NewStruct(req)
	if err != nil {
		return domain.TaskTicket{}, domain.ValidationFailure("grpc.Submit", err.Error(), "")
	}

	out := new(structpb.Struct)
	if err := c.conn.Invoke(c.withKey(ctx), submitMethod, in, out); err != nil {
		return domain.TaskTicket{}, fromStatus("grpc.Submit", err)
	}
	fields := out.AsMap()
	taskID, _ := fields["task_id"].(string)
	state, _ := fields["status"].(string)
	return domain.TaskTicket{TaskID: taskID, Status: domain.TaskState(state)}, nil
}

// Resolve returns the current status of taskID.
func (c *Client) Resolve(ctx context.Context, taskID string) (domain.TaskStatus, error) {
	in, _ := structpb.NewStruct(map[string]any{"task_id": taskID})
	out := new(structpb.Struct)
	if err := c.conn.Invoke(c.withKey(ctx), getStatusMethod, in, out); err != nil {
		return domain.TaskStatus{}, fromStatus("grpc.GetStatus", err)
	}

	fields := out.AsMap()
	state, _ := fields["status"].(string)
	st := domain.TaskStatus{TaskID: taskID, Status: domain.TaskState(state)}
	if result, ok := fields["result"]; ok && result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return domain.TaskStatus{}, fmt.Errorf("failed to encode result: %w", err)
		}
		st.Result = raw
	}
	if msg, ok := fields["error"].(string); ok {
		st.Error = &msg
	}
	return st, nil
}

func (c *Client) withKey(ctx context.Context) context.Context {
	return metadata.AppendToOutgoingContext(ctx, APIKeyMetadata, c.apiKey)
}

// fromStatus maps a gRPC status back onto the error taxonomy.
func fromStatus(op string, err error) error {
	s, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch s.Code() {
	case codes.Unauthenticated:
		return domain.AuthorizationFailure(op)
	case codes.InvalidArgument:
		return &domain.Error{Kind: domain.KindValidationFailure, Op: op, Message: s.Message()}
	case codes.Unavailable:
		return domain.BrokerUnavailable(op, err)
	default:
		return &domain.Error{Kind: domain.KindUnknown, Op: op, Err: err}
	}
}
