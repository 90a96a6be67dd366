// internal/api/grpc/server.go
package grpcapi

import (
	"context"
	"encoding/json"
	"log/slog"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"ai-orchestrator/internal/domain"
	"ai-orchestrator/internal/usecase"
)

// APIKeyMetadata is the metadata key carrying the service secret.
const APIKeyMetadata = "x-api-key"

// Server implements TaskServiceServer on top of the task router and the
// status resolver.
type Server struct {
	tasks    usecase.TaskSubmitter
	statuses usecase.StatusResolver
	logger   *slog.Logger
}

// NewServer creates a Server.
func NewServer(tasks usecase.TaskSubmitter, statuses usecase.StatusResolver, logger *slog.Logger) *Server {
	return &Server{
		tasks:    tasks,
		statuses: statuses,
		logger:   logger.With("component", "grpc-task-service"),
	}
}

// NewGRPCServer returns a grpc.Server with tracing and API key checks that
// serves srv.
func NewGRPCServer(srv TaskServiceServer, secret string, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.UnaryInterceptor(APIKeyInterceptor(secret)),
	}, opts...)
	s := grpc.NewServer(opts...)
	RegisterTaskServiceServer(s, srv)
	return s
}

// APIKeyInterceptor rejects calls whose x-api-key metadata does not match
// secret.
func APIKeyInterceptor(secret string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		var key string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get(APIKeyMetadata); len(v) > 0 {
				key = v[0]
			}
		}
		if err := domain.CheckAPIKey(info.FullMethod, secret, key); err != nil {
			return nil, toStatus(err)
		}
		return handler(ctx, req)
	}
}

func (s *Server) Submit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := in.AsMap()
	taskName, _ := req["task_name"].(string)
	if taskName == "" {
		return nil, toStatus(domain.ValidationFailure("grpc.Submit", "task_name is required", ""))
	}
	var args []any
	if v, ok := req["args"]; ok && v != nil {
		list, ok := v.([]any)
		if !ok {
			return nil, toStatus(domain.ValidationFailure("grpc.Submit", "args must be a list", ""))
		}
		args = list
	}
	var kwargs map[string]any
	if v, ok := req["kwargs"]; ok && v != nil {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, toStatus(domain.ValidationFailure("grpc.Submit", "kwargs must be an object", ""))
		}
		kwargs = m
	}
	queue, _ := req["queue"].(string)

	taskID, err := s.tasks.Submit(ctx, taskName, args, kwargs, queue)
	if err != nil {
		s.logger.Error("failed to submit task", "task_name", taskName, "error", err)
		return nil, toStatus(err)
	}
	ticket := domain.NewTaskTicket(taskID)
	return structpb.NewStruct(map[string]any{
		"task_id": ticket.TaskID,
		"status":  string(ticket.Status),
	})
}

func (s *Server) GetStatus(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	taskID, _ := in.AsMap()["task_id"].(string)
	if taskID == "" {
		return nil, toStatus(domain.ValidationFailure("grpc.GetStatus", "task_id is required", ""))
	}
	st, err := s.statuses.Resolve(ctx, taskID)
	if err != nil {
		return nil, toStatus(err)
	}

	out := map[string]any{
		"task_id": st.TaskID,
		"status":  string(st.Status),
		"result":  nil,
		"error":   nil,
	}
	if len(st.Result) > 0 {
		var result any
		if err := json.Unmarshal(st.Result, &result); err != nil {
			return nil, status.Errorf(codes.Internal, "stored result is not JSON: %v", err)
		}
		out["result"] = result
	}
	if st.Error != nil {
		out["error"] = *st.Error
	}
	return structpb.NewStruct(out)
}

func toStatus(err error) error {
	switch domain.KindOf(err) {
	case domain.KindAuthorizationFailure:
		return status.Error(codes.Unauthenticated, err.Error())
	case domain.KindValidationFailure:
		return status.Error(codes.InvalidArgument, err.Error())
	case domain.KindBrokerUnavailable:
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
