// internal/api/grpc/service.go
package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName = "orchestrator.v1.TaskService"

	submitMethod    = "/" + ServiceName + "/Submit"
	getStatusMethod = "/" + ServiceName + "/GetStatus"
)

// TaskServiceServer is the server API of orchestrator.v1.TaskService.
// Messages are google.protobuf.Struct so the service needs no generated
// code:
//
//	Submit    {task_name, args?, kwargs?, queue?} -> {task_id, status}
//	GetStatus {task_id}                           -> {task_id, status, result, error}
type TaskServiceServer interface {
	Submit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	GetStatus(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// RegisterTaskServiceServer registers srv on s.
func RegisterTaskServiceServer(s grpc.ServiceRegistrar, srv TaskServiceServer) {
	s.RegisterService(&TaskServiceDesc, srv)
}

// TaskServiceDesc describes orchestrator.v1.TaskService.
var TaskServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TaskServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: submitHandler},
		{MethodName: "GetStatus", Handler: getStatusHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "orchestrator/v1/task_service.proto",
}

func submitHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TaskServiceServer).Submit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: submitMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TaskServiceServer).Submit(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func getStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TaskServiceServer).GetStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getStatusMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TaskServiceServer).GetStatus(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
