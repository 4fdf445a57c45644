// Package rpc exposes the stopping engine over gRPC so a training loop in
// another process can drive it. Messages are google.protobuf.Struct values,
// which keeps the service usable from any language without generated code.
package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "optisat.v1.StoppingService"

const (
	methodStartRun  = "/" + ServiceName + "/StartRun"
	methodEvaluate  = "/" + ServiceName + "/Evaluate"
	methodGetStatus = "/" + ServiceName + "/GetStatus"
	methodEndRun    = "/" + ServiceName + "/EndRun"
)

// StoppingServer is the server API of optisat.v1.StoppingService.
type StoppingServer interface {
	StartRun(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Evaluate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	EndRun(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(StoppingServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func handler(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(StoppingServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(StoppingServer), ctx, req.(*structpb.Struct))
		})
	}
}

// ServiceDesc describes optisat.v1.StoppingService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StoppingServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "StartRun", Handler: handler(methodStartRun, StoppingServer.StartRun)},
		{MethodName: "Evaluate", Handler: handler(methodEvaluate, StoppingServer.Evaluate)},
		{MethodName: "GetStatus", Handler: handler(methodGetStatus, StoppingServer.GetStatus)},
		{MethodName: "EndRun", Handler: handler(methodEndRun, StoppingServer.EndRun)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "optisat/v1/stopping.proto",
}

// Register adds srv to s.
func Register(s grpc.ServiceRegistrar, srv StoppingServer) {
	s.RegisterService(&ServiceDesc, srv)
}
