package rookeryv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	HealthServiceName       = "rookery.v1.Health"
	MeasurementsServiceName = "rookery.v1.Measurements"

	HealthCheckMethod           = "/rookery.v1.Health/Check"
	MeasurementsSubscribeMethod = "/rookery.v1.Measurements/Subscribe"
)

// HealthServer reports node health as {"status": "ok" | "not_serving"}.
type HealthServer interface {
	Check(ctx context.Context, in *emptypb.Empty) (*structpb.Struct, error)
}

// MeasurementsServer streams live measurements.
type MeasurementsServer interface {
	Subscribe(in *structpb.Struct, stream Measurements_SubscribeServer) error
}

// Measurements_SubscribeServer is the server side of a Subscribe stream.
type Measurements_SubscribeServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type subscribeServer struct {
	grpc.ServerStream
}

func (x *subscribeServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

func RegisterHealthServer(s grpc.ServiceRegistrar, srv HealthServer) {
	s.RegisterService(&Health_ServiceDesc, srv)
}

func RegisterMeasurementsServer(s grpc.ServiceRegistrar, srv MeasurementsServer) {
	s.RegisterService(&Measurements_ServiceDesc, srv)
}

func healthCheckHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(HealthServer).Check(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: HealthCheckMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(HealthServer).Check(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func measurementsSubscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(MeasurementsServer).Subscribe(in, &subscribeServer{stream})
}

// Health_ServiceDesc is the grpc.ServiceDesc for the Health service.
var Health_ServiceDesc = grpc.ServiceDesc{
	ServiceName: HealthServiceName,
	HandlerType: (*HealthServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Check", Handler: healthCheckHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rookery/v1/rookery.proto",
}

// Measurements_ServiceDesc is the grpc.ServiceDesc for the Measurements service.
var Measurements_ServiceDesc = grpc.ServiceDesc{
	ServiceName: MeasurementsServiceName,
	HandlerType: (*MeasurementsServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: measurementsSubscribeHandler, ServerStreams: true},
	},
	Metadata: "rookery/v1/rookery.proto",
}
