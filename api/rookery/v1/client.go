package rookeryv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// HealthClient calls the Health service.
type HealthClient interface {
	Check(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type healthClient struct {
	cc grpc.ClientConnInterface
}

func NewHealthClient(cc grpc.ClientConnInterface) HealthClient {
	return &healthClient{cc}
}

func (c *healthClient) Check(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, HealthCheckMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// MeasurementsClient calls the Measurements service.
type MeasurementsClient interface {
	Subscribe(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (Measurements_SubscribeClient, error)
}

// Measurements_SubscribeClient is the client side of a Subscribe stream.
type Measurements_SubscribeClient interface {
	Recv() (*structpb.Struct, error)
	grpc.ClientStream
}

type measurementsClient struct {
	cc grpc.ClientConnInterface
}

func NewMeasurementsClient(cc grpc.ClientConnInterface) MeasurementsClient {
	return &measurementsClient{cc}
}

func (c *measurementsClient) Subscribe(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (Measurements_SubscribeClient, error) {
	stream, err := c.cc.NewStream(ctx, &Measurements_ServiceDesc.Streams[0], MeasurementsSubscribeMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &subscribeClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type subscribeClient struct {
	grpc.ClientStream
}

func (x *subscribeClient) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// SubscribeRequest builds a Subscribe request; an empty filter passes every
// measurement.
func SubscribeRequest(filter string) *structpb.Struct {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{}}
	if filter != "" {
		req.Fields["filter"] = structpb.NewStringValue(filter)
	}
	return req
}
