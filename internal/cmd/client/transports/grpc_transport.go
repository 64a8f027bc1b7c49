package transports

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"

	rookeryv1 "github.com/rzbill/rookery/api/rookery/v1"
)

// GrpcTransport implements TailTransport over Measurements.Subscribe.
type GrpcTransport struct {
	dial func(ctx context.Context) (*grpc.ClientConn, error)
}

// NewGrpcTransport constructs a new GrpcTransport using the provided dialer.
func NewGrpcTransport(dial func(ctx context.Context) (*grpc.ClientConn, error)) *GrpcTransport {
	return &GrpcTransport{dial: dial}
}

func (t *GrpcTransport) Tail(ctx context.Context, filter string, onEvent func(Event) error) error {
	conn, err := t.dial(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	stream, err := rookeryv1.NewMeasurementsClient(conn).Subscribe(ctx, rookeryv1.SubscribeRequest(filter))
	if err != nil {
		return err
	}
	for {
		m, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled || ctx.Err() != nil {
				return nil
			}
			return err
		}
		var id uint64
		if v, ok := m.GetFields()["event_id"]; ok {
			id = uint64(v.GetNumberValue())
			delete(m.Fields, "event_id")
		}
		data, err := protojson.Marshal(m)
		if err != nil {
			return err
		}
		if err := onEvent(Event{ID: id, Data: data}); err != nil {
			return err
		}
	}
}
