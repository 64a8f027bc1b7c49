package grpcserver

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	rookeryv1 "github.com/rzbill/rookery/api/rookery/v1"
	"github.com/rzbill/rookery/internal/broadcast"
	"github.com/rzbill/rookery/internal/runtime"
	logpkg "github.com/rzbill/rookery/pkg/log"
)

type measurementsSvc struct {
	rt     *runtime.Runtime
	logger logpkg.Logger
}

// grpcSink adapts a Subscribe stream to broadcast.Sink. Each JSON payload
// becomes a Struct with the hub event id added.
type grpcSink struct {
	stream rookeryv1.Measurements_SubscribeServer
}

func (s grpcSink) Send(ev broadcast.Event) error {
	msg := &structpb.Struct{}
	if err := protojson.Unmarshal(ev.Data, msg); err != nil {
		return err
	}
	if msg.Fields == nil {
		msg.Fields = map[string]*structpb.Value{}
	}
	msg.Fields["event_id"] = structpb.NewNumberValue(float64(ev.ID))
	return s.stream.Send(msg)
}

func (s grpcSink) Context() context.Context { return s.stream.Context() }

// Flush is a no-op: Send hands each message to the transport.
func (s grpcSink) Flush() error { return nil }

func (m *measurementsSvc) Subscribe(in *structpb.Struct, stream rookeryv1.Measurements_SubscribeServer) error {
	filter, err := broadcast.NewFilter(in.GetFields()["filter"].GetStringValue())
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	sess, err := m.rt.Hub().Open(grpcSink{stream: stream}, broadcast.SessionOptions{
		Transport: "grpc",
		Filter:    filter,
		Logger:    m.logger,
	})
	if err != nil {
		return status.Error(codes.Unavailable, err.Error())
	}
	err = sess.Run()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, broadcast.ErrHubClosed):
		return status.Error(codes.Unavailable, "server shutting down")
	case errors.Is(err, broadcast.ErrSlowSubscriber):
		return status.Error(codes.ResourceExhausted, "subscriber too slow")
	default:
		return err
	}
}
