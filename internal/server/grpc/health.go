package grpcserver

import (
	"context"

	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rzbill/rookery/internal/runtime"
)

type healthSvc struct {
	rt *runtime.Runtime
}

func (h *healthSvc) Check(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	status := "ok"
	if err := h.rt.CheckHealth(ctx); err != nil {
		status = "not_serving"
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"status": structpb.NewStringValue(status),
	}}, nil
}
