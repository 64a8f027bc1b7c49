package grpcserver

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	logpkg "github.com/rzbill/rookery/pkg/log"
)

func loggingUnaryInterceptor(logger logpkg.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		fields := []logpkg.Field{
			logpkg.Str("method", info.FullMethod),
			logpkg.Dur("duration", time.Since(start)),
		}
		if err != nil {
			logger.Warn("grpc call failed", append(fields, logpkg.Str("code", status.Code(err).String()), logpkg.Err(err))...)
		} else {
			logger.Debug("grpc call completed", fields...)
		}
		return resp, err
	}
}

// loggingStreamInterceptor logs when a stream ends; Subscribe streams live
// as long as the client stays connected.
func loggingStreamInterceptor(logger logpkg.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		fields := []logpkg.Field{
			logpkg.Str("method", info.FullMethod),
			logpkg.Dur("duration", time.Since(start)),
			logpkg.Str("code", status.Code(err).String()),
		}
		if err != nil {
			logger.Info("grpc stream ended", append(fields, logpkg.Err(err))...)
		} else {
			logger.Debug("grpc stream ended", fields...)
		}
		return err
	}
}
