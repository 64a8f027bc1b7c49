package grpcserver

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	rookeryv1 "github.com/rzbill/rookery/api/rookery/v1"
	"github.com/rzbill/rookery/internal/runtime"
	logpkg "github.com/rzbill/rookery/pkg/log"
)

// Server owns the gRPC server instance and runtime.
type Server struct {
	rt     *runtime.Runtime
	grpc   *grpc.Server
	lis    net.Listener
	logger logpkg.Logger
}

// New constructs a gRPC server and registers services. Transport keepalive
// pings detect dead subscribers between measurements.
func New(rt *runtime.Runtime, opts ...grpc.ServerOption) *Server {
	logger := rt.Logger().WithComponent("grpc")
	gm := rt.Metrics().GRPC()
	base := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(loggingUnaryInterceptor(logger), gm.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(loggingStreamInterceptor(logger), gm.StreamServerInterceptor()),
	}
	if ka := rt.Keepalive(); ka > 0 {
		base = append(base, grpc.KeepaliveParams(keepalive.ServerParameters{Time: ka, Timeout: 10 * time.Second}))
	}
	s := &Server{rt: rt, grpc: grpc.NewServer(append(base, opts...)...), logger: logger}
	rookeryv1.RegisterHealthServer(s.grpc, &healthSvc{rt: rt})
	rookeryv1.RegisterMeasurementsServer(s.grpc, &measurementsSvc{rt: rt, logger: s.logger})
	gm.InitializeMetrics(s.grpc)
	return s
}

// ListenAndServe binds to addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	errCh := make(chan error, 1)
	go func() { errCh <- s.grpc.Serve(l) }()
	select {
	case <-ctx.Done():
		s.stop()
		return nil
	case err := <-errCh:
		return err
	}
}

// stop drains unary calls; open Subscribe streams end when the runtime
// closes the hub, so GracefulStop is bounded by a hard stop.
func (s *Server) stop() {
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.logger.Warn("grpc graceful stop timed out")
		s.grpc.Stop()
	}
}

// Close stops the server and closes the listener.
func (s *Server) Close() {
	if s.grpc != nil {
		s.stop()
	}
	if s.lis != nil {
		_ = s.lis.Close()
	}
}
