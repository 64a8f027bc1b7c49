// Package grpcserver hosts the gRPC server for Rookery, registering the
// Health and Measurements services defined in api/rookery/v1. A Subscribe
// call is a broadcast session like an SSE or WebSocket connection.
//
// Example:
//
//	rt, _ := runtime.Open(runtime.Options{DataDir: "./data", Fsync: pebblestore.FsyncModeAlways, Config: config.Default()})
//	s := grpcserver.New(rt)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":50051")
package grpcserver
