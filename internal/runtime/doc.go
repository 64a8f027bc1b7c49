// Package runtime wires storage, config, the broadcast hub and the ingest
// path into a single-node Rookery instance. Transports (HTTP, gRPC, MQTT)
// take a *Runtime and use its accessors.
//
// Example:
//
//	cfg := config.Default()
//	rt, _ := runtime.Open(runtime.Options{DataDir: "./data", Fsync: pebblestore.FsyncModeAlways, Config: cfg})
//	defer rt.Close()
//	_ = rt.CheckHealth(context.Background())
//	w := 5.2
//	_, _ = rt.Ingest().Ingest(context.Background(), ingest.Request{Record: measurement.Record{Weight: &w}})
package runtime
