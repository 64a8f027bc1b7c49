// Package metrics exports Prometheus collectors for ingest, the broadcast
// hub, HTTP routes and the storage engine.
package metrics
