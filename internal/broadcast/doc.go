// Package broadcast fans newly persisted measurements out to live stream
// clients.
//
// A Hub is both the subscriber registry and the dispatcher: Register,
// Unregister and Publish serialise on one mutex, each subscriber owns a
// bounded FIFO of events, and Publish only appends, so a slow client can
// never stall ingestion. When a queue is full the configured OverflowPolicy
// either drops the oldest event or disconnects the subscriber.
//
// A Session binds one subscriber to one transport Sink (SSE, WebSocket,
// gRPC) and moves through OPEN, STREAMING and CLOSED. Sessions never retry
// a failed write; the client reconnects and re-syncs through a pull query.
package broadcast
