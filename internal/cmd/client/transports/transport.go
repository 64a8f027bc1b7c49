// Package transports provides pluggable live-stream transports for the CLI.
package transports

import "context"

// Event is one measurement received from a live stream.
type Event struct {
	// ID is the server-assigned event id; 0 when the transport carries none.
	ID uint64
	// Data is the JSON payload.
	Data []byte
}

// TailTransport follows the live measurement stream of a Rookery node.
type TailTransport interface {
	// Tail delivers events to onEvent until ctx is done, the server ends the
	// stream, or onEvent returns an error. A cancelled ctx is not an error.
	Tail(ctx context.Context, filter string, onEvent func(Event) error) error
}
