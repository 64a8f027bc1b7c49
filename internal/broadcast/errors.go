package broadcast

import "errors"

var (
	// ErrHubClosed is returned once the hub has shut down.
	ErrHubClosed = errors.New("broadcast: hub closed")
	// ErrSlowSubscriber marks a subscriber evicted by the disconnect policy.
	ErrSlowSubscriber = errors.New("broadcast: subscriber queue overflow")
	// ErrUnregistered is returned by Next after an explicit Unregister.
	ErrUnregistered = errors.New("broadcast: subscriber unregistered")
)

// BroadcastError wraps a failure to hand a persisted measurement to the hub.
// It is logged and never surfaced to the ingesting client.
type BroadcastError struct {
	Err error
}

func (e *BroadcastError) Error() string { return "broadcast: " + e.Err.Error() }
func (e *BroadcastError) Unwrap() error { return e.Err }

// TransportError is a failed write to a session's client. It terminates that
// session only.
type TransportError struct {
	Transport string
	Err       error
}

func (e *TransportError) Error() string {
	return e.Transport + " transport: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }
