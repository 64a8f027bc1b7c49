package broadcast

import (
	"context"
	"time"
)

// Subscriber is one registered consumer. Its queue lives under the hub's
// mutex; notify is a one-slot wake signal and done closes on removal.
type Subscriber struct {
	id          string
	connectedAt time.Time
	hub         *Hub

	queue   []Event
	dropped uint64
	err     error

	notify chan struct{}
	done   chan struct{}
}

func (s *Subscriber) ID() string             { return s.id }
func (s *Subscriber) ConnectedAt() time.Time { return s.connectedAt }

// Done is closed once the subscriber has been removed from the hub.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Ready receives a value after a publish reaches this subscriber.
func (s *Subscriber) Ready() <-chan struct{} { return s.notify }

// Err returns why the hub removed the subscriber: ErrSlowSubscriber,
// ErrHubClosed, or nil after a plain Unregister or while still registered.
func (s *Subscriber) Err() error {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.err
}

// Dropped reports how many events were evicted from a full queue.
func (s *Subscriber) Dropped() uint64 {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.dropped
}

// Pending reports the number of queued events.
func (s *Subscriber) Pending() int {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return len(s.queue)
}

// Drain removes and returns every queued event in publish order.
func (s *Subscriber) Drain() []Event {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if len(s.queue) == 0 {
		return nil
	}
	out := s.queue
	s.queue = nil
	return out
}

// Next blocks until an event is queued, the subscriber is removed, or ctx
// is done.
func (s *Subscriber) Next(ctx context.Context) (Event, error) {
	for {
		s.hub.mu.Lock()
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue[0] = Event{}
			s.queue = s.queue[1:]
			s.hub.mu.Unlock()
			return ev, nil
		}
		s.hub.mu.Unlock()

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-s.done:
			if err := s.Err(); err != nil {
				return Event{}, err
			}
			return Event{}, ErrUnregistered
		case <-s.notify:
		}
	}
}
