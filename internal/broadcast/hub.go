package broadcast

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	logpkg "github.com/rzbill/rookery/pkg/log"
)

// OverflowPolicy decides what happens when a bounded subscriber queue is full.
type OverflowPolicy int

const (
	// DropOldest evicts the head of the queue to make room.
	DropOldest OverflowPolicy = iota
	// Disconnect removes the subscriber; its session closes and the client
	// is expected to reconnect and re-sync with a pull query.
	Disconnect
)

func (p OverflowPolicy) String() string {
	if p == Disconnect {
		return "disconnect"
	}
	return "drop-oldest"
}

// ParseOverflowPolicy maps drop-oldest|disconnect to a policy.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "drop-oldest", "":
		return DropOldest, nil
	case "disconnect":
		return Disconnect, nil
	default:
		return DropOldest, fmt.Errorf("broadcast: unknown overflow policy %q", s)
	}
}

// Event is one published payload as seen by a subscriber.
type Event struct {
	// ID increases by one for every Publish on the hub.
	ID   uint64
	Data []byte
}

// Observer receives hub activity for metrics.
type Observer interface {
	SubscriberAdded(active int)
	SubscriberRemoved(active int, reason string)
	Published(subscribers int)
	Dropped()
}

type noopObserver struct{}

func (noopObserver) SubscriberAdded(int)           {}
func (noopObserver) SubscriberRemoved(int, string) {}
func (noopObserver) Published(int)                 {}
func (noopObserver) Dropped()                      {}

// Options configures a Hub.
type Options struct {
	// QueueDepth bounds every subscriber queue; 0 means unbounded.
	QueueDepth int
	Overflow   OverflowPolicy
	Logger     logpkg.Logger
	Observer   Observer
}

// Hub is the subscriber registry and broadcast dispatcher. One mutex guards
// membership, every subscriber queue and the event counter, so a publish
// never observes a half-registered or half-removed subscriber.
type Hub struct {
	mu     sync.Mutex
	subs   map[*Subscriber]struct{}
	lastID uint64
	closed bool

	depth    int
	overflow OverflowPolicy
	logger   logpkg.Logger
	observer Observer
}

// NewHub creates an empty hub.
func NewHub(opts Options) *Hub {
	if opts.QueueDepth < 0 {
		opts.QueueDepth = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger(logpkg.WithLevel(logpkg.InfoLevel))
	}
	obs := opts.Observer
	if obs == nil {
		obs = noopObserver{}
	}
	return &Hub{
		subs:     make(map[*Subscriber]struct{}),
		depth:    opts.QueueDepth,
		overflow: opts.Overflow,
		logger:   logger.With(logpkg.Component("broadcast")),
		observer: obs,
	}
}

// Register adds a new subscriber. It receives every event published after
// Register returns and none published before.
func (h *Hub) Register() (*Subscriber, error) {
	sub := &Subscriber{
		id:          uuid.NewString(),
		connectedAt: time.Now(),
		hub:         h,
		notify:      make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	h.subs[sub] = struct{}{}
	active := len(h.subs)
	h.mu.Unlock()

	h.observer.SubscriberAdded(active)
	h.logger.Debug("subscriber registered", logpkg.Str("subscriber_id", sub.id), logpkg.Int("active", active))
	return sub, nil
}

// Unregister removes sub. It is idempotent and safe to call concurrently
// with Publish.
func (h *Hub) Unregister(sub *Subscriber) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	removed := h.removeLocked(sub, nil)
	active := len(h.subs)
	h.mu.Unlock()
	if removed {
		h.observer.SubscriberRemoved(active, "unregistered")
		h.logger.Debug("subscriber unregistered",
			logpkg.Str("subscriber_id", sub.id),
			logpkg.Int("active", active),
			logpkg.Dur("connected_for", time.Since(sub.connectedAt)),
		)
	}
}

// removeLocked detaches sub and closes its done channel. Caller holds h.mu.
func (h *Hub) removeLocked(sub *Subscriber, reason error) bool {
	if _, ok := h.subs[sub]; !ok {
		return false
	}
	delete(h.subs, sub)
	sub.err = reason
	sub.queue = nil
	close(sub.done)
	return true
}

// Publish appends a private copy of data to every registered subscriber's
// queue and returns the assigned event id and the number of subscribers it
// reached. It never blocks on a subscriber. With no subscribers it is a
// no-op apart from consuming an id.
func (h *Hub) Publish(data []byte) (uint64, int, error) {
	var evicted []*Subscriber
	var dropped int

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return 0, 0, ErrHubClosed
	}
	h.lastID++
	id := h.lastID
	for sub := range h.subs {
		ev := Event{ID: id, Data: append([]byte(nil), data...)}
		if h.depth > 0 && len(sub.queue) >= h.depth {
			if h.overflow == Disconnect {
				h.removeLocked(sub, ErrSlowSubscriber)
				evicted = append(evicted, sub)
				continue
			}
			sub.queue[0] = Event{}
			sub.queue = sub.queue[1:]
			sub.dropped++
			dropped++
		}
		sub.queue = append(sub.queue, ev)
		select {
		case sub.notify <- struct{}{}:
		default:
		}
	}
	reached := len(h.subs)
	active := len(h.subs)
	h.mu.Unlock()

	h.observer.Published(reached)
	for i := 0; i < dropped; i++ {
		h.observer.Dropped()
	}
	for _, sub := range evicted {
		h.observer.SubscriberRemoved(active, "overflow")
		h.logger.Warn("subscriber evicted: queue full",
			logpkg.Str("subscriber_id", sub.id),
			logpkg.Int("queue_depth", h.depth),
		)
	}
	return id, reached, nil
}

// Len returns the number of registered subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// LastEventID returns the id of the most recent publish.
func (h *Hub) LastEventID() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastID
}

// Close removes every subscriber with ErrHubClosed and rejects further
// Register and Publish calls.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	n := len(h.subs)
	for sub := range h.subs {
		h.removeLocked(sub, ErrHubClosed)
	}
	h.mu.Unlock()
	for i := 0; i < n; i++ {
		h.observer.SubscriberRemoved(n-i-1, "shutdown")
	}
	h.logger.Info("hub closed", logpkg.Int("subscribers", n))
}
