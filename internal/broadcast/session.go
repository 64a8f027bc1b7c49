package broadcast

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	logpkg "github.com/rzbill/rookery/pkg/log"
)

// State is the lifecycle position of a Session.
type State int32

const (
	StateOpen State = iota
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Sink is implemented by transports to deliver events to one client.
type Sink interface {
	Send(Event) error
	Context() context.Context
	Flush() error
}

// Pinger is implemented by sinks that can emit a keepalive. A failed ping is
// treated like a failed Send.
type Pinger interface {
	Ping() error
}

// SessionOptions tunes a session.
type SessionOptions struct {
	// Transport names the sink in logs and errors, e.g. "sse".
	Transport string
	// Keepalive is the idle interval between pings; 0 disables pings.
	Keepalive time.Duration
	// Filter skips events it rejects; nil passes everything.
	Filter *Filter
	Logger logpkg.Logger
}

// Session streams one subscriber's queue to one Sink:
// OPEN (registered) -> STREAMING (Run) -> CLOSED (unregistered).
type Session struct {
	hub   *Hub
	sub   *Subscriber
	sink  Sink
	opts  SessionOptions
	state atomic.Int32

	sent    atomic.Uint64
	skipped atomic.Uint64
	logger  logpkg.Logger
}

// Open registers a subscriber and returns a session in StateOpen. Events
// published from now on are queued for it.
func (h *Hub) Open(sink Sink, opts SessionOptions) (*Session, error) {
	sub, err := h.Register()
	if err != nil {
		return nil, err
	}
	if opts.Transport == "" {
		opts.Transport = "stream"
	}
	logger := opts.Logger
	if logger == nil {
		logger = h.logger
	}
	s := &Session{
		hub:  h,
		sub:  sub,
		sink: sink,
		opts: opts,
		logger: logger.With(
			logpkg.Str("transport", opts.Transport),
			logpkg.Str("subscriber_id", sub.id),
		),
	}
	s.state.Store(int32(StateOpen))
	return s, nil
}

func (s *Session) State() State           { return State(s.state.Load()) }
func (s *Session) Subscriber() *Subscriber { return s.sub }
func (s *Session) Sent() uint64            { return s.sent.Load() }
func (s *Session) Skipped() uint64         { return s.skipped.Load() }

// Close ends the session from outside Run. It is idempotent.
func (s *Session) Close() {
	s.hub.Unregister(s.sub)
	s.state.Store(int32(StateClosed))
}

// Run emits queued events to the sink until the client goes away, a write
// fails, or the hub removes the subscriber. It always leaves the session
// CLOSED and unregistered. A client disconnect returns nil; a write failure
// returns a *TransportError; eviction and shutdown return the hub's reason.
func (s *Session) Run() error {
	if !s.state.CompareAndSwap(int32(StateOpen), int32(StateStreaming)) {
		return ErrUnregistered
	}
	defer s.Close()

	started := time.Now()
	s.logger.Info("stream session started")
	err := s.loop()
	fields := []logpkg.Field{
		logpkg.Uint64("sent", s.sent.Load()),
		logpkg.Uint64("skipped", s.skipped.Load()),
		logpkg.Dur("duration", time.Since(started)),
	}
	switch {
	case err == nil:
		s.logger.Info("stream session closed by client", fields...)
	case errors.Is(err, ErrHubClosed):
		s.logger.Info("stream session closed: shutdown", fields...)
	default:
		s.logger.Warn("stream session terminated", append(fields, logpkg.Err(err))...)
	}
	return err
}

func (s *Session) loop() error {
	ctx := s.sink.Context()

	var tick <-chan time.Time
	if s.opts.Keepalive > 0 {
		t := time.NewTicker(s.opts.Keepalive)
		defer t.Stop()
		tick = t.C
	}
	pinger, _ := s.sink.(Pinger)

	for {
		if err := s.emit(s.sub.Drain()); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-s.sub.Done():
			if err := s.sub.Err(); err != nil {
				return err
			}
			return nil
		case <-s.sub.Ready():
		case <-tick:
			if pinger == nil {
				continue
			}
			if err := pinger.Ping(); err != nil {
				return &TransportError{Transport: s.opts.Transport, Err: err}
			}
		}
	}
}

func (s *Session) emit(events []Event) error {
	if len(events) == 0 {
		return nil
	}
	wrote := false
	for _, ev := range events {
		if s.opts.Filter != nil && !s.opts.Filter.Match(ev) {
			s.skipped.Add(1)
			continue
		}
		if err := s.sink.Send(ev); err != nil {
			return &TransportError{Transport: s.opts.Transport, Err: err}
		}
		s.sent.Add(1)
		wrote = true
	}
	if !wrote {
		return nil
	}
	if err := s.sink.Flush(); err != nil {
		return &TransportError{Transport: s.opts.Transport, Err: err}
	}
	return nil
}
