package controllers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/rzbill/rookery/internal/broadcast"
)

// sseSink implements broadcast.Sink for Server-Sent Events.
//
// Each event is written as an "id:" line carrying the hub event id followed
// by a "data:" line with the JSON payload.
type sseSink struct {
	w  http.ResponseWriter
	r  *http.Request
	rc *http.ResponseController
}

func newSSESink(w http.ResponseWriter, r *http.Request) *sseSink {
	return &sseSink{w: w, r: r, rc: http.NewResponseController(w)}
}

// Send writes one event. Payloads are single-line JSON.
func (s *sseSink) Send(ev broadcast.Event) error {
	buf := make([]byte, 0, len(ev.Data)+32)
	buf = append(buf, "id: "...)
	buf = strconv.AppendUint(buf, ev.ID, 10)
	buf = append(buf, "\ndata: "...)
	buf = append(buf, ev.Data...)
	buf = append(buf, "\n\n"...)
	_, err := s.w.Write(buf)
	return err
}

// Ping writes an SSE comment line, which clients ignore.
func (s *sseSink) Ping() error {
	if _, err := s.w.Write([]byte(": ping\n\n")); err != nil {
		return err
	}
	return s.Flush()
}

// Context returns the request context for cancellation.
func (s *sseSink) Context() context.Context {
	return s.r.Context()
}

// Flush pushes buffered events to the client.
func (s *sseSink) Flush() error {
	return s.rc.Flush()
}
