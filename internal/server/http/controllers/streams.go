package controllers

import (
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/rzbill/rookery/internal/broadcast"
	"github.com/rzbill/rookery/internal/runtime"
	logpkg "github.com/rzbill/rookery/pkg/log"
)

// StreamsController serves live measurement streams.
//
// Every connection opens a broadcast session: it receives each measurement
// ingested after it connected, optionally narrowed by a CEL filter given in
// the "filter" query parameter.
type StreamsController struct {
	rt *runtime.Runtime
}

// NewStreamsController creates a new streams controller.
func NewStreamsController(rt *runtime.Runtime) *StreamsController {
	return &StreamsController{rt: rt}
}

// RegisterRoutes registers streaming routes with the given mux.
func (c *StreamsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /stream", c.handleSSE)
	mux.HandleFunc("GET /ws", c.handleWebSocket)
}

func (c *StreamsController) sessionOptions(r *http.Request, transport string) (broadcast.SessionOptions, error) {
	filter, err := broadcast.NewFilter(r.URL.Query().Get("filter"))
	if err != nil {
		return broadcast.SessionOptions{}, err
	}
	return broadcast.SessionOptions{
		Transport: transport,
		Keepalive: c.rt.Keepalive(),
		Filter:    filter,
		Logger:    c.rt.Logger().WithContext(r.Context()).WithComponent("stream"),
	}, nil
}

// handleSSE streams measurements as Server-Sent Events until the client
// disconnects.
func (c *StreamsController) handleSSE(w http.ResponseWriter, r *http.Request) {
	opts, err := c.sessionOptions(r, "sse")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sink := newSSESink(w, r)
	sess, err := c.rt.Hub().Open(sink, opts)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Server shutting down")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := sink.Flush(); err != nil {
		sess.Close()
		return
	}
	_ = sess.Run()
}

// handleWebSocket streams measurements as WebSocket text frames. A session
// ended by the server is reported with a close frame.
func (c *StreamsController) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	opts, err := c.sessionOptions(r, "websocket")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		return
	}
	sink := newWSSink(r.Context(), conn)
	sess, err := c.rt.Hub().Open(sink, opts)
	if err != nil {
		sink.close(websocket.CloseGoingAway, "server shutting down")
		return
	}

	err = sess.Run()
	switch {
	case err == nil:
		sink.close(websocket.CloseNormalClosure, "")
	case errors.Is(err, broadcast.ErrHubClosed):
		sink.close(websocket.CloseGoingAway, "server shutting down")
	case errors.Is(err, broadcast.ErrSlowSubscriber):
		sink.close(websocket.CloseTryAgainLater, "too slow")
	default:
		opts.Logger.Debug("websocket closed", logpkg.Err(err))
		_ = conn.Close()
	}
}
