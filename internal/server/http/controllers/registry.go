package controllers

import (
	"net/http"

	"github.com/rzbill/rookery/internal/runtime"
)

// ControllerRegistry manages all HTTP controllers.
//
// It provides a centralized way to register all controller routes.
type ControllerRegistry struct {
	general  *GeneralController
	ingest   *IngestController
	streams  *StreamsController
	penguins *PenguinsController
	reports  *ReportsController
}

// NewControllerRegistry creates a new controller registry.
func NewControllerRegistry(rt *runtime.Runtime) *ControllerRegistry {
	return &ControllerRegistry{
		general:  NewGeneralController(rt),
		ingest:   NewIngestController(rt),
		streams:  NewStreamsController(rt),
		penguins: NewPenguinsController(rt),
		reports:  NewReportsController(rt),
	}
}

// RegisterAllRoutes registers all controller routes with the given mux.
//
// This sets up health, ingest, live streaming (SSE and WebSocket), the
// per-penguin query endpoints and the reports.
func (r *ControllerRegistry) RegisterAllRoutes(mux *http.ServeMux) {
	r.general.RegisterRoutes(mux)
	r.ingest.RegisterRoutes(mux)
	r.streams.RegisterRoutes(mux)
	r.penguins.RegisterRoutes(mux)
	r.reports.RegisterRoutes(mux)
}
