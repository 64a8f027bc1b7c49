package controllers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rzbill/rookery/internal/measurement"
	"github.com/rzbill/rookery/internal/runtime"
	"github.com/rzbill/rookery/internal/store"
	logpkg "github.com/rzbill/rookery/pkg/log"
)

// PenguinsController serves pull queries over stored measurements. Clients
// use them to catch up after a stream disconnect.
type PenguinsController struct {
	rt *runtime.Runtime
}

// NewPenguinsController creates a new penguins controller.
func NewPenguinsController(rt *runtime.Runtime) *PenguinsController {
	return &PenguinsController{rt: rt}
}

// RegisterRoutes registers query routes with the given mux.
func (c *PenguinsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/latest-global-measurements", c.handleLatestGlobal)
	mux.HandleFunc("GET /api/penguin/search", c.handleSearch)
	mux.HandleFunc("GET /api/penguin/{id}/recent", c.handleRecent)
	mux.HandleFunc("GET /api/penguin/{id}/specific", c.handleDetails)
	mux.HandleFunc("POST /api/penguin/{id}/metadata", c.handleAddMetadata)
}

func (c *PenguinsController) logFailure(r *http.Request, msg string, err error) {
	c.rt.Logger().WithContext(r.Context()).WithComponent("http").Error(msg,
		logpkg.Str("path", r.URL.Path),
		logpkg.Err(err),
	)
}

// handleRecent returns the penguin's newest measurements, or 404 when it
// has none.
func (c *PenguinsController) handleRecent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	pts, err := c.rt.Store().Recent(r.Context(), id, c.rt.Config().Query.RecentLimit)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Penguin not found")
		return
	}
	if err != nil {
		c.logFailure(r, "recent query failed", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, pts)
}

// handleLatestGlobal returns the colony's newest measurements across all
// penguins; an empty array when nothing was recorded yet.
func (c *PenguinsController) handleLatestGlobal(w http.ResponseWriter, r *http.Request) {
	pts, err := c.rt.Store().LatestGlobal(r.Context(), c.rt.Config().Query.GlobalLimit)
	if err != nil {
		c.logFailure(r, "latest global query failed", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch recent measurements")
		return
	}
	if pts == nil {
		pts = []store.GlobalPoint{}
	}
	writeJSON(w, pts)
}

// handleDetails returns a penguin's notes and newest measurements with
// images. A penguin with no measurements yields an empty array.
func (c *PenguinsController) handleDetails(w http.ResponseWriter, r *http.Request) {
	d, err := c.rt.Store().Details(r.Context(), r.PathValue("id"), c.rt.Config().Query.DetailLimit)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		c.logFailure(r, "details query failed", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if len(d.Measurements) == 0 {
		writeJSON(w, []any{})
		return
	}
	if d.Metadata == nil {
		d.Metadata = []store.MetadataField{}
	}
	writeJSON(w, d)
}

// handleSearch returns up to the search limit of penguin ids containing q.
func (c *PenguinsController) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	refs, err := c.rt.Store().Search(r.Context(), q, c.rt.Config().Query.SearchLimit)
	if err != nil {
		c.logFailure(r, "search failed", err)
		writeError(w, http.StatusInternalServerError, "Failed to search penguins")
		return
	}
	if refs == nil {
		refs = []store.SubjectRef{}
	}
	writeJSON(w, refs)
}

// handleAddMetadata attaches a note to a penguin.
//
// Expects {"field_name": ..., "field_value": ...}; returns 201
// {"status":"success"}.
func (c *PenguinsController) handleAddMetadata(w http.ResponseWriter, r *http.Request) {
	var req metadataReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.FieldName) == "" {
		writeError(w, http.StatusBadRequest, "Missing 'field_name' in request")
		return
	}
	id := r.PathValue("id")
	if err := measurement.ValidateSubjectID(id); err != nil {
		writeFailure(w, err, "Invalid penguin id")
		return
	}
	f := store.MetadataField{FieldName: strings.TrimSpace(req.FieldName), FieldValue: req.FieldValue}
	if err := c.rt.Store().AddMetadata(r.Context(), id, f); err != nil {
		c.logFailure(r, "add metadata failed", err)
		writeError(w, http.StatusInternalServerError, "Failed to add metadata")
		return
	}
	writeCreated(w, statusResp{Status: "success"})
}
