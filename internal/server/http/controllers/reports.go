package controllers

import (
	"net/http"

	"github.com/rzbill/rookery/internal/runtime"
	"github.com/rzbill/rookery/internal/store"
	logpkg "github.com/rzbill/rookery/pkg/log"
)

// ReportsController serves colony-wide weight reports.
type ReportsController struct {
	rt *runtime.Runtime
}

// NewReportsController creates a new reports controller.
func NewReportsController(rt *runtime.Runtime) *ReportsController {
	return &ReportsController{rt: rt}
}

// RegisterRoutes registers report routes with the given mux.
func (c *ReportsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /reports/table", c.handleTable)
	mux.HandleFunc("GET /reports/summary", c.handleSummary)
}

// handleTable returns one row per penguin, newest first. The "filter"
// parameter keeps one status (underweight, overweight, normal); "id" or no
// filter keeps all.
func (c *ReportsController) handleTable(w http.ResponseWriter, r *http.Request) {
	status, err := store.ParseStatusFilter(r.URL.Query().Get("filter"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := c.rt.Store().ReportTable(r.Context(), c.rt.ReportQuery(status))
	if err != nil {
		c.rt.Logger().WithContext(r.Context()).Error("report table failed", logpkg.Err(err))
		writeError(w, http.StatusInternalServerError, "Failed to fetch table data")
		return
	}
	if rows == nil {
		rows = []store.ReportRow{}
	}
	writeJSON(w, rows)
}

func (c *ReportsController) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := c.rt.Store().Summary(r.Context(), c.rt.ReportQuery(""))
	if err != nil {
		c.rt.Logger().WithContext(r.Context()).Error("report summary failed", logpkg.Err(err))
		writeError(w, http.StatusInternalServerError, "Failed to fetch summary stats")
		return
	}
	writeJSON(w, sum)
}
