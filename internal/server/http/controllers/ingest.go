package controllers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/rzbill/rookery/internal/ingest"
	"github.com/rzbill/rookery/internal/measurement"
	"github.com/rzbill/rookery/internal/runtime"
	logpkg "github.com/rzbill/rookery/pkg/log"
)

const (
	// maxUploadBytes bounds a whole POST /penguin body.
	maxUploadBytes = 32 << 20
	// maxFormMemory is the part of a multipart body kept in memory.
	maxFormMemory = 8 << 20
)

// IngestController accepts measurements from weighing stations and lets an
// operator pick the penguin currently on the scale.
type IngestController struct {
	rt *runtime.Runtime
}

// NewIngestController creates a new ingest controller.
func NewIngestController(rt *runtime.Runtime) *IngestController {
	return &IngestController{rt: rt}
}

// RegisterRoutes registers ingest routes with the given mux.
func (c *IngestController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /penguin", c.handleIngest)
	mux.HandleFunc("POST /update-penguin-id", c.handleUpdateSubject)
}

// handleIngest accepts a multipart body with a "metadata" JSON part and an
// optional "image" file part.
//
// Returns 200 {"message":"Data received","date":...,"time":...} once the
// measurement is durable, 400 for bad input and 500 when it could not be
// stored.
func (c *IngestController) handleIngest(w http.ResponseWriter, r *http.Request) {
	log := c.rt.Logger().WithContext(r.Context()).WithComponent("http")
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	raw, err := metadataPart(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Metadata not received")
		return
	}
	rec, err := measurement.ParseRecord([]byte(raw))
	if err != nil {
		writeFailure(w, err, "Invalid metadata")
		return
	}

	var image []byte
	f, _, err := r.FormFile("image")
	switch {
	case err == nil:
		image, err = io.ReadAll(f)
		f.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, "Failed to read image")
			return
		}
	case !errors.Is(err, http.ErrMissingFile):
		writeError(w, http.StatusBadRequest, "Invalid image part")
		return
	}

	res, err := c.rt.Ingest().Ingest(r.Context(), ingest.Request{Record: rec, Image: image, Source: "http"})
	if err != nil {
		if !measurement.IsValidation(err) {
			log.Error("ingest failed", logpkg.Err(err))
		}
		writeFailure(w, err, "Internal server error")
		return
	}
	writeJSON(w, ingestResp{Message: "Data received", Date: res.Measurement.Date, Time: res.Measurement.Time})
}

// metadataPart reads the metadata JSON from a form value or, when a client
// sent it as a file, from the file part.
func metadataPart(r *http.Request) (string, error) {
	if vs := r.MultipartForm.Value["metadata"]; len(vs) > 0 && strings.TrimSpace(vs[0]) != "" {
		return vs[0], nil
	}
	f, _, err := r.FormFile("metadata")
	if err != nil {
		return "", err
	}
	defer f.Close()
	b, err := io.ReadAll(io.LimitReader(f, 1<<20))
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(string(b)) == "" {
		return "", http.ErrMissingFile
	}
	return string(b), nil
}

// handleUpdateSubject selects the penguin attributed to measurements that
// do not name one.
//
// Expects {"id": "..."}; returns 400 when the id is missing.
func (c *IngestController) handleUpdateSubject(w http.ResponseWriter, r *http.Request) {
	var req updateSubjectReq
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.ID) == "" {
		writeError(w, http.StatusBadRequest, "Missing 'id' in request")
		return
	}
	if err := c.rt.Subject().Set(r.Context(), req.ID); err != nil {
		if !measurement.IsValidation(err) {
			c.rt.Logger().WithContext(r.Context()).Error("update current subject failed", logpkg.Err(err))
		}
		writeFailure(w, err, "Failed to update penguin id")
		return
	}
	writeJSON(w, messageResp{Message: "Penguin ID updated to " + c.rt.Subject().Current()})
}
