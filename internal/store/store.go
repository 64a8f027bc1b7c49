package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rzbill/rookery/internal/measurement"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("store: not found")

// PersistenceError wraps a failed durable write or read. Ingest aborts
// before broadcasting when InsertMeasurement returns one.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("store: %s: %v", e.Op, e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }

// Wrap returns nil for a nil err and a *PersistenceError otherwise.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// Point is one measurement of a known subject.
type Point struct {
	Weight float64 `json:"weight"`
	Date   string  `json:"date"`
	Time   string  `json:"time"`
}

// GlobalPoint is one measurement in the colony-wide feed.
type GlobalPoint struct {
	ID     string  `json:"id"`
	Weight float64 `json:"weight"`
	Date   string  `json:"date"`
	Time   string  `json:"time"`
}

// DetailPoint is a measurement with its image.
type DetailPoint struct {
	Weight   float64 `json:"weight"`
	Date     string  `json:"date"`
	Time     string  `json:"time"`
	ImageURL string  `json:"image_url"`
}

// MetadataField is a free-form note attached to a subject.
type MetadataField struct {
	FieldName  string `json:"field_name" msgpack:"n"`
	FieldValue string `json:"field_value" msgpack:"v"`
}

// Details is a subject's notes plus its latest measurements.
type Details struct {
	Metadata     []MetadataField `json:"metadata"`
	Measurements []DetailPoint   `json:"measurements"`
}

// SubjectRef names a subject in search results.
type SubjectRef struct {
	ID string `json:"id"`
}

// Weight statuses.
const (
	StatusUnderweight = "underweight"
	StatusOverweight  = "overweight"
	StatusNormal      = "normal"
)

// ReportRow is the latest measurement of one subject with its rolling
// average and status.
type ReportRow struct {
	PenguinID     string   `json:"penguin_id"`
	LastSeen      string   `json:"last_seen"`
	Time          string   `json:"time"`
	CurrentWeight float64  `json:"current_weight"`
	AvgWeight7d   *float64 `json:"avg_weight_7d"`
	Status        string   `json:"status"`
	Comments      *string  `json:"comments"`
}

// Extreme is the heaviest or lightest recorded measurement.
type Extreme struct {
	ID     string  `json:"id,omitempty"`
	Weight float64 `json:"weight,omitempty"`
}

// Summary aggregates the whole colony.
type Summary struct {
	TotalPenguins int      `json:"total_penguins"`
	AvgWeight7d   float64  `json:"avg_weight_7d"`
	Heaviest      *Extreme `json:"heaviest"`
	Lightest      *Extreme `json:"lightest"`
}

// MarshalJSON encodes a missing heaviest or lightest entry as {}.
func (s Summary) MarshalJSON() ([]byte, error) {
	type plain Summary
	out := struct {
		plain
		Heaviest *Extreme `json:"heaviest"`
		Lightest *Extreme `json:"lightest"`
	}{plain: plain(s), Heaviest: s.Heaviest, Lightest: s.Lightest}
	if out.Heaviest == nil {
		out.Heaviest = &Extreme{}
	}
	if out.Lightest == nil {
		out.Lightest = &Extreme{}
	}
	return json.Marshal(out)
}

// ReportQuery parameterises ReportTable and Summary.
type ReportQuery struct {
	// Status keeps only rows with this status; empty keeps all.
	Status string
	// Since is the first date (YYYY-MM-DD) included in rolling averages.
	Since         string
	UnderweightKg float64
	OverweightKg  float64
}

// ParseStatusFilter maps the report table filter parameter to a status.
// "id", "" and "all" mean no filtering.
func ParseStatusFilter(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "id", "all":
		return "", nil
	case StatusUnderweight:
		return StatusUnderweight, nil
	case StatusOverweight:
		return StatusOverweight, nil
	case StatusNormal:
		return StatusNormal, nil
	default:
		return "", fmt.Errorf("unknown filter %q", s)
	}
}

// StatusOf classifies a weight against the query thresholds.
func (q ReportQuery) StatusOf(weight float64) string {
	switch {
	case weight < q.UnderweightKg:
		return StatusUnderweight
	case weight > q.OverweightKg:
		return StatusOverweight
	default:
		return StatusNormal
	}
}

// Gateway is the persistence boundary. InsertMeasurement is the only call
// on the ingest path; everything else serves pull queries and reports.
type Gateway interface {
	InsertMeasurement(ctx context.Context, m measurement.Measurement) error

	// Recent returns the subject's newest measurements, newest first, or
	// ErrNotFound when it has none.
	Recent(ctx context.Context, subjectID string, limit int) ([]Point, error)
	LatestGlobal(ctx context.Context, limit int) ([]GlobalPoint, error)
	Details(ctx context.Context, subjectID string, limit int) (Details, error)
	Search(ctx context.Context, q string, limit int) ([]SubjectRef, error)
	AddMetadata(ctx context.Context, subjectID string, f MetadataField) error
	ReportTable(ctx context.Context, q ReportQuery) ([]ReportRow, error)
	Summary(ctx context.Context, q ReportQuery) (Summary, error)

	// CurrentSubject returns the persisted default subject, or ErrNotFound.
	CurrentSubject(ctx context.Context) (string, error)
	SetCurrentSubject(ctx context.Context, id string) error

	Ping(ctx context.Context) error
	Close() error
}
