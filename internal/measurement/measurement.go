package measurement

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Layouts of the wire date and time fields.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
	// CaptureLayout names stored images: <subject>_<capture>.jpg.
	CaptureLayout = "20060102-150405"
)

// Measurement is one weighing of one subject. It is immutable once built.
type Measurement struct {
	SubjectID string  `msgpack:"s" json:"id"`
	Weight    float64 `msgpack:"w" json:"weight"`
	Date      string  `msgpack:"d" json:"date"`
	Time      string  `msgpack:"t" json:"time"`
	ImageRef  string  `msgpack:"i" json:"imageUrl"`
}

// Timestamp combines Date and Time in UTC.
func (m Measurement) Timestamp() (time.Time, error) {
	return time.Parse(DateLayout+" "+TimeLayout, m.Date+" "+m.Time)
}

// Record is the ingest-side view of a measurement before defaults are
// applied. Weight is a pointer so that a missing value can be told apart
// from zero.
type Record struct {
	SubjectID string   `json:"subject_id,omitempty"`
	Weight    *float64 `json:"weight"`
	Date      string   `json:"date,omitempty"`
	Time      string   `json:"time,omitempty"`
}

// UnmarshalJSON accepts weight as a JSON number or a numeric string.
func (r *Record) UnmarshalJSON(b []byte) error {
	type plain Record
	aux := struct {
		*plain
		Weight json.RawMessage `json:"weight"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	w, err := parseWeight(aux.Weight)
	if err != nil {
		return err
	}
	r.Weight = w
	return nil
}

func parseWeight(raw json.RawMessage) (*float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, &ValidationError{Field: "weight", Reason: "malformed string"}
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, &ValidationError{Field: "weight", Reason: fmt.Sprintf("%q is not a number", s)}
		}
		return &f, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, &ValidationError{Field: "weight", Reason: "must be a number"}
	}
	return &f, nil
}

// ParseRecord decodes a JSON metadata document. Unknown fields are ignored.
func ParseRecord(raw []byte) (Record, error) {
	var r Record
	if len(bytes.TrimSpace(raw)) == 0 {
		return r, &ValidationError{Field: "metadata", Reason: "not received"}
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			return Record{}, ve
		}
		return Record{}, &ValidationError{Field: "metadata", Reason: "malformed JSON: " + err.Error()}
	}
	return r, nil
}

// Build applies defaults and validates the record. An empty subject falls
// back to defaultSubject; an empty date or time falls back to now.
func (r Record) Build(defaultSubject string, now time.Time) (Measurement, error) {
	m := Measurement{
		SubjectID: strings.TrimSpace(r.SubjectID),
		Date:      strings.TrimSpace(r.Date),
		Time:      strings.TrimSpace(r.Time),
	}
	if m.SubjectID == "" {
		m.SubjectID = strings.TrimSpace(defaultSubject)
	}
	if r.Weight == nil {
		return Measurement{}, &ValidationError{Field: "weight", Reason: "missing"}
	}
	m.Weight = *r.Weight
	if m.Date == "" {
		m.Date = now.Format(DateLayout)
	}
	if m.Time == "" {
		m.Time = now.Format(TimeLayout)
	}
	if err := Validate(m); err != nil {
		return Measurement{}, err
	}
	return m, nil
}

// Validate checks the invariants every persisted measurement holds. The
// image reference is not checked; it is attached after validation.
func Validate(m Measurement) error {
	if err := ValidateSubjectID(m.SubjectID); err != nil {
		return err
	}
	if math.IsNaN(m.Weight) || math.IsInf(m.Weight, 0) {
		return &ValidationError{Field: "weight", Reason: "must be a finite number"}
	}
	if m.Weight <= 0 {
		return &ValidationError{Field: "weight", Reason: fmt.Sprintf("must be positive, got %v", m.Weight)}
	}
	if _, err := time.Parse(DateLayout, m.Date); err != nil {
		return &ValidationError{Field: "date", Reason: fmt.Sprintf("%q is not YYYY-MM-DD", m.Date)}
	}
	if _, err := time.Parse(TimeLayout, m.Time); err != nil {
		return &ValidationError{Field: "time", Reason: fmt.Sprintf("%q is not HH:MM:SS", m.Time)}
	}
	return nil
}

// ValidateSubjectID checks that id can be stored as a key and used as the
// prefix of an image file name.
func ValidateSubjectID(id string) error {
	switch {
	case id == "":
		return &ValidationError{Field: "subject_id", Reason: "must not be empty"}
	case strings.IndexFunc(id, unicode.IsControl) >= 0 || strings.ContainsAny(id, "/\\"):
		return &ValidationError{Field: "subject_id", Reason: "must not contain control characters or path separators"}
	case strings.HasPrefix(id, "."):
		return &ValidationError{Field: "subject_id", Reason: "must not start with a dot"}
	}
	return nil
}

// ImageName is the stored file name for an image captured at t.
func ImageName(subjectID string, t time.Time) string {
	return subjectID + "_" + t.Format(CaptureLayout) + ".jpg"
}
