package kvstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rzbill/rookery/internal/measurement"
	"github.com/rzbill/rookery/internal/store"
	pebblestore "github.com/rzbill/rookery/internal/storage/pebble"
	logpkg "github.com/rzbill/rookery/pkg/log"
)

// Store is the Pebble-backed persistence gateway.
type Store struct {
	db     *pebblestore.DB
	logger logpkg.Logger

	// mu serialises sequence allocation and the batch that consumes it.
	mu  sync.Mutex
	seq uint64
}

var _ store.Gateway = (*Store)(nil)

// New wraps an open database. The database stays owned by the caller.
func New(db *pebblestore.DB, logger logpkg.Logger) (*Store, error) {
	if logger == nil {
		logger = logpkg.NewLogger(logpkg.WithLevel(logpkg.InfoLevel))
	}
	s := &Store{db: db, logger: logger.With(logpkg.Component("kvstore"))}
	b, err := db.Get(keySeq)
	switch {
	case err == nil && len(b) == 8:
		s.seq = binary.BigEndian.Uint64(b)
	case err == nil:
		return nil, fmt.Errorf("kvstore: sequence key has %d bytes", len(b))
	case !errors.Is(err, pebblestore.ErrNotFound):
		return nil, fmt.Errorf("kvstore: load sequence: %w", err)
	}
	return s, nil
}

// InsertMeasurement writes the measurement and its indexes in one batch.
func (s *Store) InsertMeasurement(ctx context.Context, m measurement.Measurement) error {
	ts, err := m.Timestamp()
	if err != nil {
		return store.Wrap("insert measurement", err)
	}
	val, err := encodeValue(m)
	if err != nil {
		return store.Wrap("insert measurement", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.seq + 1

	b := s.db.NewBatch()
	defer b.Close()
	_ = b.Set(KeyByTime(ts, seq), val, nil)
	_ = b.Set(KeyBySubject(m.SubjectID, ts, seq), val, nil)
	_ = b.Set(KeySubject(m.SubjectID), nil, nil)
	_ = b.Set(keySeq, appendBE8(nil, seq), nil)
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return store.Wrap("insert measurement", err)
	}
	s.seq = seq
	s.logger.Debug("measurement stored",
		logpkg.Str("subject_id", m.SubjectID),
		logpkg.Uint64("seq", seq),
	)
	return nil
}

// scanMeasurements visits measurements newest first under prefix, stopping
// after limit rows when limit > 0.
func (s *Store) scanMeasurements(prefix []byte, limit int, fn func(measurement.Measurement)) error {
	var decodeErr error
	n := 0
	err := s.db.ScanPrefix(prefix, true, func(_, v []byte) bool {
		var m measurement.Measurement
		if decodeErr = decodeValue(v, &m); decodeErr != nil {
			return false
		}
		fn(m)
		n++
		return limit <= 0 || n < limit
	})
	if err != nil {
		return err
	}
	return decodeErr
}

func (s *Store) Recent(ctx context.Context, subjectID string, limit int) ([]store.Point, error) {
	var out []store.Point
	err := s.scanMeasurements(PrefixBySubject(subjectID), limit, func(m measurement.Measurement) {
		out = append(out, store.Point{Weight: m.Weight, Date: m.Date, Time: m.Time})
	})
	if err != nil {
		return nil, store.Wrap("recent", err)
	}
	if len(out) == 0 {
		return nil, store.ErrNotFound
	}
	return out, nil
}

func (s *Store) LatestGlobal(ctx context.Context, limit int) ([]store.GlobalPoint, error) {
	out := []store.GlobalPoint{}
	err := s.scanMeasurements(byTimePrefix, limit, func(m measurement.Measurement) {
		out = append(out, store.GlobalPoint{ID: m.SubjectID, Weight: m.Weight, Date: m.Date, Time: m.Time})
	})
	if err != nil {
		return nil, store.Wrap("latest global", err)
	}
	return out, nil
}

func (s *Store) metadata(subjectID string) ([]store.MetadataField, error) {
	out := []store.MetadataField{}
	var decodeErr error
	err := s.db.ScanPrefix(PrefixMetadata(subjectID), false, func(_, v []byte) bool {
		var f store.MetadataField
		if decodeErr = decodeValue(v, &f); decodeErr != nil {
			return false
		}
		out = append(out, f)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, decodeErr
}

func (s *Store) Details(ctx context.Context, subjectID string, limit int) (store.Details, error) {
	meta, err := s.metadata(subjectID)
	if err != nil {
		return store.Details{}, store.Wrap("details", err)
	}
	d := store.Details{Metadata: meta, Measurements: []store.DetailPoint{}}
	err = s.scanMeasurements(PrefixBySubject(subjectID), limit, func(m measurement.Measurement) {
		d.Measurements = append(d.Measurements, store.DetailPoint{Weight: m.Weight, Date: m.Date, Time: m.Time, ImageURL: m.ImageRef})
	})
	if err != nil {
		return store.Details{}, store.Wrap("details", err)
	}
	return d, nil
}

// Search matches subject ids containing q, case-insensitively, in id order.
func (s *Store) Search(ctx context.Context, q string, limit int) ([]store.SubjectRef, error) {
	needle := strings.ToLower(q)
	out := []store.SubjectRef{}
	err := s.db.ScanPrefix(subjectPrefix, false, func(k, _ []byte) bool {
		id := string(k[len(subjectPrefix):])
		if strings.Contains(strings.ToLower(id), needle) {
			out = append(out, store.SubjectRef{ID: id})
		}
		return limit <= 0 || len(out) < limit
	})
	if err != nil {
		return nil, store.Wrap("search", err)
	}
	return out, nil
}

func (s *Store) AddMetadata(ctx context.Context, subjectID string, f store.MetadataField) error {
	val, err := encodeValue(f)
	if err != nil {
		return store.Wrap("add metadata", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.seq + 1
	b := s.db.NewBatch()
	defer b.Close()
	_ = b.Set(KeyMetadata(subjectID, seq), val, nil)
	_ = b.Set(keySeq, appendBE8(nil, seq), nil)
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return store.Wrap("add metadata", err)
	}
	s.seq = seq
	return nil
}

func (s *Store) all() ([]measurement.Measurement, error) {
	var all []measurement.Measurement
	err := s.scanMeasurements(byTimePrefix, 0, func(m measurement.Measurement) {
		all = append(all, m)
	})
	return all, err
}

func (s *Store) allMetadata() (map[string][]store.MetadataField, error) {
	out := map[string][]store.MetadataField{}
	var decodeErr error
	err := s.db.ScanPrefix(metadataPrefix, false, func(k, v []byte) bool {
		subject, ok := subjectFromMetadataKey(k)
		if !ok {
			return true
		}
		var f store.MetadataField
		if decodeErr = decodeValue(v, &f); decodeErr != nil {
			return false
		}
		out[subject] = append(out[subject], f)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, decodeErr
}

func (s *Store) ReportTable(ctx context.Context, q store.ReportQuery) ([]store.ReportRow, error) {
	all, err := s.all()
	if err != nil {
		return nil, store.Wrap("report table", err)
	}
	meta, err := s.allMetadata()
	if err != nil {
		return nil, store.Wrap("report table", err)
	}
	return store.BuildReport(all, meta, q), nil
}

func (s *Store) Summary(ctx context.Context, q store.ReportQuery) (store.Summary, error) {
	all, err := s.all()
	if err != nil {
		return store.Summary{}, store.Wrap("summary", err)
	}
	return store.BuildSummary(all, q), nil
}

func (s *Store) CurrentSubject(ctx context.Context) (string, error) {
	b, err := s.db.Get(keyCurrent)
	if errors.Is(err, pebblestore.ErrNotFound) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", store.Wrap("current subject", err)
	}
	return string(b), nil
}

func (s *Store) SetCurrentSubject(ctx context.Context, id string) error {
	return store.Wrap("set current subject", s.db.Set(ctx, keyCurrent, []byte(id)))
}

// Ping opens an iterator to prove the engine is serving reads.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return store.Wrap("ping", s.db.ScanPrefix(settingPrefix, false, func(_, _ []byte) bool { return false }))
}

// Close is a no-op; the database belongs to the runtime.
func (s *Store) Close() error { return nil }
