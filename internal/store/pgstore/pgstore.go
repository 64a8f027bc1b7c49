package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	// registers the "postgres" driver
	_ "github.com/lib/pq"

	"github.com/rzbill/rookery/internal/measurement"
	"github.com/rzbill/rookery/internal/store"
	logpkg "github.com/rzbill/rookery/pkg/log"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS measurements (
    id         BIGSERIAL PRIMARY KEY,
    penguin_id TEXT NOT NULL,
    weight     DOUBLE PRECISION NOT NULL,
    date       DATE NOT NULL,
    time       TIME NOT NULL,
    image_url  TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS measurements_penguin_ts_idx ON measurements (penguin_id, date DESC, time DESC);
CREATE INDEX IF NOT EXISTS measurements_ts_idx ON measurements (date DESC, time DESC);
CREATE TABLE IF NOT EXISTS penguin_metadata (
    id          BIGSERIAL PRIMARY KEY,
    penguin_id  TEXT NOT NULL,
    field_name  TEXT NOT NULL,
    field_value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS settings (
    name  TEXT PRIMARY KEY,
    value TEXT NOT NULL
)`

const (
	insertMeasurementSQL = `
INSERT INTO measurements (penguin_id, weight, date, time, image_url)
VALUES ($1, $2, $3, $4, $5)`

	recentSQL = `
SELECT weight, to_char(date, 'YYYY-MM-DD'), to_char(time, 'HH24:MI:SS')
FROM measurements
WHERE penguin_id = $1
ORDER BY date DESC, time DESC, id DESC
LIMIT $2`

	latestGlobalSQL = `
SELECT penguin_id, weight, to_char(date, 'YYYY-MM-DD'), to_char(time, 'HH24:MI:SS')
FROM measurements
ORDER BY date DESC, time DESC, id DESC
LIMIT $1`

	metadataSQL = `
SELECT field_name, field_value
FROM penguin_metadata
WHERE penguin_id = $1
ORDER BY id`

	detailSQL = `
SELECT weight, to_char(date, 'YYYY-MM-DD'), to_char(time, 'HH24:MI:SS'), image_url
FROM measurements
WHERE penguin_id = $1
ORDER BY date DESC, time DESC, id DESC
LIMIT $2`

	searchSQL = `
SELECT DISTINCT penguin_id
FROM measurements
WHERE penguin_id ILIKE $1 ESCAPE '\'
ORDER BY penguin_id
LIMIT $2`

	insertMetadataSQL = `
INSERT INTO penguin_metadata (penguin_id, field_name, field_value)
VALUES ($1, $2, $3)`

	reportSQL = `
SELECT l.penguin_id,
       to_char(l.date, 'YYYY-MM-DD') AS last_seen,
       to_char(l.time, 'HH24:MI:SS'),
       l.weight AS current_weight,
       (SELECT ROUND(AVG(m2.weight)::numeric, 2)::float8
          FROM measurements m2
         WHERE m2.penguin_id = l.penguin_id AND m2.date >= $1::date) AS avg_weight_7d,
       (SELECT string_agg(md.field_name || ': ' || md.field_value, ', ' ORDER BY md.id)
          FROM penguin_metadata md
         WHERE md.penguin_id = l.penguin_id) AS comments
FROM (
    SELECT DISTINCT ON (penguin_id) penguin_id, date, time, weight
    FROM measurements
    ORDER BY penguin_id, date DESC, time DESC, id DESC
) l
ORDER BY l.date DESC, l.time DESC, l.penguin_id`

	summarySQL = `
SELECT COUNT(DISTINCT penguin_id),
       COALESCE(AVG(weight) FILTER (WHERE date >= $1::date), 0)
FROM measurements`

	heaviestSQL = `SELECT penguin_id, weight FROM measurements ORDER BY weight DESC, id LIMIT 1`
	lightestSQL = `SELECT penguin_id, weight FROM measurements ORDER BY weight ASC, id LIMIT 1`

	getSettingSQL = `SELECT value FROM settings WHERE name = $1`
	putSettingSQL = `
INSERT INTO settings (name, value) VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value`
)

const currentSubjectSetting = "current_subject"

// Store implements store.Gateway on PostgreSQL.
type Store struct {
	db     *sql.DB
	logger logpkg.Logger

	closeOnce sync.Once
}

var _ store.Gateway = (*Store)(nil)

// Open connects with the lib/pq driver and prepares the schema.
func Open(ctx context.Context, dsn string, logger logpkg.Logger) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("pgstore: DSN is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: open: %w", err)
	}
	s, err := New(ctx, db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing handle, pings it and creates missing tables.
func New(ctx context.Context, db *sql.DB, logger logpkg.Logger) (*Store, error) {
	if logger == nil {
		logger = logpkg.NewLogger(logpkg.WithLevel(logpkg.InfoLevel))
	}
	s := &Store{db: db, logger: logger.With(logpkg.Component("pgstore"))}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return nil, fmt.Errorf("pgstore: ensure schema: %w", err)
	}
	return s, nil
}

func (s *Store) InsertMeasurement(ctx context.Context, m measurement.Measurement) error {
	_, err := s.db.ExecContext(ctx, insertMeasurementSQL, m.SubjectID, m.Weight, m.Date, m.Time, m.ImageRef)
	return store.Wrap("insert measurement", err)
}

func (s *Store) Recent(ctx context.Context, subjectID string, limit int) ([]store.Point, error) {
	rows, err := s.db.QueryContext(ctx, recentSQL, subjectID, limit)
	if err != nil {
		return nil, store.Wrap("recent", err)
	}
	defer rows.Close()
	var out []store.Point
	for rows.Next() {
		var p store.Point
		if err := rows.Scan(&p.Weight, &p.Date, &p.Time); err != nil {
			return nil, store.Wrap("recent", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Wrap("recent", err)
	}
	if len(out) == 0 {
		return nil, store.ErrNotFound
	}
	return out, nil
}

func (s *Store) LatestGlobal(ctx context.Context, limit int) ([]store.GlobalPoint, error) {
	rows, err := s.db.QueryContext(ctx, latestGlobalSQL, limit)
	if err != nil {
		return nil, store.Wrap("latest global", err)
	}
	defer rows.Close()
	out := []store.GlobalPoint{}
	for rows.Next() {
		var p store.GlobalPoint
		if err := rows.Scan(&p.ID, &p.Weight, &p.Date, &p.Time); err != nil {
			return nil, store.Wrap("latest global", err)
		}
		out = append(out, p)
	}
	return out, store.Wrap("latest global", rows.Err())
}

func (s *Store) Details(ctx context.Context, subjectID string, limit int) (store.Details, error) {
	d := store.Details{Metadata: []store.MetadataField{}, Measurements: []store.DetailPoint{}}

	rows, err := s.db.QueryContext(ctx, metadataSQL, subjectID)
	if err != nil {
		return d, store.Wrap("details", err)
	}
	for rows.Next() {
		var f store.MetadataField
		if err := rows.Scan(&f.FieldName, &f.FieldValue); err != nil {
			rows.Close()
			return d, store.Wrap("details", err)
		}
		d.Metadata = append(d.Metadata, f)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return d, store.Wrap("details", err)
	}

	rows, err = s.db.QueryContext(ctx, detailSQL, subjectID, limit)
	if err != nil {
		return d, store.Wrap("details", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p store.DetailPoint
		if err := rows.Scan(&p.Weight, &p.Date, &p.Time, &p.ImageURL); err != nil {
			return d, store.Wrap("details", err)
		}
		d.Measurements = append(d.Measurements, p)
	}
	return d, store.Wrap("details", rows.Err())
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s *Store) Search(ctx context.Context, q string, limit int) ([]store.SubjectRef, error) {
	rows, err := s.db.QueryContext(ctx, searchSQL, "%"+likeEscaper.Replace(q)+"%", limit)
	if err != nil {
		return nil, store.Wrap("search", err)
	}
	defer rows.Close()
	out := []store.SubjectRef{}
	for rows.Next() {
		var r store.SubjectRef
		if err := rows.Scan(&r.ID); err != nil {
			return nil, store.Wrap("search", err)
		}
		out = append(out, r)
	}
	return out, store.Wrap("search", rows.Err())
}

func (s *Store) AddMetadata(ctx context.Context, subjectID string, f store.MetadataField) error {
	_, err := s.db.ExecContext(ctx, insertMetadataSQL, subjectID, f.FieldName, f.FieldValue)
	return store.Wrap("add metadata", err)
}

func (s *Store) ReportTable(ctx context.Context, q store.ReportQuery) ([]store.ReportRow, error) {
	rows, err := s.db.QueryContext(ctx, reportSQL, q.Since)
	if err != nil {
		return nil, store.Wrap("report table", err)
	}
	defer rows.Close()
	out := []store.ReportRow{}
	for rows.Next() {
		var (
			r        store.ReportRow
			avg      sql.NullFloat64
			comments sql.NullString
		)
		if err := rows.Scan(&r.PenguinID, &r.LastSeen, &r.Time, &r.CurrentWeight, &avg, &comments); err != nil {
			return nil, store.Wrap("report table", err)
		}
		if avg.Valid {
			v := avg.Float64
			r.AvgWeight7d = &v
		}
		if comments.Valid {
			c := comments.String
			r.Comments = &c
		}
		r.Status = q.StatusOf(r.CurrentWeight)
		if q.Status != "" && r.Status != q.Status {
			continue
		}
		out = append(out, r)
	}
	return out, store.Wrap("report table", rows.Err())
}

func (s *Store) extreme(ctx context.Context, query string) (*store.Extreme, error) {
	var e store.Extreme
	err := s.db.QueryRowContext(ctx, query).Scan(&e.ID, &e.Weight)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) Summary(ctx context.Context, q store.ReportQuery) (store.Summary, error) {
	var sum store.Summary
	var avg float64
	if err := s.db.QueryRowContext(ctx, summarySQL, q.Since).Scan(&sum.TotalPenguins, &avg); err != nil {
		return sum, store.Wrap("summary", err)
	}
	sum.AvgWeight7d = store.Round2(avg)
	var err error
	if sum.Heaviest, err = s.extreme(ctx, heaviestSQL); err != nil {
		return sum, store.Wrap("summary", err)
	}
	if sum.Lightest, err = s.extreme(ctx, lightestSQL); err != nil {
		return sum, store.Wrap("summary", err)
	}
	return sum, nil
}

func (s *Store) CurrentSubject(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, getSettingSQL, currentSubjectSetting).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", store.Wrap("current subject", err)
	}
	return id, nil
}

func (s *Store) SetCurrentSubject(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, putSettingSQL, currentSubjectSetting, id)
	return store.Wrap("set current subject", err)
}

func (s *Store) Ping(ctx context.Context) error {
	return store.Wrap("ping", s.db.PingContext(ctx))
}

// Close releases the connection pool.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.db.Close()
	})
	return err
}
