package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/rzbill/rookery/internal/broadcast"
	"github.com/rzbill/rookery/internal/imagestore"
	"github.com/rzbill/rookery/internal/measurement"
	"github.com/rzbill/rookery/internal/store"
	logpkg "github.com/rzbill/rookery/pkg/log"
)

// DefaultPlaceholder is recorded when an ingest carries no image.
const DefaultPlaceholder = "/static/default_penguin.jpg"

// Publisher hands encoded payloads to subscribers. *broadcast.Hub satisfies it.
type Publisher interface {
	Publish(data []byte) (uint64, int, error)
}

// Writer is the single store call on the ingest path.
type Writer interface {
	InsertMeasurement(ctx context.Context, m measurement.Measurement) error
}

// SubjectSource supplies the subject used when a record names none.
type SubjectSource interface {
	Current() string
}

// Recorder observes ingest outcomes.
type Recorder interface {
	IngestAccepted(source string, elapsed time.Duration)
	IngestRejected(source, reason string)
}

type noopRecorder struct{}

func (noopRecorder) IngestAccepted(string, time.Duration) {}
func (noopRecorder) IngestRejected(string, string)        {}

// Rejection reasons passed to Recorder.IngestRejected.
const (
	ReasonValidation  = "validation"
	ReasonImage       = "image"
	ReasonPersistence = "persistence"
)

// Options configures a Service. Store, Publisher and Subject are required.
type Options struct {
	Store       Writer
	Publisher   Publisher
	Subject     SubjectSource
	Images      imagestore.Store
	Placeholder string
	Clock       func() time.Time
	Logger      logpkg.Logger
	Recorder    Recorder
}

// Request is one measurement as it arrived on a transport.
type Request struct {
	Record measurement.Record
	// Image is the optional photo. Empty means the placeholder is recorded.
	Image []byte
	// Source labels the transport ("http", "mqtt") in logs and metrics.
	Source string
}

// Result describes an accepted measurement.
type Result struct {
	Measurement measurement.Measurement
	EventID     uint64
	Subscribers int
}

// Service runs validate, image save, persist and publish for each request.
type Service struct {
	store       Writer
	pub         Publisher
	subject     SubjectSource
	images      imagestore.Store
	placeholder string
	now         func() time.Time
	logger      logpkg.Logger
	rec         Recorder
}

// New builds a Service.
func New(opts Options) (*Service, error) {
	if opts.Store == nil || opts.Publisher == nil || opts.Subject == nil {
		return nil, errors.New("ingest: store, publisher and subject are required")
	}
	s := &Service{
		store:       opts.Store,
		pub:         opts.Publisher,
		subject:     opts.Subject,
		images:      opts.Images,
		placeholder: opts.Placeholder,
		now:         opts.Clock,
		logger:      opts.Logger,
		rec:         opts.Recorder,
	}
	if s.placeholder == "" {
		s.placeholder = DefaultPlaceholder
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = logpkg.NewLogger(logpkg.WithLevel(logpkg.InfoLevel))
	}
	s.logger = s.logger.With(logpkg.Component("ingest"))
	if s.rec == nil {
		s.rec = noopRecorder{}
	}
	return s, nil
}

// Ingest accepts one measurement. Validation runs before any side effect.
// A store failure aborts before publishing and is returned as a
// *store.PersistenceError. A publish failure is logged and does not fail
// the request: the measurement is already durable.
func (s *Service) Ingest(ctx context.Context, req Request) (Result, error) {
	start := s.now()
	source := req.Source
	if source == "" {
		source = "unknown"
	}
	log := s.logger.WithContext(ctx).With(logpkg.Str("source", source))

	m, err := req.Record.Build(s.subject.Current(), start)
	if err != nil {
		s.rec.IngestRejected(source, ReasonValidation)
		log.Warn("measurement rejected", logpkg.Err(err))
		return Result{}, err
	}

	m.ImageRef = s.placeholder
	if len(req.Image) > 0 {
		if s.images == nil {
			s.rec.IngestRejected(source, ReasonImage)
			return Result{}, &imagestore.ImageError{Name: "", Err: errors.New("no image store configured")}
		}
		ref, err := s.images.Save(ctx, req.Image, measurement.ImageName(m.SubjectID, start))
		if err != nil {
			s.rec.IngestRejected(source, ReasonImage)
			log.Error("image save failed", logpkg.Str("subject_id", m.SubjectID), logpkg.Err(err))
			return Result{}, err
		}
		m.ImageRef = ref
	}

	if err := s.store.InsertMeasurement(ctx, m); err != nil {
		s.rec.IngestRejected(source, ReasonPersistence)
		log.Error("measurement not persisted", logpkg.Str("subject_id", m.SubjectID), logpkg.Err(err))
		return Result{}, store.Wrap("insert measurement", err)
	}

	res := Result{Measurement: m}
	if err := s.publish(m, &res); err != nil {
		log.Error("measurement persisted but not broadcast",
			logpkg.Str("subject_id", m.SubjectID),
			logpkg.Err(err),
		)
	}

	s.rec.IngestAccepted(source, s.now().Sub(start))
	log.Info("measurement ingested",
		logpkg.Str("subject_id", m.SubjectID),
		logpkg.Float64("weight", m.Weight),
		logpkg.Uint64("event_id", res.EventID),
		logpkg.Int("subscribers", res.Subscribers),
	)
	return res, nil
}

func (s *Service) publish(m measurement.Measurement, res *Result) error {
	data, err := measurement.EncodePayload(m)
	if err != nil {
		return &broadcast.BroadcastError{Err: err}
	}
	id, n, err := s.pub.Publish(data)
	if err != nil {
		return &broadcast.BroadcastError{Err: err}
	}
	res.EventID, res.Subscribers = id, n
	return nil
}
