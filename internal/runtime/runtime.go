package runtime

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rzbill/rookery/internal/broadcast"
	cfgpkg "github.com/rzbill/rookery/internal/config"
	"github.com/rzbill/rookery/internal/imagestore"
	"github.com/rzbill/rookery/internal/ingest"
	"github.com/rzbill/rookery/internal/measurement"
	"github.com/rzbill/rookery/internal/metrics"
	pebblestore "github.com/rzbill/rookery/internal/storage/pebble"
	"github.com/rzbill/rookery/internal/store"
	"github.com/rzbill/rookery/internal/store/kvstore"
	"github.com/rzbill/rookery/internal/store/pgstore"
	"github.com/rzbill/rookery/internal/subject"
	logpkg "github.com/rzbill/rookery/pkg/log"
)

// UploadsPath is the URL prefix stored images are served under.
const UploadsPath = "/uploads"

// Options for building the Runtime.
type Options struct {
	DataDir       string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        cfgpkg.Config
	Logger        logpkg.Logger
	// Clock drives ingest timestamps and report windows. Default time.Now.
	Clock func() time.Time
}

// Runtime wires storage, the broadcast hub and the ingest path for a
// single-node instance.
type Runtime struct {
	db      *pebblestore.DB
	store   store.Gateway
	hub     *broadcast.Hub
	subject *subject.Selector
	images  *imagestore.FS
	ingest  *ingest.Service
	metrics *metrics.Metrics
	config  cfgpkg.Config
	logger  logpkg.Logger
	now     func() time.Time
}

// Open initializes storage, restores the current subject and returns a
// Runtime ready to serve.
func Open(opts Options) (*Runtime, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger(logpkg.WithLevel(logpkg.InfoLevel))
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	rt := &Runtime{config: cfg, logger: logger, now: now, metrics: metrics.New()}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch cfg.Store.Driver {
	case cfgpkg.StoreDriverPostgres:
		pg, err := pgstore.Open(ctx, cfg.Store.PostgresDSN, logger)
		if err != nil {
			return nil, err
		}
		rt.store = pg
	default:
		db, err := pebblestore.Open(pebblestore.Options{
			DataDir:       filepath.Join(opts.DataDir, "db"),
			Fsync:         opts.Fsync,
			FsyncInterval: opts.FsyncInterval,
			Metrics:       rt.metrics,
			Logger:        logger,
		})
		if err != nil {
			return nil, err
		}
		kv, err := kvstore.New(db, logger)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		rt.db, rt.store = db, kv
	}

	uploadDir := cfg.UploadDir
	if uploadDir == "" {
		uploadDir = filepath.Join(opts.DataDir, "uploads")
	}
	images, err := imagestore.NewFS(uploadDir, UploadsPath)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.images = images

	rt.subject = subject.NewSelector(cfg.DefaultSubjectID, rt.store, logger)
	if err := rt.subject.Restore(ctx, store.ErrNotFound); err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("restore current subject: %w", err)
	}

	policy, err := broadcast.ParseOverflowPolicy(cfg.Stream.OverflowPolicy)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.hub = broadcast.NewHub(broadcast.Options{
		QueueDepth: cfg.Stream.QueueDepth,
		Overflow:   policy,
		Logger:     logger,
		Observer:   rt.metrics,
	})

	rt.ingest, err = ingest.New(ingest.Options{
		Store:       rt.store,
		Publisher:   rt.hub,
		Subject:     rt.subject,
		Images:      rt.images,
		Placeholder: cfg.PlaceholderImageURL,
		Clock:       now,
		Logger:      logger,
		Recorder:    rt.metrics,
	})
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

// Close shuts the hub, then the store. Active sessions observe
// broadcast.ErrHubClosed.
func (r *Runtime) Close() error {
	if r.hub != nil {
		r.hub.Close()
	}
	var errs []error
	if r.store != nil {
		errs = append(errs, r.store.Close())
	}
	if r.db != nil {
		errs = append(errs, r.db.Close())
	}
	return errors.Join(errs...)
}

// CheckHealth pings the store.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.store == nil {
		return errors.New("store not open")
	}
	return r.store.Ping(ctx)
}

// ReportQuery builds the report parameters for a status filter, with the
// rolling-average window ending today.
func (r *Runtime) ReportQuery(status string) store.ReportQuery {
	days := r.config.Reports.AverageDays
	return store.ReportQuery{
		Status:        status,
		Since:         r.now().AddDate(0, 0, -days).Format(measurement.DateLayout),
		UnderweightKg: r.config.Reports.UnderweightKg,
		OverweightKg:  r.config.Reports.OverweightKg,
	}
}

// Keepalive is the idle interval between session pings; 0 disables them.
func (r *Runtime) Keepalive() time.Duration {
	return time.Duration(r.config.Stream.KeepaliveMs) * time.Millisecond
}

func (r *Runtime) Store() store.Gateway       { return r.store }
func (r *Runtime) Hub() *broadcast.Hub        { return r.hub }
func (r *Runtime) Subject() *subject.Selector { return r.subject }
func (r *Runtime) Images() *imagestore.FS     { return r.images }
func (r *Runtime) Ingest() *ingest.Service    { return r.ingest }
func (r *Runtime) Metrics() *metrics.Metrics  { return r.metrics }
func (r *Runtime) Logger() logpkg.Logger      { return r.logger }

// DB exposes the underlying Pebble database; nil with the Postgres driver.
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
