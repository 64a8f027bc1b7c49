package serverrun

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	cfgpkg "github.com/rzbill/rookery/internal/config"
	"github.com/rzbill/rookery/internal/mqttbridge"
	"github.com/rzbill/rookery/internal/runtime"
	grpcserver "github.com/rzbill/rookery/internal/server/grpc"
	httpserver "github.com/rzbill/rookery/internal/server/http"
	pebblestore "github.com/rzbill/rookery/internal/storage/pebble"
	logpkg "github.com/rzbill/rookery/pkg/log"
)

func getenvDefault(key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

// small wrapper to allow testing
var getenv = os.Getenv

type Options struct {
	DataDir       string
	GRPCAddr      string
	HTTPAddr      string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        cfgpkg.Config
}

// Run starts the gRPC and HTTP servers, and the MQTT bridge when a broker
// is configured, then blocks until ctx is cancelled or a signal arrives.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.DataDir == "" {
		opts.DataDir = cfgpkg.DefaultDataDir()
	}

	procLogger, err := newProcessLogger(opts.Config.Log)
	if err != nil {
		return err
	}
	// Redirect stdlib logs to our logger
	logpkg.RedirectStdLog(procLogger)

	rt, err := runtime.Open(runtime.Options{
		DataDir:       opts.DataDir,
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
		Config:        opts.Config,
		Logger:        procLogger,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	cfg := rt.Config()
	procLogger.Info("Starting Rookery server",
		logpkg.Str("grpc", opts.GRPCAddr),
		logpkg.Str("http", opts.HTTPAddr),
		logpkg.Str("data_dir", opts.DataDir),
		logpkg.Str("store", cfg.Store.Driver),
		logpkg.Str("current_subject", rt.Subject().Current()),
		logpkg.Int("queue_depth", cfg.Stream.QueueDepth),
		logpkg.Str("overflow", cfg.Stream.OverflowPolicy),
		logpkg.Str("level", cfg.Log.Level),
		logpkg.Str("format", cfg.Log.Format),
	)

	gsrv := grpcserver.New(rt)
	hsrv := httpserver.New(rt, procLogger)

	var bridge *mqttbridge.Bridge
	if cfg.MQTT.Broker != "" {
		bridge, err = mqttbridge.New(mqttbridge.Options{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
			QoS:      byte(cfg.MQTT.QoS),
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Logger:   procLogger,
		}, rt.Ingest())
		if err != nil {
			return err
		}
		// The client keeps retrying in the background after a failed
		// first connect.
		if err := bridge.Start(sctx); err != nil {
			procLogger.Warn("mqtt bridge not connected yet", logpkg.Err(err))
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gsrv.ListenAndServe(sctx, opts.GRPCAddr); err != nil && sctx.Err() == nil {
			procLogger.Error("grpc server failed", logpkg.Err(err))
			stop()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := hsrv.ListenAndServe(sctx, opts.HTTPAddr); err != nil && sctx.Err() == nil {
			procLogger.Error("http server failed", logpkg.Err(err))
			stop()
		}
	}()

	<-sctx.Done()
	procLogger.Info("Shutting down")
	// Stop ingest first, then end live sessions so graceful stops can drain.
	if bridge != nil {
		bridge.Close()
	}
	rt.Hub().Close()
	gsrv.Close()
	hsrv.Close()
	wg.Wait()
	return nil
}

// newProcessLogger builds the process-wide logger; ROOKERY_LOG_LEVEL and
// ROOKERY_LOG_FORMAT override the configured level and format.
func newProcessLogger(lc logpkg.Config) (logpkg.Logger, error) {
	lc.Level = getenvDefault("ROOKERY_LOG_LEVEL", lc.Level)
	lc.Format = getenvDefault("ROOKERY_LOG_FORMAT", lc.Format)
	if lc.Level == "" {
		lc.Level = "info"
	}
	if lc.Format == "" {
		lc.Format = "text"
	}
	return logpkg.ApplyConfig(&lc)
}
