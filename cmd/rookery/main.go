package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	clientcmd "github.com/rzbill/rookery/internal/cmd/client"
	serverrun "github.com/rzbill/rookery/internal/cmd/server"
	cfgpkg "github.com/rzbill/rookery/internal/config"
	pebblestore "github.com/rzbill/rookery/internal/storage/pebble"
	logpkg "github.com/rzbill/rookery/pkg/log"
)

func main() {
	// A missing .env is fine; variables already set in the environment win.
	_ = godotenv.Load()

	// initialize logger for CLI
	// Respect ROOKERY_LOG_LEVEL for both CLI and server start output
	level := os.Getenv("ROOKERY_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)

	// Redirect standard library logs (used by Pebble) to our logger
	logpkg.RedirectStdLog(logger)

	rootCmd := &cobra.Command{
		Use:   "rookery",
		Short: "Rookery runtime CLI",
		Long: "Rookery ingests penguin weight measurements, persists them and fans them out " +
			"to live dashboards. This CLI runs the server and talks to it.",
		SilenceUsage: true,
	}

	// server start
	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start rookery server (gRPC and HTTP)",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, _ := cmd.Flags().GetString("data-dir")
			grpcAddr, _ := cmd.Flags().GetString("grpc")
			httpAddr, _ := cmd.Flags().GetString("http")
			configPath, _ := cmd.Flags().GetString("config")
			fsyncMode, _ := cmd.Flags().GetString("fsync")
			fsyncIntervalMs, _ := cmd.Flags().GetInt("fsync-interval-ms")
			logLevel, _ := cmd.Flags().GetString("log-level")
			logFormat, _ := cmd.Flags().GetString("log-format")

			mode, err := pebblestore.ParseFsyncMode(fsyncMode)
			if err != nil {
				return fmt.Errorf("invalid --fsync; use always|interval|never")
			}

			cfg, err := cfgpkg.Load(configPath)
			if err != nil {
				return err
			}
			cfgpkg.FromEnv(&cfg)
			if logLevel != "" {
				cfg.Log.Level = logLevel
				_ = os.Setenv("ROOKERY_LOG_LEVEL", logLevel)
			}
			if logFormat != "" {
				cfg.Log.Format = logFormat
				_ = os.Setenv("ROOKERY_LOG_FORMAT", logFormat)
			}
			if cmd.Flags().Changed("default-subject") {
				cfg.DefaultSubjectID, _ = cmd.Flags().GetString("default-subject")
			}
			if cmd.Flags().Changed("store") {
				cfg.Store.Driver, _ = cmd.Flags().GetString("store")
			}
			if cmd.Flags().Changed("mqtt-broker") {
				cfg.MQTT.Broker, _ = cmd.Flags().GetString("mqtt-broker")
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := serverrun.Run(ctx, serverrun.Options{
				DataDir:       dataDir,
				GRPCAddr:      grpcAddr,
				HTTPAddr:      httpAddr,
				Fsync:         mode,
				FsyncInterval: time.Duration(fsyncIntervalMs) * time.Millisecond,
				Config:        cfg,
			}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			// brief delay to allow logs flush
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	}
	serverStartCmd.Flags().String("data-dir", os.Getenv("ROOKERY_DATA_DIR"), "Data directory (if not specified, uses OS-specific application data directory)")
	serverStartCmd.Flags().String("grpc", ":50051", "gRPC listen address")
	serverStartCmd.Flags().String("http", ":8080", "HTTP listen address (API, live streams, uploads, metrics)")
	serverStartCmd.Flags().String("config", os.Getenv("ROOKERY_CONFIG"), "Config file (.json, .yaml, .yml or .toml)")
	serverStartCmd.Flags().String("fsync", "always", "Fsync mode: always|interval|never")
	serverStartCmd.Flags().Int("fsync-interval-ms", 5, "When --fsync=interval, group-commit window in ms (default 5)")
	serverStartCmd.Flags().String("log-level", os.Getenv("ROOKERY_LOG_LEVEL"), "Log level: debug|info|warn|error")
	serverStartCmd.Flags().String("log-format", os.Getenv("ROOKERY_LOG_FORMAT"), "Log format: text|json (default text)")
	serverStartCmd.Flags().String("default-subject", "", "Penguin attributed to measurements without an id")
	serverStartCmd.Flags().String("store", "", "Store driver: pebble|postgres")
	serverStartCmd.Flags().String("mqtt-broker", "", "MQTT broker URL; enables the MQTT ingest bridge")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	clientcmd.AddCommands(rootCmd, apiURL)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func apiURL() string {
	if v := os.Getenv("ROOKERY_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}
