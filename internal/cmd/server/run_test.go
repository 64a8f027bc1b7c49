package serverrun

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	cfgpkg "github.com/rzbill/rookery/internal/config"
	pebblestore "github.com/rzbill/rookery/internal/storage/pebble"
	logpkg "github.com/rzbill/rookery/pkg/log"
)

func TestGetenvDefault(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		def      string
		envValue string
		expected string
	}{
		{name: "environment variable set", key: "ROOKERY_TEST_VAR", def: "default", envValue: "env_value", expected: "env_value"},
		{name: "environment variable empty", key: "ROOKERY_TEST_VAR_EMPTY", def: "default", envValue: "", expected: "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.envValue)
			if got := getenvDefault(tt.key, tt.def); got != tt.expected {
				t.Errorf("getenvDefault(%s, %s) = %s, expected %s", tt.key, tt.def, got, tt.expected)
			}
		})
	}
}

func TestNewProcessLogger(t *testing.T) {
	orig := getenv
	t.Cleanup(func() { getenv = orig })
	env := map[string]string{"ROOKERY_LOG_LEVEL": "debug"}
	getenv = func(k string) string { return env[k] }

	l, err := newProcessLogger(logpkg.Config{Level: "warn", Format: "json"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	if l.GetLevel() != logpkg.DebugLevel {
		t.Fatalf("env level should win, got %v", l.GetLevel())
	}

	env["ROOKERY_LOG_FORMAT"] = "xml"
	if _, err := newProcessLogger(logpkg.Config{}); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}

// TestRunIntegration starts both servers on ephemeral ports and checks that
// Run returns once its context is cancelled.
func TestRunIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := cfgpkg.Default()
	cfg.Log = logpkg.Config{Level: "error", Format: "text"}
	opts := Options{
		DataDir:  filepath.Join(t.TempDir(), "data"),
		GRPCAddr: "127.0.0.1:0",
		HTTPAddr: "127.0.0.1:0",
		Fsync:    pebblestore.FsyncModeNever,
		Config:   cfg,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := Run(ctx, opts); err != nil {
		t.Errorf("run: %v", err)
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := cfgpkg.Default()
	cfg.Log = logpkg.Config{Level: "error"}
	cfg.DefaultSubjectID = ""
	err := Run(context.Background(), Options{DataDir: t.TempDir(), Config: cfg})
	if err == nil {
		t.Fatalf("expected config error")
	}
}
