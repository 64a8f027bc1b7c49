package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	logpkg "github.com/rzbill/rookery/pkg/log"
	"gopkg.in/yaml.v3"
)

// Overflow policies for subscriber queues.
const (
	OverflowDropOldest = "drop-oldest"
	OverflowDisconnect = "disconnect"
)

// Store drivers.
const (
	StoreDriverPebble   = "pebble"
	StoreDriverPostgres = "postgres"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	// DefaultSubjectID is the subject attributed to ingests that do not name one.
	DefaultSubjectID    string `json:"defaultSubjectID" yaml:"defaultSubjectID" toml:"default_subject_id"`
	PlaceholderImageURL string `json:"placeholderImageURL" yaml:"placeholderImageURL" toml:"placeholder_image_url"`
	// UploadDir holds stored images. Empty means <data-dir>/uploads.
	UploadDir string `json:"uploadDir" yaml:"uploadDir" toml:"upload_dir"`

	Stream  StreamConfig  `json:"stream" yaml:"stream" toml:"stream"`
	Query   QueryConfig   `json:"query" yaml:"query" toml:"query"`
	Reports ReportsConfig `json:"reports" yaml:"reports" toml:"reports"`
	Store   StoreConfig   `json:"store" yaml:"store" toml:"store"`
	MQTT    MQTTConfig    `json:"mqtt" yaml:"mqtt" toml:"mqtt"`
	Log     logpkg.Config `json:"log" yaml:"log" toml:"log"`
}

// StreamConfig tunes subscriber queues and session keepalives.
type StreamConfig struct {
	// QueueDepth bounds each subscriber queue; 0 means unbounded.
	QueueDepth     int    `json:"queueDepth" yaml:"queueDepth" toml:"queue_depth"`
	OverflowPolicy string `json:"overflowPolicy" yaml:"overflowPolicy" toml:"overflow_policy"`
	KeepaliveMs    int    `json:"keepaliveMs" yaml:"keepaliveMs" toml:"keepalive_ms"`
}

// QueryConfig holds the row limits of the pull endpoints.
type QueryConfig struct {
	RecentLimit int `json:"recentLimit" yaml:"recentLimit" toml:"recent_limit"`
	GlobalLimit int `json:"globalLimit" yaml:"globalLimit" toml:"global_limit"`
	DetailLimit int `json:"detailLimit" yaml:"detailLimit" toml:"detail_limit"`
	SearchLimit int `json:"searchLimit" yaml:"searchLimit" toml:"search_limit"`
}

// ReportsConfig holds weight status thresholds in kilograms.
type ReportsConfig struct {
	UnderweightKg float64 `json:"underweightKg" yaml:"underweightKg" toml:"underweight_kg"`
	OverweightKg  float64 `json:"overweightKg" yaml:"overweightKg" toml:"overweight_kg"`
	AverageDays   int     `json:"averageDays" yaml:"averageDays" toml:"average_days"`
}

// StoreConfig selects the persistence gateway.
type StoreConfig struct {
	Driver      string `json:"driver" yaml:"driver" toml:"driver"`
	PostgresDSN string `json:"postgresDSN" yaml:"postgresDSN" toml:"postgres_dsn"`
}

// MQTTConfig enables the MQTT ingest bridge when Broker is set.
type MQTTConfig struct {
	Broker   string `json:"broker" yaml:"broker" toml:"broker"`
	Topic    string `json:"topic" yaml:"topic" toml:"topic"`
	ClientID string `json:"clientID" yaml:"clientID" toml:"client_id"`
	QoS      int    `json:"qos" yaml:"qos" toml:"qos"`
	Username string `json:"username" yaml:"username" toml:"username"`
	Password string `json:"password" yaml:"password" toml:"password"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		DefaultSubjectID:    "PNG-001",
		PlaceholderImageURL: "/static/default_penguin.jpg",
		Stream: StreamConfig{
			QueueDepth:     256,
			OverflowPolicy: OverflowDropOldest,
			KeepaliveMs:    15000,
		},
		Query: QueryConfig{
			RecentLimit: 3,
			GlobalLimit: 10,
			DetailLimit: 10,
			SearchLimit: 10,
		},
		Reports: ReportsConfig{
			UnderweightKg: 4.0,
			OverweightKg:  6.0,
			AverageDays:   7,
		},
		Store: StoreConfig{Driver: StoreDriverPebble},
		MQTT: MQTTConfig{
			Topic:    "rookery/measurements",
			ClientID: "rookery-server",
			QoS:      1,
		},
		Log: logpkg.Config{Level: "info", Format: "text"},
	}
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	if strings.TrimSpace(c.DefaultSubjectID) == "" {
		return fmt.Errorf("config: defaultSubjectID must not be empty")
	}
	if c.Stream.QueueDepth < 0 {
		return fmt.Errorf("config: stream.queueDepth must be >= 0")
	}
	switch c.Stream.OverflowPolicy {
	case OverflowDropOldest, OverflowDisconnect:
	default:
		return fmt.Errorf("config: unknown stream.overflowPolicy %q", c.Stream.OverflowPolicy)
	}
	switch c.Store.Driver {
	case StoreDriverPebble:
	case StoreDriverPostgres:
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("config: store.postgresDSN required for postgres driver")
		}
	default:
		return fmt.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	if c.Reports.UnderweightKg >= c.Reports.OverweightKg {
		return fmt.Errorf("config: reports.underweightKg must be below overweightKg")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("config: mqtt.qos must be 0, 1 or 2")
	}
	return nil
}

// Load reads configuration from a JSON, YAML or TOML file (by extension),
// layered over Default(). If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse yaml %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(b), &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse toml %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse json %s: %w", path, err)
		}
	}
	return cfg, nil
}
