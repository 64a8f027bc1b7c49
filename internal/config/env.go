package config

import (
	"os"
	"strconv"
	"strings"
)

// FromEnv overlays ROOKERY_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("ROOKERY_DEFAULT_SUBJECT_ID"); v != "" {
		cfg.DefaultSubjectID = v
	}
	if v := os.Getenv("ROOKERY_PLACEHOLDER_IMAGE_URL"); v != "" {
		cfg.PlaceholderImageURL = v
	}
	if v := os.Getenv("ROOKERY_UPLOAD_DIR"); v != "" {
		cfg.UploadDir = v
	}
	setInt("ROOKERY_STREAM_QUEUE_DEPTH", &cfg.Stream.QueueDepth)
	if v := os.Getenv("ROOKERY_STREAM_OVERFLOW_POLICY"); v != "" {
		cfg.Stream.OverflowPolicy = strings.ToLower(v)
	}
	setInt("ROOKERY_STREAM_KEEPALIVE_MS", &cfg.Stream.KeepaliveMs)
	setInt("ROOKERY_QUERY_RECENT_LIMIT", &cfg.Query.RecentLimit)
	setInt("ROOKERY_QUERY_GLOBAL_LIMIT", &cfg.Query.GlobalLimit)
	setInt("ROOKERY_QUERY_DETAIL_LIMIT", &cfg.Query.DetailLimit)
	setInt("ROOKERY_QUERY_SEARCH_LIMIT", &cfg.Query.SearchLimit)
	if v := os.Getenv("ROOKERY_REPORTS_UNDERWEIGHT_KG"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Reports.UnderweightKg = f
		}
	}
	if v := os.Getenv("ROOKERY_REPORTS_OVERWEIGHT_KG"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Reports.OverweightKg = f
		}
	}
	setInt("ROOKERY_REPORTS_AVERAGE_DAYS", &cfg.Reports.AverageDays)
	if v := os.Getenv("ROOKERY_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("ROOKERY_POSTGRES_DSN"); v != "" {
		cfg.Store.PostgresDSN = v
	}
	if v := os.Getenv("ROOKERY_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("ROOKERY_MQTT_TOPIC"); v != "" {
		cfg.MQTT.Topic = v
	}
	if v := os.Getenv("ROOKERY_MQTT_CLIENT_ID"); v != "" {
		cfg.MQTT.ClientID = v
	}
	setInt("ROOKERY_MQTT_QOS", &cfg.MQTT.QoS)
	if v := os.Getenv("ROOKERY_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("ROOKERY_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("ROOKERY_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("ROOKERY_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("ROOKERY_LOG_FILE"); v != "" {
		cfg.Log.File.Path = v
		cfg.Log.Outputs = []string{"console", "file"}
	}
}

func setInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
