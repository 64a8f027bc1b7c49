// Package config loads Rookery server configuration: built-in defaults, an
// optional JSON, YAML or TOML file, and a ROOKERY_* environment overlay.
//
//	cfg, err := config.Load("/etc/rookery.yaml")
//	if err != nil { ... }
//	config.FromEnv(&cfg)
//	if err := cfg.Validate(); err != nil { ... }
package config
