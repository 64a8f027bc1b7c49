package log

import (
	"fmt"
	"log/slog"
	"strings"
)

// Config declares how the process logger is built.
type Config struct {
	Level  string `json:"level" yaml:"level" toml:"level"`
	Format string `json:"format" yaml:"format" toml:"format"`
	// Outputs lists sinks: "console", "file", "null". Empty means console.
	Outputs []string   `json:"outputs" yaml:"outputs" toml:"outputs"`
	File    FileConfig `json:"file" yaml:"file" toml:"file"`
	Caller  bool       `json:"caller" yaml:"caller" toml:"caller"`

	// Redact replaces the values of these keys with [REDACTED].
	Redact []string `json:"redact" yaml:"redact" toml:"redact"`
	// SampleInitial/SampleThereafter thin repeated messages; zero disables.
	SampleInitial    int `json:"sampleInitial" yaml:"sampleInitial" toml:"sample_initial"`
	SampleThereafter int `json:"sampleThereafter" yaml:"sampleThereafter" toml:"sample_thereafter"`
}

// ParseLevel maps a case-insensitive level name to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	default:
		return InfoLevel, fmt.Errorf("log: unknown level %q", s)
	}
}

// ApplyConfig builds a Logger from cfg.
func ApplyConfig(cfg *Config) (Logger, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var formatter Formatter
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		formatter = &TextFormatter{ShowCaller: cfg.Caller}
	case "json":
		formatter = &JSONFormatter{ShowCaller: cfg.Caller}
	default:
		return nil, fmt.Errorf("log: unknown format %q", cfg.Format)
	}

	opts := []LoggerOption{WithLevel(level), WithFormatter(formatter)}
	outputs := cfg.Outputs
	if len(outputs) == 0 {
		outputs = []string{"console"}
	}
	for _, o := range outputs {
		switch strings.ToLower(o) {
		case "console", "stderr":
			opts = append(opts, WithOutput(NewConsoleOutput()))
		case "file":
			if cfg.File.Path == "" {
				return nil, fmt.Errorf("log: file output requires file.path")
			}
			opts = append(opts, WithOutput(NewFileOutput(cfg.File)))
		case "null", "none":
			opts = append(opts, WithOutput(NullOutput{}))
		default:
			return nil, fmt.Errorf("log: unknown output %q", o)
		}
	}

	l := NewLogger(opts...).(*BaseLogger)
	h := newBridgeHandler(l).withRedactions(cfg.Redact).withSampler(cfg.SampleInitial, cfg.SampleThereafter)
	l.slogLogger = slog.New(h)
	return l, nil
}
