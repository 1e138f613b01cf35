// Package config loads run settings from the environment and command-line flags.
package config

import (
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/wilhg/changeverify/pkg/errmodel"
)

// Log formats.
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// Config holds every setting of a run. Environment variables are read
// first; flags passed to Load override them.
type Config struct {
	Target            string        `env:"CHANGEVERIFY_TARGET" envDefault:"mongodb://localhost:27017/"`
	Database          string        `env:"CHANGEVERIFY_DATABASE" envDefault:"test_db"`
	Collection        string        `env:"CHANGEVERIFY_COLLECTION" envDefault:"test_collection"`
	Iterations        int           `env:"CHANGEVERIFY_ITERATIONS" envDefault:"5"`
	DisconnectSeconds int           `env:"CHANGEVERIFY_DISCONNECT_SECONDS" envDefault:"5"`
	EventTimeout      time.Duration `env:"CHANGEVERIFY_EVENT_TIMEOUT" envDefault:"10s"`
	Retention         time.Duration `env:"CHANGEVERIFY_RETENTION" envDefault:"0s"`
	LogFormat         string        `env:"CHANGEVERIFY_LOG_FORMAT" envDefault:"json"`
	TraceStdout       bool          `env:"CHANGEVERIFY_TRACE_STDOUT"`
	JSON              bool          `env:"CHANGEVERIFY_JSON"`

	ShowVersion bool
}

// ParseEnv loads configuration from environment variables.
func ParseEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Load reads the environment, applies args as flag overrides and validates
// the result. flag.ErrHelp is returned unwrapped when -h is given.
func Load(args []string, output io.Writer) (Config, error) {
	cfg, err := ParseEnv()
	if err != nil {
		return Config{}, errmodel.Validation("bad_env", err.Error(), nil)
	}

	fs := flag.NewFlagSet("changeverify", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.BoolVar(&cfg.ShowVersion, "version", false, "print version and exit")
	fs.StringVar(&cfg.Target, "target", cfg.Target, "event source: mongodb://..., postgres://..., sqlite:..., memory:")
	fs.StringVar(&cfg.Database, "database", cfg.Database, "database name (mongodb)")
	fs.StringVar(&cfg.Collection, "collection", cfg.Collection, "collection or stream name")
	fs.IntVar(&cfg.Iterations, "iterations", cfg.Iterations, "events per phase of the resume token test")
	fs.IntVar(&cfg.DisconnectSeconds, "disconnect", cfg.DisconnectSeconds, "simulated disconnect length in seconds")
	fs.DurationVar(&cfg.EventTimeout, "event-timeout", cfg.EventTimeout, "wait for each event before giving up")
	fs.DurationVar(&cfg.Retention, "retention", cfg.Retention, "history retention for memory and sql targets (0 keeps everything)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log output format: json or text")
	fs.BoolVar(&cfg.TraceStdout, "trace-stdout", cfg.TraceStdout, "export spans to stderr")
	fs.BoolVar(&cfg.JSON, "json", cfg.JSON, "print the aggregate report as JSON on stdout")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		return Config{}, errmodel.Validation("unexpected_args", "unexpected arguments: "+strings.Join(fs.Args(), " "), nil)
	}
	if cfg.ShowVersion {
		return cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the runner cannot honor.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Target) == "":
		return errmodel.Validation("bad_target", "target is empty", nil)
	case c.Iterations < 1:
		return errmodel.Validation("bad_iterations", "iterations must be at least 1", map[string]any{"iterations": c.Iterations})
	case c.DisconnectSeconds < 0:
		return errmodel.Validation("bad_disconnect", "disconnect must not be negative", map[string]any{"disconnect": c.DisconnectSeconds})
	case c.EventTimeout <= 0:
		return errmodel.Validation("bad_event_timeout", "event timeout must be positive", map[string]any{"event_timeout": c.EventTimeout.String()})
	case c.Retention < 0:
		return errmodel.Validation("bad_retention", "retention must not be negative", map[string]any{"retention": c.Retention.String()})
	case c.LogFormat != LogFormatJSON && c.LogFormat != LogFormatText:
		return errmodel.Validation("bad_log_format", "log format must be json or text", map[string]any{"log_format": c.LogFormat})
	}
	return nil
}

// DisconnectDuration is the simulated partition length.
func (c Config) DisconnectDuration() time.Duration {
	return time.Duration(c.DisconnectSeconds) * time.Second
}
