package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "RXNET"

// Config is the complete run configuration. Command-line flags override it.
type Config struct {
	Netting  NettingConfig  `envconfig:"NETTING"`
	Input    InputConfig    `envconfig:"INPUT"`
	Output   OutputConfig   `envconfig:"OUTPUT"`
	AWS      AWSConfig      `envconfig:"AWS"`
	Postgres PostgresConfig `envconfig:"PG"`
	Logging  LoggingConfig  `envconfig:"LOG"`
}

// NettingConfig controls the engine and the block pool.
type NettingConfig struct {
	Workers    int    `envconfig:"WORKERS" default:"0"` // 0 picks from the CPU count
	Partition  string `envconfig:"PARTITION" default:"contiguous"`
	WindowDays int    `envconfig:"WINDOW_DAYS" default:"30"`
}

// InputConfig controls loading.
type InputConfig struct {
	Sheet   string `envconfig:"SHEET"`
	TmpDir  string `envconfig:"TMP_DIR"`
	StdGzip bool   `envconfig:"STD_GZIP" default:"false"`
}

// OutputConfig controls the written artifacts.
type OutputConfig struct {
	Dir         string `envconfig:"DIR" default:"."`
	Opportunity string `envconfig:"OPPORTUNITY"`
	Formats     string `envconfig:"FORMATS" default:"xlsx,parquet,csv"`
	Summary     string `envconfig:"SUMMARY"`
}

// AWSConfig controls S3 input and upload.
type AWSConfig struct {
	Region string `envconfig:"REGION" default:"us-east-1"`
	Bucket string `envconfig:"BUCKET"`
	Prefix string `envconfig:"PREFIX" default:"rx-netting"`
}

// PostgresConfig controls the optional Postgres sink.
type PostgresConfig struct {
	URL string `envconfig:"URL"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `envconfig:"LEVEL" default:"info"`
	Format string `envconfig:"FORMAT" default:"text"`
}

// Load reads RXNET_* environment variables over the defaults.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks values that flags and env can both set.
func (c *Config) Validate() error {
	if c.Netting.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", c.Netting.Workers)
	}
	if c.Netting.WindowDays < 0 {
		return fmt.Errorf("window days must be >= 0, got %d", c.Netting.WindowDays)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log format must be text or json, got %q", c.Logging.Format)
	}
	if c.Output.Dir == "" {
		return fmt.Errorf("output dir must not be empty")
	}
	return nil
}
