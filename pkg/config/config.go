// Package config holds application configuration and logger construction.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration.
type Config struct {
	LogLevel       string        `default:"info"`
	ScanTimeout    time.Duration
	ConnectTimeout time.Duration
	OutputFormat   string `default:"table"` // table, json
}

// UnmarshalYAML accepts durations in the usual "10s" notation. Fields absent
// from the document keep whatever value the Config already holds.
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		LogLevel       string `yaml:"log_level"`
		ScanTimeout    string `yaml:"scan_timeout"`
		ConnectTimeout string `yaml:"connect_timeout"`
		OutputFormat   string `yaml:"output_format"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	if raw.LogLevel != "" {
		c.LogLevel = raw.LogLevel
	}
	if raw.OutputFormat != "" {
		c.OutputFormat = raw.OutputFormat
	}
	if raw.ScanTimeout != "" {
		d, err := time.ParseDuration(raw.ScanTimeout)
		if err != nil {
			return fmt.Errorf("invalid scan_timeout: %w", err)
		}
		c.ScanTimeout = d
	}
	if raw.ConnectTimeout != "" {
		d, err := time.ParseDuration(raw.ConnectTimeout)
		if err != nil {
			return fmt.Errorf("invalid connect_timeout: %w", err)
		}
		c.ConnectTimeout = d
	}
	return nil
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "dicelink", "config.yaml")
}

// Default returns a Config with default values applied.
func Default() *Config {
	cfg := &Config{
		ScanTimeout:    10 * time.Second,
		ConnectTimeout: 30 * time.Second,
	}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads and parses a YAML config file. Missing fields keep their
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	if c.OutputFormat != "table" && c.OutputFormat != "json" {
		return fmt.Errorf("invalid output_format %q (must be table or json)", c.OutputFormat)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be positive")
	}
	return nil
}

// NewLogger creates a configured logger instance.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
