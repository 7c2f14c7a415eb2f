package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/dicelink/pkg/config"
)

// loadConfig resolves the effective config: the file named by --config, the
// default config file when present, or built-in defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		return config.Load(path)
	}

	if def := config.DefaultConfigPath(); def != "" {
		if _, err := os.Stat(def); err == nil {
			return config.Load(def)
		}
	}
	return config.Default(), nil
}

// configureLogger creates a logger from the effective config, with the
// --log-level flag taking precedence over the config file.
func configureLogger(cmd *cobra.Command, cfg *config.Config) (*logrus.Logger, error) {
	logger := cfg.NewLogger()

	if levelStr, _ := cmd.Flags().GetString("log-level"); levelStr != "" {
		level, err := logrus.ParseLevel(levelStr)
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", levelStr)
		}
		logger.SetLevel(level)
	}

	return logger, nil
}
