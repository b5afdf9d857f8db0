package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the caliber configuration file
// (~/.config/caliber/config.yaml). Pointer fields distinguish "not set" from
// zero values.
type Config struct {
	CalibMode   string `yaml:"calib_mode"`
	DatasetSize *int64 `yaml:"dataset_size"`
	Preprocess  string `yaml:"preprocess"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "caliber", "config.yaml")
}

// loadConfig reads the config file. Returns a zero Config if the file
// doesn't exist or cannot be parsed.
func loadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path) //nolint:gosec // fixed user config location
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}

// applyCalibrateConfig applies config file defaults to calibrate command
// variables when the corresponding CLI flag was not explicitly set.
func applyCalibrateConfig(c *cli.Command, cfg Config,
	calibMode, preprocess, logLevel, logFormat *string, datasetSize *int,
) {
	if cfg.CalibMode != "" && !c.IsSet("calib-mode") {
		*calibMode = cfg.CalibMode
	}
	if cfg.Preprocess != "" && !c.IsSet("preprocess") {
		*preprocess = cfg.Preprocess
	}
	if cfg.DatasetSize != nil && !c.IsSet("dataset-size") {
		*datasetSize = int(*cfg.DatasetSize)
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		*logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		*logFormat = cfg.LogFormat
	}
}
