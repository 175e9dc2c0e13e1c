// Package config provides configuration loading and management for pencilbeam.
// It handles loading configuration from YAML files, applies environment
// overrides and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Import parameters
	Import struct {
		// SeriesID selects a series explicitly; empty means the first one found
		SeriesID string `yaml:"seriesID" env:"SERIES_ID"`

		// Workers specifies how many files are parsed concurrently
		Workers int `yaml:"workers" env:"WORKERS"`
	} `yaml:"import" envPrefix:"IMPORT_"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose" env:"VERBOSE"`

		// SaveSlices determines whether preview slices of the image are written
		SaveSlices bool `yaml:"saveSlices" env:"SAVE_SLICES"`

		// SlicesDir is the directory where preview slices are written
		SlicesDir string `yaml:"slicesDir" env:"SLICES_DIR"`
	} `yaml:"output" envPrefix:"OUTPUT_"`
}

// EnvPrefix prefixes every environment variable read by ApplyEnv
const EnvPrefix = "PENCILBEAM_"

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default import parameters
	cfg.Import.SeriesID = ""
	cfg.Import.Workers = runtime.NumCPU() // Use all available cores by default

	// Set default output parameters
	cfg.Output.Verbose = true
	cfg.Output.SaveSlices = false
	cfg.Output.SlicesDir = "slices"

	return cfg
}

// LoadConfig loads configuration from a YAML file and applies environment
// overrides. If the file doesn't exist, the defaults are used.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Read config file if it exists
	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("error reading config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with any PENCILBEAM_* environment variables that
// are set. Unset variables leave the current values untouched.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("error parsing environment: %w", err)
	}
	return nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
