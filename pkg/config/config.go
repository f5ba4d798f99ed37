// Package config provides configuration loading and management for
// fusionalign. It handles loading configuration from YAML files and
// provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the engine configuration loaded from YAML
type Config struct {
	// Geometry tolerances
	Geometry struct {
		// LocationToleranceMM is the distance under which two slice
		// locations count as the same physical position (duplicates)
		LocationToleranceMM float64 `yaml:"locationToleranceMM"`

		// OrientationTolerance is the maximum Euclidean difference
		// between direction cosine vectors for two series to count
		// as co-oriented
		OrientationTolerance float64 `yaml:"orientationTolerance"`

		// RatioBound is the thickness/spacing ratio beyond which the
		// 3D path is required
		RatioBound float64 `yaml:"ratioBound"`
	} `yaml:"geometry"`

	// Resampling parameters
	Resampling struct {
		// DefaultKernel is the interpolation kernel used when the
		// caller does not specify one: nearest, linear, or cubic
		DefaultKernel string `yaml:"defaultKernel"`

		// CacheEnabled controls whether resampled volumes are cached
		// per series pair
		CacheEnabled bool `yaml:"cacheEnabled"`
	} `yaml:"resampling"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default geometry tolerances
	cfg.Geometry.LocationToleranceMM = 0.01
	cfg.Geometry.OrientationTolerance = 0.1
	cfg.Geometry.RatioBound = 2.0

	// Set default resampling parameters
	cfg.Resampling.DefaultKernel = "linear"
	cfg.Resampling.CacheEnabled = true

	// Set default output parameters
	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
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
