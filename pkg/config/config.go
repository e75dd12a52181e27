// Package config provides configuration loading and management for tomoseg.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"gopkg.in/yaml.v3"

	"tomoseg/pkg/morphology"
	"tomoseg/pkg/segment"
	"tomoseg/pkg/threshold"
	"tomoseg/pkg/volumeio"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Segmentation parameters applied to every slice
	Segmentation struct {
		// BlockSize is the odd side length of the local threshold neighbourhood
		BlockSize int `yaml:"blockSize"`

		// Offset is subtracted from the local weighted mean
		Offset float64 `yaml:"offset"`

		// Method is gaussian, mean or median
		Method string `yaml:"method"`

		// Connectivity of the opening/closing structuring element, 4 or 8
		Connectivity int `yaml:"connectivity"`
	} `yaml:"segmentation"`

	// Processing parameters
	Processing struct {
		// NumWorkers is how many chunks are segmented concurrently
		NumWorkers int `yaml:"numWorkers"`

		// ChunkSize is the number of slices per unit of work. Zero splits
		// the volume evenly across workers.
		ChunkSize int `yaml:"chunkSize"`
	} `yaml:"processing"`

	// Output parameters
	Output struct {
		// Format is tiff, png or raw
		Format string `yaml:"format"`

		// PreviewDir receives orthogonal preview images when set
		PreviewDir string `yaml:"previewDir"`

		// Verbose enables debug logging
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Segmentation.BlockSize = segment.DefaultBlockSize
	cfg.Segmentation.Offset = 0
	cfg.Segmentation.Method = threshold.Gaussian.String()
	cfg.Segmentation.Connectivity = 8

	cfg.Processing.NumWorkers = runtime.NumCPU()
	cfg.Processing.ChunkSize = 0

	cfg.Output.Format = string(volumeio.FormatTIFF)
	cfg.Output.Verbose = false

	return cfg
}

// LoadConfig loads and validates configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg, err := ReadConfig(configPath)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}

	return cfg, nil
}

// ReadConfig is LoadConfig without validation, for callers that override
// values before calling Validate themselves.
func ReadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}

// SegmentParams converts the segmentation section into validated parameters
func (c *Config) SegmentParams() (segment.Params, error) {
	method, err := threshold.ParseMethod(c.Segmentation.Method)
	if err != nil {
		return segment.Params{}, err
	}
	conn, err := morphology.ParseConnectivity(strconv.Itoa(c.Segmentation.Connectivity))
	if err != nil {
		return segment.Params{}, err
	}
	return segment.NewParams(c.Segmentation.BlockSize, c.Segmentation.Offset,
		segment.WithMethod(method), segment.WithConnectivity(conn))
}

// Validate checks every section of the configuration
func (c *Config) Validate() error {
	if _, err := c.SegmentParams(); err != nil {
		return err
	}
	if c.Processing.NumWorkers < 0 {
		return fmt.Errorf("numWorkers must not be negative, got %d", c.Processing.NumWorkers)
	}
	if c.Processing.ChunkSize < 0 {
		return fmt.Errorf("chunkSize must not be negative, got %d", c.Processing.ChunkSize)
	}
	if _, err := volumeio.ParseFormat(c.Output.Format); err != nil {
		return err
	}
	return nil
}
