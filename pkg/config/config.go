package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the runtime settings shared by the server, MCP and CLI commands.
type Config struct {
	// DataDir is the root folder holding one subdirectory per dataset.
	DataDir string `yaml:"data_dir"`
	// Addr is the REST listen address.
	Addr string `yaml:"addr"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// LogJSON switches slog to the JSON handler.
	LogJSON bool `yaml:"log_json"`
	// MemoryProfile is "default" or "low".
	MemoryProfile string `yaml:"memory_profile"`
	// ReadOnly opens every dataset store read-only.
	ReadOnly bool `yaml:"read_only"`
	// MaxBatch caps the number of sequences accepted by one batch request.
	MaxBatch int `yaml:"max_batch"`
	// MaxSamples caps the length of a single sample sequence.
	MaxSamples int `yaml:"max_samples"`
	// CacheSize is the number of decoded frames kept in memory.
	CacheSize int `yaml:"cache_size"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DataDir:       "./data",
		Addr:          ":8080",
		LogLevel:      "info",
		MemoryProfile: "default",
		MaxBatch:      256,
		MaxSamples:    1 << 24,
		CacheSize:     256,
	}
}

// Load builds a Config from defaults, an optional YAML file and the environment,
// in that order of precedence (environment wins). A missing .env file is not an error.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("SQ8_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("PORT"); v != "" {
		c.Addr = ":" + v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("SQ8_MEMORY_PROFILE"); v != "" {
		c.MemoryProfile = v
	}
	if v := os.Getenv("SQ8_READ_ONLY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid SQ8_READ_ONLY %q: %w", v, err)
		}
		c.ReadOnly = b
	}
	return nil
}

// Validate checks if the configuration is valid and returns an error if not.
func (c Config) Validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir must be set"))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log_level %q", c.LogLevel))
	}
	switch c.MemoryProfile {
	case "default", "low":
	default:
		errs = append(errs, fmt.Errorf("unknown memory_profile %q", c.MemoryProfile))
	}
	if c.MaxBatch <= 0 {
		errs = append(errs, fmt.Errorf("max_batch must be positive, got %d", c.MaxBatch))
	}
	if c.MaxSamples <= 0 {
		errs = append(errs, fmt.Errorf("max_samples must be positive, got %d", c.MaxSamples))
	}
	if c.CacheSize <= 0 {
		errs = append(errs, fmt.Errorf("cache_size must be positive, got %d", c.CacheSize))
	}
	return errors.Join(errs...)
}
