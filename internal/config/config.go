// Package config provides the explicit configuration surface for the velvet
// pattern engine. All thresholds, weights, windows, cooldowns, and queue caps
// are supplied here at construction; components hold no ambient globals.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all velvet engine configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Feature instances (sarcasm, crisis, masking)
	Features []FeatureConfig `yaml:"features"`

	// Batch scheduler
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Intervention dispatcher
	Dispatcher DispatcherConfig `yaml:"dispatcher"`

	// Severity FSM thresholds
	Severity SeverityConfig `yaml:"severity"`

	// Cross-feature coordinator
	Coordinator CoordinatorConfig `yaml:"coordinator"`

	// Multimodal fusion
	Fusion FusionConfig `yaml:"fusion"`

	// Resource manager
	Resources ResourcesConfig `yaml:"resources"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig configures the category file logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"` // debug, info, warn, error
}

// Load loads configuration from a YAML file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides lets VELVET_* environment variables override file values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("VELVET_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Logging.DebugMode = b
		}
	}
	if v := os.Getenv("VELVET_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("VELVET_BATCH_INTERVAL"); v != "" {
		if _, err := time.ParseDuration(v); err == nil {
			c.Scheduler.BatchInterval = v
		}
	}
	if v := os.Getenv("VELVET_UNIFIED_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Coordinator.UnifiedThreshold = f
		}
	}
}

// parseDuration parses a yaml duration string, returning fallback for empty.
func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	return time.ParseDuration(s)
}
