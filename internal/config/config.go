// Package config loads and validates the stepcore daemon configuration.
package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main stepcore configuration
type Config struct {
	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Retry engine defaults
	Retry RetryConfig `json:"retry" mapstructure:"retry"`

	// Run log persistence
	Runlog RunlogConfig `json:"runlog" mapstructure:"runlog"`

	// Control bridge server
	Bridge BridgeConfig `json:"bridge" mapstructure:"bridge"`

	// Plan regeneration
	Plan PlanConfig `json:"plan" mapstructure:"plan"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// RetryConfig holds retry engine defaults
type RetryConfig struct {
	MaxAttempts      int     `json:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `json:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `json:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `json:"multiplier" mapstructure:"multiplier"`
	Jitter           float64 `json:"jitter" mapstructure:"jitter"`
}

// RunlogConfig holds run log persistence settings
type RunlogConfig struct {
	Path          string `json:"path" mapstructure:"path"`
	RetentionDays int    `json:"retention_days" mapstructure:"retention_days"`
	SweepSchedule string `json:"sweep_schedule" mapstructure:"sweep_schedule"`
}

// BridgeConfig holds control bridge server configuration
type BridgeConfig struct {
	Enabled      bool   `json:"enabled" mapstructure:"enabled"`
	Port         int    `json:"port" mapstructure:"port"`
	SharedSecret string `json:"shared_secret" mapstructure:"shared_secret"`
}

// PlanConfig holds plan regeneration settings
type PlanConfig struct {
	RegenInterval int `json:"regen_interval" mapstructure:"regen_interval"`
}

// TracingConfig holds tracing settings
type TracingConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"service_name" mapstructure:"service_name"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		DataDir: "",
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Retry: RetryConfig{
			MaxAttempts:      3,
			InitialBackoffMs: 500,
			MaxBackoffMs:     30000,
			Multiplier:       2.0,
			Jitter:           0.2,
		},
		Runlog: RunlogConfig{
			RetentionDays: 7,
			SweepSchedule: "0 3 * * *",
		},
		Bridge: BridgeConfig{
			Enabled:      false,
			Port:         8420,
			SharedSecret: "",
		},
		Plan: PlanConfig{
			RegenInterval: 10,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "stepcore",
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.InitialBackoffMs < 0 {
		return fmt.Errorf("retry.initial_backoff_ms must be >= 0")
	}
	if c.Retry.MaxBackoffMs < c.Retry.InitialBackoffMs {
		return fmt.Errorf("retry.max_backoff_ms must be >= retry.initial_backoff_ms")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be >= 1, got %f", c.Retry.Multiplier)
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		return fmt.Errorf("retry.jitter must be between 0 and 1, got %f", c.Retry.Jitter)
	}

	if c.Runlog.RetentionDays < 1 {
		return fmt.Errorf("runlog.retention_days must be >= 1, got %d", c.Runlog.RetentionDays)
	}

	if c.Bridge.Enabled && c.Bridge.Port <= 0 {
		return fmt.Errorf("bridge.port must be positive when the bridge is enabled, got %d", c.Bridge.Port)
	}

	if c.Plan.RegenInterval < 1 {
		return fmt.Errorf("plan.regen_interval must be >= 1, got %d", c.Plan.RegenInterval)
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.Logging.Level)
	}

	return nil
}
