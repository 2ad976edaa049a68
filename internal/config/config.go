// Package config loads the node's tuning parameters from a JSON file.
// Fields omitted from the file keep their defaults, so partial configs are
// safe; a missing file means all defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds the node's tunable parameters. All fields are optional; the
// Get* accessors supply defaults for unset fields.
type Config struct {
	// Classifier artifact paths
	ModelPath  *string `json:"model_path,omitempty"`
	LabelsPath *string `json:"labels_path,omitempty"`

	// Capture gate params
	CaptureDir      *string `json:"capture_dir,omitempty"`
	CaptureInterval *string `json:"capture_interval,omitempty"` // duration string like "1s"

	// Diagnostics params
	DebugInterval     *int    `json:"debug_interval,omitempty"` // log every Nth frame
	LogThrottleWindow *string `json:"log_throttle_window,omitempty"`

	// Behavior loop params
	TickInterval *string  `json:"tick_interval,omitempty"` // duration string like "100ms"
	ForwardSpeed *float64 `json:"forward_speed,omitempty"` // linear_x when no sign detected
	TurnRate     *float64 `json:"turn_rate,omitempty"`     // |angular_z| during a turn

	// Storage params
	DBPath *string `json:"db_path,omitempty"`
}

// Load reads a Config from a JSON file. The file must have a .json extension
// and be under the max file size.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	if c.ForwardSpeed != nil {
		if *c.ForwardSpeed < 0 || *c.ForwardSpeed > 2 {
			return fmt.Errorf("forward_speed must be between 0 and 2 m/s, got %f", *c.ForwardSpeed)
		}
	}

	if c.TurnRate != nil {
		if *c.TurnRate < 0 || *c.TurnRate > 4 {
			return fmt.Errorf("turn_rate must be between 0 and 4 rad/s, got %f", *c.TurnRate)
		}
	}

	if c.DebugInterval != nil && *c.DebugInterval < 1 {
		return fmt.Errorf("debug_interval must be at least 1, got %d", *c.DebugInterval)
	}

	for name, field := range map[string]*string{
		"tick_interval":       c.TickInterval,
		"capture_interval":    c.CaptureInterval,
		"log_throttle_window": c.LogThrottleWindow,
	} {
		if field == nil || *field == "" {
			continue
		}
		d, err := time.ParseDuration(*field)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *field, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	return nil
}

// GetModelPath returns the classifier model artifact path or the default.
func (c *Config) GetModelPath() string {
	if c.ModelPath == nil || *c.ModelPath == "" {
		return "models/sign_model.json"
	}
	return *c.ModelPath
}

// GetLabelsPath returns the labels file path or the default.
func (c *Config) GetLabelsPath() string {
	if c.LabelsPath == nil || *c.LabelsPath == "" {
		return "models/labels.txt"
	}
	return *c.LabelsPath
}

// GetCaptureDir returns the capture output directory or the default.
func (c *Config) GetCaptureDir() string {
	if c.CaptureDir == nil || *c.CaptureDir == "" {
		return "captures"
	}
	return *c.CaptureDir
}

// GetCaptureInterval parses and returns the capture interval.
func (c *Config) GetCaptureInterval() time.Duration {
	return c.duration(c.CaptureInterval, time.Second)
}

// GetDebugInterval returns the frame sampling interval for diagnostics.
func (c *Config) GetDebugInterval() int {
	if c.DebugInterval == nil {
		return 10
	}
	return *c.DebugInterval
}

// GetLogThrottleWindow parses and returns the throttled-log window.
func (c *Config) GetLogThrottleWindow() time.Duration {
	return c.duration(c.LogThrottleWindow, 2*time.Second)
}

// GetTickInterval parses and returns the behavior loop period.
func (c *Config) GetTickInterval() time.Duration {
	return c.duration(c.TickInterval, 100*time.Millisecond)
}

// GetForwardSpeed returns the cruise speed used when no sign is detected.
func (c *Config) GetForwardSpeed() float64 {
	if c.ForwardSpeed == nil {
		return 0.2
	}
	return *c.ForwardSpeed
}

// GetTurnRate returns the angular speed magnitude used during a turn.
func (c *Config) GetTurnRate() float64 {
	if c.TurnRate == nil {
		return 0.5
	}
	return *c.TurnRate
}

// GetDBPath returns the sqlite database path or the default.
func (c *Config) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "signpilot.db"
	}
	return *c.DBPath
}

func (c *Config) duration(field *string, fallback time.Duration) time.Duration {
	if field == nil || *field == "" {
		return fallback
	}
	d, err := time.ParseDuration(*field)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
