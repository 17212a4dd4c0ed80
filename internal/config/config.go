// Package config loads DeepAir settings from a JSON or YAML file. Every
// field is optional; the Get* accessors supply defaults for anything unset,
// so partial files are safe.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the example configuration shipped with the repo.
const DefaultConfigPath = "config/deepair.defaults.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Config is the root configuration. Durations are strings such as "500ms".
type Config struct {
	// Serial
	Ports            []string `json:"ports,omitempty" yaml:"ports,omitempty"`
	BaudRate         *int     `json:"baud_rate,omitempty" yaml:"baud_rate,omitempty"`
	ReadTimeout      *string  `json:"read_timeout,omitempty" yaml:"read_timeout,omitempty"`
	HandshakeTimeout *string  `json:"handshake_timeout,omitempty" yaml:"handshake_timeout,omitempty"`
	SettleDelay      *string  `json:"settle_delay,omitempty" yaml:"settle_delay,omitempty"`
	Backoff          *string  `json:"backoff,omitempty" yaml:"backoff,omitempty"`

	// Decoding and live state
	MaxQuiet     *string `json:"max_quiet,omitempty" yaml:"max_quiet,omitempty"`
	StrictFrames *bool   `json:"strict_frames,omitempty" yaml:"strict_frames,omitempty"`
	WindowSize   *int    `json:"window_size,omitempty" yaml:"window_size,omitempty"`
	StaleAfter   *string `json:"stale_after,omitempty" yaml:"stale_after,omitempty"`

	// Persistence
	CSVPath    *string `json:"csv_path,omitempty" yaml:"csv_path,omitempty"`
	SQLitePath *string `json:"sqlite_path,omitempty" yaml:"sqlite_path,omitempty"`

	// Outputs
	Listen          *string `json:"listen,omitempty" yaml:"listen,omitempty"`
	ConsoleInterval *string `json:"console_interval,omitempty" yaml:"console_interval,omitempty"`

	// Prediction
	Predictor       *string `json:"predictor,omitempty" yaml:"predictor,omitempty"`
	PredictorWindow *int    `json:"predictor_window,omitempty" yaml:"predictor_window,omitempty"`

	// Recovery
	RediscoverAttempts *int    `json:"rediscover_attempts,omitempty" yaml:"rediscover_attempts,omitempty"`
	RediscoverDelay    *string `json:"rediscover_delay,omitempty" yaml:"rediscover_delay,omitempty"`

	Verbose *bool `json:"verbose,omitempty" yaml:"verbose,omitempty"`
}

func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// Empty returns a Config with every field unset.
func Empty() *Config {
	return &Config{}
}

// Load reads a .json, .yaml or .yml file. The file must be under 1MB.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) durations() map[string]*string {
	return map[string]*string{
		"read_timeout":      c.ReadTimeout,
		"handshake_timeout": c.HandshakeTimeout,
		"settle_delay":      c.SettleDelay,
		"backoff":           c.Backoff,
		"max_quiet":         c.MaxQuiet,
		"stale_after":       c.StaleAfter,
		"console_interval":  c.ConsoleInterval,
		"rediscover_delay":  c.RediscoverDelay,
	}
}

// Validate checks that every set value is usable.
func (c *Config) Validate() error {
	for name, v := range c.durations() {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		// console_interval 0 disables the console
		if d < 0 || (d == 0 && name != "console_interval") {
			return fmt.Errorf("%s must be positive, got %s", name, *v)
		}
	}

	if c.BaudRate != nil && *c.BaudRate <= 0 {
		return fmt.Errorf("baud_rate must be positive, got %d", *c.BaudRate)
	}
	if c.WindowSize != nil && *c.WindowSize < 1 {
		return fmt.Errorf("window_size must be at least 1, got %d", *c.WindowSize)
	}
	if c.PredictorWindow != nil && *c.PredictorWindow < 1 {
		return fmt.Errorf("predictor_window must be at least 1, got %d", *c.PredictorWindow)
	}
	if c.GetPredictorWindow() > c.GetWindowSize() {
		return fmt.Errorf("predictor_window %d exceeds window_size %d", c.GetPredictorWindow(), c.GetWindowSize())
	}
	if c.RediscoverAttempts != nil && *c.RediscoverAttempts < 1 {
		return fmt.Errorf("rediscover_attempts must be at least 1, got %d", *c.RediscoverAttempts)
	}
	if c.Predictor != nil {
		switch *c.Predictor {
		case "", "none", "trend", "mean":
		default:
			return fmt.Errorf("predictor must be one of none, trend, mean; got %q", *c.Predictor)
		}
	}
	for _, p := range c.Ports {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("ports must not contain empty entries")
		}
	}
	return nil
}

// Set assigns one value by its config key, parsing it from text. Command
// line flags use it to override file values.
func (c *Config) Set(key, value string) error {
	key = strings.ReplaceAll(key, "-", "_")
	if p, ok := c.durationField(key); ok {
		*p = ptrString(value)
		return c.Validate()
	}

	switch key {
	case "ports", "port":
		c.Ports = nil
		for _, p := range strings.Split(value, ",") {
			if p = strings.TrimSpace(p); p != "" {
				c.Ports = append(c.Ports, p)
			}
		}
	case "baud_rate", "window_size", "predictor_window", "rediscover_attempts":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, value, err)
		}
		switch key {
		case "baud_rate":
			c.BaudRate = ptrInt(n)
		case "window_size":
			c.WindowSize = ptrInt(n)
		case "predictor_window":
			c.PredictorWindow = ptrInt(n)
		default:
			c.RediscoverAttempts = ptrInt(n)
		}
	case "strict_frames", "verbose":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, value, err)
		}
		if key == "verbose" {
			c.Verbose = ptrBool(b)
		} else {
			c.StrictFrames = ptrBool(b)
		}
	case "csv_path":
		c.CSVPath = ptrString(value)
	case "sqlite_path":
		c.SQLitePath = ptrString(value)
	case "listen":
		c.Listen = ptrString(value)
	case "predictor":
		c.Predictor = ptrString(value)
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	return c.Validate()
}

func (c *Config) durationField(key string) (**string, bool) {
	switch key {
	case "read_timeout":
		return &c.ReadTimeout, true
	case "handshake_timeout":
		return &c.HandshakeTimeout, true
	case "settle_delay":
		return &c.SettleDelay, true
	case "backoff":
		return &c.Backoff, true
	case "max_quiet":
		return &c.MaxQuiet, true
	case "stale_after":
		return &c.StaleAfter, true
	case "console_interval":
		return &c.ConsoleInterval, true
	case "rediscover_delay":
		return &c.RediscoverDelay, true
	}
	return nil, false
}

func duration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetPorts returns the configured candidates; empty means auto-detect.
func (c *Config) GetPorts() []string {
	return append([]string(nil), c.Ports...)
}

func (c *Config) GetBaudRate() int {
	if c.BaudRate == nil {
		return 9600
	}
	return *c.BaudRate
}

func (c *Config) GetReadTimeout() time.Duration { return duration(c.ReadTimeout, time.Second) }

func (c *Config) GetHandshakeTimeout() time.Duration {
	return duration(c.HandshakeTimeout, 3*time.Second)
}

func (c *Config) GetSettleDelay() time.Duration { return duration(c.SettleDelay, 100*time.Millisecond) }

func (c *Config) GetBackoff() time.Duration { return duration(c.Backoff, 500*time.Millisecond) }

func (c *Config) GetMaxQuiet() time.Duration { return duration(c.MaxQuiet, 2*time.Second) }

func (c *Config) GetStrictFrames() bool {
	return c.StrictFrames != nil && *c.StrictFrames
}

// GetWindowSize returns the live history window; 30 by default.
func (c *Config) GetWindowSize() int {
	if c.WindowSize == nil {
		return 30
	}
	return *c.WindowSize
}

func (c *Config) GetStaleAfter() time.Duration { return duration(c.StaleAfter, 10*time.Second) }

func (c *Config) GetCSVPath() string {
	if c.CSVPath == nil {
		return "live_air_quality.csv"
	}
	return *c.CSVPath
}

// GetSQLitePath returns "" when the SQLite log is disabled.
func (c *Config) GetSQLitePath() string {
	if c.SQLitePath == nil {
		return ""
	}
	return *c.SQLitePath
}

func (c *Config) GetListen() string {
	if c.Listen == nil {
		return ":5000"
	}
	return *c.Listen
}

// GetConsoleInterval returns 0 when the console renderer is off.
func (c *Config) GetConsoleInterval() time.Duration { return duration(c.ConsoleInterval, 0) }

func (c *Config) GetPredictor() string {
	if c.Predictor == nil || *c.Predictor == "" {
		return "none"
	}
	return *c.Predictor
}

func (c *Config) GetPredictorWindow() int {
	if c.PredictorWindow == nil {
		return 10
	}
	return *c.PredictorWindow
}

func (c *Config) GetRediscoverAttempts() int {
	if c.RediscoverAttempts == nil {
		return 5
	}
	return *c.RediscoverAttempts
}

func (c *Config) GetRediscoverDelay() time.Duration { return duration(c.RediscoverDelay, time.Second) }

func (c *Config) GetVerbose() bool {
	return c.Verbose != nil && *c.Verbose
}
