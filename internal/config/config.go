// Package config loads pool settings from a YAML or JSON file.
//
// # Example
//
//	pool:
//	  capacity: 16
//	  shutdown_timeout: 5s
//	log:
//	  verbosity: 3
//	metrics:
//	  addr: ":9100"
//	stats:
//	  redis_addr: "localhost:6379"
//	  prefix: "pulse:stats"
//	  ttl: 24h
//	  timeout: 500ms
//	  buffer: 1024
//	  track_names: true
//
// Fields left out keep the value from Default.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultCapacity mirrors the pool's built-in slot count.
const DefaultCapacity = 100

// Config is the resolved configuration.
type Config struct {
	Capacity        int
	ShutdownTimeout time.Duration
	Verbosity       int
	MetricsAddr     string
	Stats           StatsConfig
}

// StatsConfig selects where lifecycle events are recorded.
// An empty RedisAddr keeps them in memory.
type StatsConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Prefix        string
	TTL           time.Duration
	// Timeout bounds each write to the store.
	Timeout time.Duration
	// Buffer is how many events may queue before new ones are dropped.
	Buffer     int
	TrackNames bool
}

// FileConfig is the on-disk shape.
type FileConfig struct {
	Pool    PoolSection    `yaml:"pool" json:"pool"`
	Log     LogSection     `yaml:"log" json:"log"`
	Metrics MetricsSection `yaml:"metrics" json:"metrics"`
	Stats   StatsSection   `yaml:"stats" json:"stats"`
}

// PoolSection configures the slot table.
type PoolSection struct {
	Capacity        int    `yaml:"capacity" json:"capacity"`
	ShutdownTimeout string `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// LogSection configures logging.
type LogSection struct {
	Verbosity *int `yaml:"verbosity" json:"verbosity"`
}

// MetricsSection configures the Prometheus endpoint.
type MetricsSection struct {
	Addr string `yaml:"addr" json:"addr"`
}

// StatsSection configures the lifecycle stats store.
type StatsSection struct {
	RedisAddr     string `yaml:"redis_addr" json:"redis_addr"`
	RedisPassword string `yaml:"redis_password" json:"redis_password"`
	RedisDB       int    `yaml:"redis_db" json:"redis_db"`
	Prefix        string `yaml:"prefix" json:"prefix"`
	TTL           string `yaml:"ttl" json:"ttl"`
	Timeout       string `yaml:"timeout" json:"timeout"`
	Buffer        int    `yaml:"buffer" json:"buffer"`
	TrackNames    bool   `yaml:"track_names" json:"track_names"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Capacity:        DefaultCapacity,
		ShutdownTimeout: 10 * time.Second,
		Verbosity:       1,
		Stats: StatsConfig{
			Prefix:  "pulse:stats",
			TTL:     24 * time.Hour,
			Timeout: time.Second,
			Buffer:  256,
		},
	}
}

// LoadFile reads a config file; the format is chosen by extension.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var fc FileConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	return &fc, nil
}

// Resolve merges the file over Default and validates the result.
func (f *FileConfig) Resolve() (Config, error) {
	cfg := Default()

	if f.Pool.Capacity < 0 {
		return cfg, fmt.Errorf("invalid capacity %d: must be positive", f.Pool.Capacity)
	}
	if f.Pool.Capacity > 0 {
		cfg.Capacity = f.Pool.Capacity
	}
	if f.Pool.ShutdownTimeout != "" {
		d, err := time.ParseDuration(f.Pool.ShutdownTimeout)
		if err != nil {
			return cfg, fmt.Errorf("invalid shutdown_timeout: %w", err)
		}
		cfg.ShutdownTimeout = d
	}
	if f.Log.Verbosity != nil {
		cfg.Verbosity = *f.Log.Verbosity
	}
	cfg.MetricsAddr = f.Metrics.Addr

	cfg.Stats.RedisAddr = strings.TrimSpace(f.Stats.RedisAddr)
	cfg.Stats.RedisPassword = f.Stats.RedisPassword
	cfg.Stats.RedisDB = f.Stats.RedisDB
	if f.Stats.Prefix != "" {
		cfg.Stats.Prefix = strings.Trim(f.Stats.Prefix, ":")
	}
	if f.Stats.TTL != "" {
		d, err := time.ParseDuration(f.Stats.TTL)
		if err != nil {
			return cfg, fmt.Errorf("invalid stats ttl: %w", err)
		}
		cfg.Stats.TTL = d
	}
	if f.Stats.Timeout != "" {
		d, err := time.ParseDuration(f.Stats.Timeout)
		if err != nil {
			return cfg, fmt.Errorf("invalid stats timeout: %w", err)
		}
		if d <= 0 {
			return cfg, fmt.Errorf("invalid stats timeout %s: must be positive", d)
		}
		cfg.Stats.Timeout = d
	}
	if f.Stats.Buffer < 0 {
		return cfg, fmt.Errorf("invalid stats buffer %d: must not be negative", f.Stats.Buffer)
	}
	if f.Stats.Buffer > 0 {
		cfg.Stats.Buffer = f.Stats.Buffer
	}
	cfg.Stats.TrackNames = f.Stats.TrackNames
	return cfg, nil
}

// Load is LoadFile followed by Resolve. An empty path yields Default.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	fc, err := LoadFile(path)
	if err != nil {
		return Config{}, err
	}
	return fc.Resolve()
}
