// Package config provides the configuration of the planmentor service.
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

// Config holds the full service configuration.
type Config struct {
	// DataDir is the base directory for local files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Scopes are attached at startup; others are attached on first use
	Scopes []string `json:"scopes" yaml:"scopes"`

	HTTP          HTTPConfig          `json:"http" yaml:"http"`
	Stats         StatsConfig         `json:"stats" yaml:"stats"`
	Heuristic     HeuristicConfig     `json:"heuristic" yaml:"heuristic"`
	AutoMode      AutoModeConfig      `json:"automode" yaml:"automode"`
	Reaper        ReaperConfig        `json:"reaper" yaml:"reaper"`
	Daemon        DaemonConfig        `json:"daemon" yaml:"daemon"`
	Telemetry     TelemetryConfig     `json:"telemetry" yaml:"telemetry"`
	Storage       StorageConfig       `json:"storage" yaml:"storage"`
	Consistency   ConsistencyConfig   `json:"consistency" yaml:"consistency"`
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
	Log           LogConfig           `json:"log" yaml:"log"`
}

// HTTPConfig holds admin HTTP server configuration.
type HTTPConfig struct {
	// Addr is the admin API listen address
	Addr string `json:"addr" yaml:"addr"`

	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// StatsConfig sizes the shared statistics table.
type StatsConfig struct {
	// RingCapacity is the number of samples kept per fingerprint
	RingCapacity int `json:"ring_capacity" yaml:"ring_capacity"`

	// Shards is the number of independently locked table shards
	Shards int `json:"shards" yaml:"shards"`
}

// HeuristicConfig tunes the mode switching rules.
type HeuristicConfig struct {
	StableCV         float64 `json:"stable_cv" yaml:"stable_cv"`
	UnstableCV       float64 `json:"unstable_cv" yaml:"unstable_cv"`
	RegressionFactor float64 `json:"regression_factor" yaml:"regression_factor"`

	// PinOnRevert pins entries the heuristic moves from custom back to generic
	PinOnRevert bool `json:"pin_on_revert" yaml:"pin_on_revert"`

	// UseExternal consults the telemetry source when one is configured
	UseExternal bool `json:"use_external" yaml:"use_external"`
}

// AutoModeConfig controls metering of statements left in AUTO.
type AutoModeConfig struct {
	Enabled      bool `json:"enabled" yaml:"enabled"`
	MinMeterings int  `json:"min_meterings" yaml:"min_meterings"`
	MaxMeterings int  `json:"max_meterings" yaml:"max_meterings"`
}

// ReaperConfig bounds entries kept after their last handle is released.
type ReaperConfig struct {
	IdleTTL    time.Duration `json:"idle_ttl" yaml:"idle_ttl"`
	MaxEntries int           `json:"max_entries" yaml:"max_entries"`
}

// DaemonConfig holds background task intervals. Zero disables a task.
type DaemonConfig struct {
	ReconsiderInterval time.Duration `json:"reconsider_interval" yaml:"reconsider_interval"`
	ReapInterval       time.Duration `json:"reap_interval" yaml:"reap_interval"`
	SnapshotInterval   time.Duration `json:"snapshot_interval" yaml:"snapshot_interval"`

	// SnapshotRetain keeps this many snapshots per scope (0 = all)
	SnapshotRetain int `json:"snapshot_retain" yaml:"snapshot_retain"`
}

// TelemetryConfig configures the external statistics source.
type TelemetryConfig struct {
	// SQLitePath is the statistics database; empty disables the source
	SQLitePath string `json:"sqlite_path" yaml:"sqlite_path"`

	// Table is the statistics table name
	Table string `json:"table" yaml:"table"`

	// FetchConcurrency bounds concurrent lookups during reconsider
	FetchConcurrency int `json:"fetch_concurrency" yaml:"fetch_concurrency"`
}

// StorageConfig holds snapshot storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	Bucket       string `json:"bucket" yaml:"bucket"`
	Region       string `json:"region" yaml:"region"`
	Endpoint     string `json:"endpoint" yaml:"endpoint"`
	UsePathStyle bool   `json:"use_path_style" yaml:"use_path_style"`
}

// ConsistencyConfig controls how bookkeeping faults are handled.
type ConsistencyConfig struct {
	// Strict panics on consistency faults; for debugging only
	Strict bool `json:"strict" yaml:"strict"`
}

// ObservabilityConfig controls decision tracking.
type ObservabilityConfig struct {
	// DecisionWindow drops rule tallies not seen for this long (0 = never)
	DecisionWindow time.Duration `json:"decision_window" yaml:"decision_window"`
}

// LogConfig controls logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `json:"level" yaml:"level"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/planmentor",
		HTTP: HTTPConfig{
			Addr:         ":8090",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Stats: StatsConfig{
			RingCapacity: 10,
			Shards:       16,
		},
		Heuristic: HeuristicConfig{
			StableCV:         0.3,
			UnstableCV:       0.5,
			RegressionFactor: 2.0,
			UseExternal:      true,
		},
		AutoMode: AutoModeConfig{
			MinMeterings: 100,
			MaxMeterings: 1000,
		},
		Reaper: ReaperConfig{
			IdleTTL:    24 * time.Hour,
			MaxEntries: 10000,
		},
		Daemon: DaemonConfig{
			ReconsiderInterval: time.Minute,
			ReapInterval:       10 * time.Minute,
		},
		Telemetry: TelemetryConfig{
			Table:            "statement_stats",
			FetchConcurrency: 4,
		},
		Storage: StorageConfig{
			Type: "local",
		},
		Observability: ObservabilityConfig{
			DecisionWindow: 24 * time.Hour,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/planmentor"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Stats.RingCapacity < 2 {
		return fmt.Errorf("stats.ring_capacity must be at least 2, got %d", c.Stats.RingCapacity)
	}
	if c.Stats.Shards < 1 {
		return fmt.Errorf("stats.shards must be at least 1, got %d", c.Stats.Shards)
	}

	h := c.Heuristic
	if h.StableCV <= 0 || h.UnstableCV <= 0 {
		return fmt.Errorf("heuristic thresholds must be positive")
	}
	if h.UnstableCV < h.StableCV {
		return fmt.Errorf("heuristic.unstable_cv (%g) must not be below heuristic.stable_cv (%g)", h.UnstableCV, h.StableCV)
	}
	if h.RegressionFactor <= 1 {
		return fmt.Errorf("heuristic.regression_factor must be greater than 1, got %g", h.RegressionFactor)
	}

	if c.AutoMode.MinMeterings < 1 || c.AutoMode.MaxMeterings < c.AutoMode.MinMeterings {
		return fmt.Errorf("automode meterings must satisfy 1 <= min_meterings <= max_meterings")
	}

	if c.Reaper.IdleTTL < 0 || c.Reaper.MaxEntries < 0 {
		return fmt.Errorf("reaper limits must not be negative")
	}
	if c.Daemon.ReconsiderInterval < 0 || c.Daemon.ReapInterval < 0 || c.Daemon.SnapshotInterval < 0 {
		return fmt.Errorf("daemon intervals must not be negative")
	}
	if c.Observability.DecisionWindow < 0 {
		return fmt.Errorf("observability.decision_window must not be negative")
	}
	if c.Telemetry.FetchConcurrency < 1 {
		return fmt.Errorf("telemetry.fetch_concurrency must be at least 1, got %d", c.Telemetry.FetchConcurrency)
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}
	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	for _, s := range c.Scopes {
		if s == "" || strings.ContainsAny(s, "/\\") {
			return fmt.Errorf("invalid scope name %q", s)
		}
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the PLANMENTOR_ prefix.
func LoadFromEnv(cfg *Config) {
	str := func(name string, dst *string) {
		if v := os.Getenv("PLANMENTOR_" + name); v != "" {
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if v := os.Getenv("PLANMENTOR_" + name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	float := func(name string, dst *float64) {
		if v := os.Getenv("PLANMENTOR_" + name); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}
	boolean := func(name string, dst *bool) {
		if v := os.Getenv("PLANMENTOR_" + name); v != "" {
			*dst = v == "true" || v == "1"
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v := os.Getenv("PLANMENTOR_" + name); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}

	str("DATA_DIR", &cfg.DataDir)
	if v := os.Getenv("PLANMENTOR_SCOPES"); v != "" {
		cfg.Scopes = nil
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cfg.Scopes = append(cfg.Scopes, s)
			}
		}
	}

	// HTTP configuration
	str("HTTP_ADDR", &cfg.HTTP.Addr)

	// Table and heuristic
	integer("STATS_RING_CAPACITY", &cfg.Stats.RingCapacity)
	integer("STATS_SHARDS", &cfg.Stats.Shards)
	float("HEURISTIC_STABLE_CV", &cfg.Heuristic.StableCV)
	float("HEURISTIC_UNSTABLE_CV", &cfg.Heuristic.UnstableCV)
	float("HEURISTIC_REGRESSION_FACTOR", &cfg.Heuristic.RegressionFactor)
	boolean("HEURISTIC_PIN_ON_REVERT", &cfg.Heuristic.PinOnRevert)
	boolean("HEURISTIC_USE_EXTERNAL", &cfg.Heuristic.UseExternal)
	boolean("AUTOMODE_ENABLED", &cfg.AutoMode.Enabled)

	// Background tasks
	duration("REAPER_IDLE_TTL", &cfg.Reaper.IdleTTL)
	integer("REAPER_MAX_ENTRIES", &cfg.Reaper.MaxEntries)
	duration("DAEMON_RECONSIDER_INTERVAL", &cfg.Daemon.ReconsiderInterval)
	duration("DAEMON_REAP_INTERVAL", &cfg.Daemon.ReapInterval)
	duration("DAEMON_SNAPSHOT_INTERVAL", &cfg.Daemon.SnapshotInterval)
	integer("DAEMON_SNAPSHOT_RETAIN", &cfg.Daemon.SnapshotRetain)

	// Telemetry
	str("TELEMETRY_SQLITE_PATH", &cfg.Telemetry.SQLitePath)
	str("TELEMETRY_TABLE", &cfg.Telemetry.Table)
	integer("TELEMETRY_FETCH_CONCURRENCY", &cfg.Telemetry.FetchConcurrency)

	// Storage configuration
	str("STORAGE_TYPE", &cfg.Storage.Type)
	str("STORAGE_PATH", &cfg.Storage.Path)
	str("S3_BUCKET", &cfg.Storage.S3.Bucket)
	str("S3_REGION", &cfg.Storage.S3.Region)
	str("S3_ENDPOINT", &cfg.Storage.S3.Endpoint)

	boolean("CONSISTENCY_STRICT", &cfg.Consistency.Strict)
	duration("OBSERVABILITY_DECISION_WINDOW", &cfg.Observability.DecisionWindow)
	str("LOG_LEVEL", &cfg.Log.Level)
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
