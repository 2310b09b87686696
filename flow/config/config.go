// Package config loads runtime configuration from a YAML file, applies
// environment variable overrides, and optionally watches the file for
// changes.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML accepts Go duration strings like
// "250ms" or "5m".
type Duration time.Duration

// Std converts back to time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the full runtime configuration. Zero values fall back to the
// defaults applied by Default.
type Config struct {
	// DataDir anchors all relative persistence paths.
	DataDir string `yaml:"data_dir"`

	Logging    Logging    `yaml:"logging"`
	State      State      `yaml:"state"`
	Checkpoint Checkpoint `yaml:"checkpoint"`
	Retry      Retry      `yaml:"retry"`
	Recovery   Recovery   `yaml:"recovery"`
	Progress   Progress   `yaml:"progress"`
	ExecLog    ExecLog    `yaml:"execution_log"`
	Metrics    Metrics    `yaml:"metrics"`
}

// Logging selects the emitter wiring.
type Logging struct {
	// Format is "text" or "json".
	Format string `yaml:"format"`
	// Buffered mirrors events into an in-memory history for inspection.
	Buffered bool `yaml:"buffered"`
}

type State struct {
	// File is the persisted state path, relative to DataDir unless absolute.
	File           string `yaml:"file"`
	ChangeCapacity int    `yaml:"change_capacity"`
}

type Checkpoint struct {
	Dir          string   `yaml:"dir"`
	AutoInterval Duration `yaml:"auto_interval"`
}

type Retry struct {
	MonitorDir    string   `yaml:"monitor_dir"`
	MaxRetries    int      `yaml:"max_retries"`
	InitialDelay  Duration `yaml:"initial_delay"`
	MaxDelay      Duration `yaml:"max_delay"`
	BackoffFactor float64  `yaml:"backoff_factor"`
	Jitter        bool     `yaml:"jitter"`
}

type Recovery struct {
	HistoryCapacity int `yaml:"history_capacity"`
	LocalRetryLimit int `yaml:"local_retry_limit"`
}

type Progress struct {
	CheckpointDir      string   `yaml:"checkpoint_dir"`
	BroadcastInterval  Duration `yaml:"broadcast_interval"`
	CheckpointInterval Duration `yaml:"checkpoint_interval"`
	HistoryWindow      int      `yaml:"history_window"`
}

// ExecLog selects the execution record store backend.
type ExecLog struct {
	// Backend is "file", "sqlite", or "mysql".
	Backend string `yaml:"backend"`
	// Dir is used by the file backend.
	Dir string `yaml:"dir"`
	// Path is the sqlite database file.
	Path string `yaml:"path"`
	// DSN is the mysql data source name.
	DSN string `yaml:"dsn"`
}

type Metrics struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		DataDir: "data",
		Logging: Logging{Format: "text"},
		State:   State{File: "state.json", ChangeCapacity: 1000},
		Checkpoint: Checkpoint{
			Dir:          "checkpoints",
			AutoInterval: Duration(5 * time.Minute),
		},
		Retry: Retry{
			MonitorDir:    "retry",
			MaxRetries:    3,
			InitialDelay:  Duration(100 * time.Millisecond),
			MaxDelay:      Duration(time.Second),
			BackoffFactor: 2,
			Jitter:        true,
		},
		Recovery: Recovery{HistoryCapacity: 200, LocalRetryLimit: 3},
		Progress: Progress{
			CheckpointDir:      "progress",
			BroadcastInterval:  Duration(500 * time.Millisecond),
			CheckpointInterval: Duration(30 * time.Second),
			HistoryWindow:      50,
		},
		ExecLog: ExecLog{Backend: "file", Dir: "executions"},
		Metrics: Metrics{Enabled: true},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. An empty path loads defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides selected fields from AGENTFLOW_* variables. Only the
// knobs that differ per deployment are exposed; everything else is file-only.
func (c *Config) applyEnv() {
	if v := os.Getenv("AGENTFLOW_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("AGENTFLOW_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("AGENTFLOW_EXECLOG_BACKEND"); v != "" {
		c.ExecLog.Backend = v
	}
	if v := os.Getenv("AGENTFLOW_EXECLOG_DSN"); v != "" {
		c.ExecLog.DSN = v
	}
	if v := os.Getenv("AGENTFLOW_RETRY_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Retry.MaxRetries = n
		}
	}
	if v := os.Getenv("AGENTFLOW_METRICS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Metrics.Enabled = b
		}
	}
}

// Validate rejects configurations the runtime cannot start with.
func (c *Config) Validate() error {
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}
	switch c.ExecLog.Backend {
	case "file", "sqlite":
	case "mysql":
		if c.ExecLog.DSN == "" {
			return fmt.Errorf("execution_log.dsn is required for the mysql backend")
		}
	default:
		return fmt.Errorf("execution_log.backend %q must be file, sqlite, or mysql", c.ExecLog.Backend)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative")
	}
	if c.Retry.BackoffFactor < 1 {
		return fmt.Errorf("retry.backoff_factor must be at least 1")
	}
	if c.Progress.BroadcastInterval <= 0 {
		return fmt.Errorf("progress.broadcast_interval must be positive")
	}
	return nil
}

// Resolve joins a configured path with DataDir unless it is already
// absolute.
func (c *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.DataDir, path)
}
