package common

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment  string             `toml:"environment"` // "development" or "production"
	Server       ServerConfig       `toml:"server"`
	Storage      StorageConfig      `toml:"storage"`
	Jobs         JobsConfig         `toml:"jobs"`
	Backpressure BackpressureConfig `toml:"backpressure"`
	Pools        PoolsConfig        `toml:"pools"`
	Translation  TranslationConfig  `toml:"translation"`
	Logging      LoggingConfig      `toml:"logging"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// StorageConfig selects and configures the job store backend.
type StorageConfig struct {
	Backend string       `toml:"backend"` // "badger", "file", "redis", "memory"
	Root    string       `toml:"root"`    // Root directory for per-job artifact trees
	Badger  BadgerConfig `toml:"badger"`
	File    FileConfig   `toml:"file"`
	Redis   RedisConfig  `toml:"redis"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// FileConfig configures the one-file-per-job store.
type FileConfig struct {
	Path string `toml:"path"` // Directory holding one canonical JSON document per job
}

// RedisConfig configures the redis-backed job store.
type RedisConfig struct {
	Addr      string `toml:"addr"`
	Password  string `toml:"password"`
	DB        int    `toml:"db"`
	Namespace string `toml:"namespace"` // Key prefix, e.g. "verso:jobs"
}

// JobsConfig contains manager-level execution settings.
type JobsConfig struct {
	MaxWorkers          int    `toml:"max_workers"`          // Manager executor pool size (0 = NumCPU)
	BaseURL             string `toml:"base_url"`             // Base URL for generated-file links
	MaintenanceSchedule string `toml:"maintenance_schedule"` // Cron schedule for map eviction / pool sweep
}

// BackpressureConfig bounds the submission queue.
type BackpressureConfig struct {
	SoftLimit int           `toml:"soft_limit"` // Depth above which submissions are delayed
	HardLimit int           `toml:"hard_limit"` // Depth above which submissions are rejected
	BaseDelay time.Duration `toml:"base_delay"`
	MaxDelay  time.Duration `toml:"max_delay"`
}

// PoolsConfig configures the translation worker pool cache.
type PoolsConfig struct {
	MaxCached   int           `toml:"max_cached"`
	IdleTimeout time.Duration `toml:"idle_timeout"`
	QueueSize   int           `toml:"queue_size"` // Default bounded work queue per pool
}

// TranslationConfig carries pipeline tuning defaults.
type TranslationConfig struct {
	ThreadCount int    `toml:"thread_count"` // Default translation parallelism (0 = NumCPU)
	Provider    string `toml:"provider"`     // "local" or "remote" LLM endpoint
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs
}

// DefaultConfig returns the built-in defaults applied before any file or env
// overrides.
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8190,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Backend: "badger",
			Root:    "./data/jobs",
			Badger: BadgerConfig{
				Path: "./data/verso.db",
			},
			File: FileConfig{
				Path: "./data/store",
			},
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				Namespace: "verso:jobs",
			},
		},
		Jobs: JobsConfig{
			MaxWorkers:          runtime.NumCPU(),
			BaseURL:             "http://localhost:8190",
			MaintenanceSchedule: "@every 5m",
		},
		Backpressure: BackpressureConfig{
			SoftLimit: 8,
			HardLimit: 16,
			BaseDelay: 500 * time.Millisecond,
			MaxDelay:  10 * time.Second,
		},
		Pools: PoolsConfig{
			MaxCached:   3,
			IdleTimeout: 10 * time.Minute,
			QueueSize:   64,
		},
		Translation: TranslationConfig{
			ThreadCount: runtime.NumCPU(),
			Provider:    "remote",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05",
		},
	}
}

// LoadConfig loads configuration in priority order:
// defaults -> config files (later files override earlier) -> environment.
func LoadConfig(paths ...string) (*Config, error) {
	config := DefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("VERSO_STORAGE_PATH"); v != "" {
		config.Storage.Root = v
	}
	if v := os.Getenv("VERSO_STORE_BACKEND"); v != "" {
		config.Storage.Backend = v
	}
	if v := os.Getenv("VERSO_BASE_URL"); v != "" {
		config.Jobs.BaseURL = v
	}
	if v := os.Getenv("VERSO_MAX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Jobs.MaxWorkers = n
		}
	}
	if v := os.Getenv("VERSO_REDIS_ADDR"); v != "" {
		config.Storage.Redis.Addr = v
	}
	if v := os.Getenv("VERSO_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Server.Port = n
		}
	}
	if v := os.Getenv("VERSO_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
}

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime failures.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "badger", "file", "redis", "memory":
	default:
		return fmt.Errorf("unknown storage backend: %s", c.Storage.Backend)
	}
	if c.Backpressure.HardLimit < c.Backpressure.SoftLimit {
		return fmt.Errorf("backpressure hard_limit (%d) must be >= soft_limit (%d)",
			c.Backpressure.HardLimit, c.Backpressure.SoftLimit)
	}
	if c.Backpressure.MaxDelay < c.Backpressure.BaseDelay {
		return fmt.Errorf("backpressure max_delay must be >= base_delay")
	}
	if c.Pools.MaxCached < 1 {
		return fmt.Errorf("pools max_cached must be >= 1")
	}
	if c.Jobs.MaxWorkers < 1 {
		c.Jobs.MaxWorkers = runtime.NumCPU()
	}
	return nil
}

// IsDevelopment returns true when running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment != "production"
}
