// Package config provides kernel configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration file looked up when none is given.
const DefaultPath = "modkernel.yaml"

// Store drivers.
const (
	StoreProperties = "properties"
	StoreSQLite     = "sqlite"
)

// Config is the root configuration structure.
type Config struct {
	Kernel  KernelConfig  `yaml:"kernel"`
	Modules ModulesConfig `yaml:"modules"`
	Tasks   TasksConfig   `yaml:"tasks"`
	Store   StoreConfig   `yaml:"store"`
	Logging LoggingConfig `yaml:"logging"`
	Admin   AdminConfig   `yaml:"admin"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// KernelConfig configures the console.
type KernelConfig struct {
	Prompt string `yaml:"prompt"` // prompt prefix, printed as "<prompt> > "
}

// ModulesConfig configures module discovery.
type ModulesConfig struct {
	Dir        string   `yaml:"dir"`
	Extensions []string `yaml:"extensions"`
	CacheDir   string   `yaml:"cache_dir"`
	Watch      bool     `yaml:"watch"` // pick up archives added while running
}

// TasksConfig configures the task scheduler.
type TasksConfig struct {
	Workers int           `yaml:"workers"` // 0 = number of CPUs
	Grace   time.Duration `yaml:"grace"`
}

// StoreConfig configures the persisted module configuration.
type StoreConfig struct {
	Driver string `yaml:"driver"` // "properties" or "sqlite"
	DSN    string `yaml:"dsn"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "auto", "json" or "console"
}

// AdminConfig configures the admin HTTP server.
type AdminConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	cfg := Config{Metrics: MetricsConfig{Enabled: true}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return finish(&cfg)
}

// LoadFromEnv creates configuration from defaults and environment variables.
//
// Environment variables:
//
//	MODKERNEL_PROMPT             - Console prompt prefix (default: Modularitea)
//	MODKERNEL_MODULES_DIR        - Module directory (default: modules)
//	MODKERNEL_MODULES_EXTENSIONS - Comma-separated archive extensions (default: .zip,.jar)
//	MODKERNEL_MODULES_WATCH      - Watch the module directory (default: false)
//	MODKERNEL_TASKS_WORKERS      - Concurrent task runs (default: number of CPUs)
//	MODKERNEL_TASKS_GRACE        - Shutdown grace period (default: 5s)
//	MODKERNEL_STORE_DRIVER       - properties or sqlite (default: properties)
//	MODKERNEL_STORE_DSN          - Store file (default: <modules dir>/modules.properties)
//	MODKERNEL_LOG_LEVEL          - debug, info, warn, error (default: info)
//	MODKERNEL_LOG_FORMAT         - auto, json or console (default: auto)
//	MODKERNEL_ADMIN_ENABLED      - Serve the admin API (default: false)
//	MODKERNEL_ADMIN_ADDR         - Admin API address (default: 127.0.0.1:7070)
//	MODKERNEL_METRICS_ENABLED    - Expose /metrics on the admin API (default: true)
func LoadFromEnv() (*Config, error) {
	cfg := Config{Metrics: MetricsConfig{Enabled: true}}
	return finish(&cfg)
}

// LoadWithFallback loads path when the file exists and falls back to
// defaults plus environment variables otherwise.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

func finish(cfg *Config) (*Config, error) {
	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies MODKERNEL_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MODKERNEL_PROMPT"); v != "" {
		cfg.Kernel.Prompt = v
	}

	// Modules
	if v := os.Getenv("MODKERNEL_MODULES_DIR"); v != "" {
		cfg.Modules.Dir = v
	}
	if v := os.Getenv("MODKERNEL_MODULES_EXTENSIONS"); v != "" {
		cfg.Modules.Extensions = strings.Split(v, ",")
	}
	if v := os.Getenv("MODKERNEL_MODULES_WATCH"); v != "" {
		cfg.Modules.Watch = parseBool(v)
	}

	// Tasks
	if v := os.Getenv("MODKERNEL_TASKS_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Tasks.Workers = n
		}
	}
	if v := os.Getenv("MODKERNEL_TASKS_GRACE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Tasks.Grace = d
		}
	}

	// Store
	if v := os.Getenv("MODKERNEL_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("MODKERNEL_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}

	// Logging
	if v := os.Getenv("MODKERNEL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MODKERNEL_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Admin
	if v := os.Getenv("MODKERNEL_ADMIN_ENABLED"); v != "" {
		cfg.Admin.Enabled = parseBool(v)
	}
	if v := os.Getenv("MODKERNEL_ADMIN_ADDR"); v != "" {
		cfg.Admin.Addr = v
	}
	if v := os.Getenv("MODKERNEL_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Kernel.Prompt == "" {
		cfg.Kernel.Prompt = "Modularitea"
	}

	if cfg.Modules.Dir == "" {
		cfg.Modules.Dir = "modules"
	}
	if len(cfg.Modules.Extensions) == 0 {
		cfg.Modules.Extensions = []string{".zip", ".jar"}
	}
	for i, ext := range cfg.Modules.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		cfg.Modules.Extensions[i] = ext
	}
	if cfg.Modules.CacheDir == "" {
		cfg.Modules.CacheDir = filepath.Join(cfg.Modules.Dir, ".cache")
	}

	if cfg.Tasks.Grace == 0 {
		cfg.Tasks.Grace = 5 * time.Second
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = StoreProperties
	}
	if cfg.Store.DSN == "" {
		switch cfg.Store.Driver {
		case StoreSQLite:
			cfg.Store.DSN = filepath.Join(cfg.Modules.Dir, "modules.db")
		default:
			cfg.Store.DSN = filepath.Join(cfg.Modules.Dir, "modules.properties")
		}
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "auto"
	}

	if cfg.Admin.Addr == "" {
		cfg.Admin.Addr = "127.0.0.1:7070"
	}
	if cfg.Admin.ReadTimeout == 0 {
		cfg.Admin.ReadTimeout = 10 * time.Second
	}
	if cfg.Admin.WriteTimeout == 0 {
		cfg.Admin.WriteTimeout = 30 * time.Second
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func validate(cfg *Config) error {
	for i, ext := range cfg.Modules.Extensions {
		if ext == "" || ext == "." {
			return fmt.Errorf("modules.extensions[%d] is empty", i)
		}
	}

	if cfg.Tasks.Workers < 0 {
		return fmt.Errorf("tasks.workers must not be negative, got %d", cfg.Tasks.Workers)
	}
	if cfg.Tasks.Grace < 0 {
		return fmt.Errorf("tasks.grace must not be negative, got %s", cfg.Tasks.Grace)
	}

	validDrivers := map[string]bool{StoreProperties: true, StoreSQLite: true}
	if !validDrivers[cfg.Store.Driver] {
		return fmt.Errorf("store.driver must be 'properties' or 'sqlite', got %q", cfg.Store.Driver)
	}

	if _, err := zerolog.ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	validFormats := map[string]bool{"auto": true, "json": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("logging.format must be 'auto', 'json' or 'console', got %q", cfg.Logging.Format)
	}

	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/', got %q", cfg.Metrics.Path)
	}

	return nil
}
