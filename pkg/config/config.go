// Package config loads and validates the orchestration platform's
// runtime configuration, following the teacher's JSON-file-plus-
// environment-override convention.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config holds every recognized configuration field.
type Config struct {
	Network     NetworkConfig     `json:"network"`
	Workers     WorkerConfig      `json:"workers"`
	Maintenance MaintenanceConfig `json:"maintenance"`
	API         APIConfig         `json:"api"`
	Storage     StorageConfig     `json:"storage"`
	Logging     LoggingConfig     `json:"logging"`
}

type NetworkConfig struct {
	APIPort    int `json:"api_port"`
	WorkerPort int `json:"worker_port"`
}

type WorkerConfig struct {
	// Devices is the comma-separated GPU index list, or "cpu".
	Devices          string `json:"devices"`
	WorkersPerDevice int    `json:"workers_per_device"`
	PollIntervalMS   int    `json:"poll_interval_ms"`
	// Backends is a comma-separated allow-list of engine backend names
	// this worker fleet will claim (e.g. "pipeline,paddleocr-vl"). Empty
	// means claim any backend.
	Backends string `json:"backends"`
}

type MaintenanceConfig struct {
	StaleTimeoutMinutes  int `json:"stale_timeout_minutes"`
	PurgeRetentionDays   int `json:"purge_retention_days"`
	ResetIntervalMinutes int `json:"maintenance_reset_interval_minutes"`
	PurgeIntervalHours   int `json:"maintenance_purge_interval_hours"`
}

type APIConfig struct {
	MaxRequestTimeoutSeconds int   `json:"max_request_timeout_seconds"`
	MaxUploadSizeBytes       int64 `json:"max_upload_size_bytes"`
	RateLimitPerMinute       int   `json:"rate_limit_per_minute"`
	DefaultMaxRetries        int   `json:"default_max_retries"`
	DefaultPriority          int   `json:"default_priority"`
}

type StorageConfig struct {
	OutputRoot       string `json:"output_root"`
	UploadRoot       string `json:"upload_root"`
	DBPath           string `json:"db_path"`
	ConnectionString string `json:"connection_string"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
	File   string `json:"file"`
}

// liveReloadable tunables are safe to apply from a hot-reload; everything
// else (ports, DB DSN) requires a process restart.
func (c *Config) applyLiveReloadable(next *Config) {
	c.Workers.PollIntervalMS = next.Workers.PollIntervalMS
	c.Maintenance.StaleTimeoutMinutes = next.Maintenance.StaleTimeoutMinutes
	c.Maintenance.PurgeRetentionDays = next.Maintenance.PurgeRetentionDays
	c.Maintenance.ResetIntervalMinutes = next.Maintenance.ResetIntervalMinutes
	c.Maintenance.PurgeIntervalHours = next.Maintenance.PurgeIntervalHours
	c.API.RateLimitPerMinute = next.API.RateLimitPerMinute
	c.Logging.Level = next.Logging.Level
}

// ApplyLiveReloadable updates only the tunables safe to change without a
// restart, returning the field names of anything in next that differed
// from c but was NOT applied, so the caller can log them as ignored.
func (c *Config) ApplyLiveReloadable(next *Config) []string {
	var ignored []string
	if c.Network.APIPort != next.Network.APIPort {
		ignored = append(ignored, "network.api_port")
	}
	if c.Network.WorkerPort != next.Network.WorkerPort {
		ignored = append(ignored, "network.worker_port")
	}
	if c.Storage.ConnectionString != next.Storage.ConnectionString {
		ignored = append(ignored, "storage.connection_string")
	}
	c.applyLiveReloadable(next)
	return ignored
}

// Default returns the configuration with every field at its spec
// default.
func Default() *Config {
	return &Config{
		Network: NetworkConfig{APIPort: 8000, WorkerPort: 9000},
		Workers: WorkerConfig{
			Devices:          "0",
			WorkersPerDevice: 1,
			PollIntervalMS:   500,
		},
		Maintenance: MaintenanceConfig{
			StaleTimeoutMinutes:  60,
			PurgeRetentionDays:   7,
			ResetIntervalMinutes: 5,
			PurgeIntervalHours:   6,
		},
		API: APIConfig{
			MaxRequestTimeoutSeconds: 300,
			MaxUploadSizeBytes:       500 * 1024 * 1024,
			RateLimitPerMinute:       120,
			DefaultMaxRetries:        2,
			DefaultPriority:          0,
		},
		Storage: StorageConfig{
			OutputRoot: "./output",
			UploadRoot: "./uploads",
			DBPath:     "./docforge.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "console",
		},
	}
}

// Load reads configPath (if non-empty and present), applies
// DOCFORGE_-prefixed environment overrides, validates, and returns the
// result.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	cfg.applyEnvironmentOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, c)
}

func (c *Config) applyEnvironmentOverrides() {
	if v := os.Getenv("DOCFORGE_API_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Network.APIPort = n
		}
	}
	if v := os.Getenv("DOCFORGE_WORKER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Network.WorkerPort = n
		}
	}
	if v := os.Getenv("DOCFORGE_DEVICES"); v != "" {
		c.Workers.Devices = v
	}
	if v := os.Getenv("DOCFORGE_WORKERS_PER_DEVICE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Workers.WorkersPerDevice = n
		}
	}
	if v := os.Getenv("DOCFORGE_POLL_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Workers.PollIntervalMS = n
		}
	}
	if v := os.Getenv("DOCFORGE_WORKER_BACKENDS"); v != "" {
		c.Workers.Backends = v
	}
	if v := os.Getenv("DOCFORGE_STALE_TIMEOUT_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Maintenance.StaleTimeoutMinutes = n
		}
	}
	if v := os.Getenv("DOCFORGE_PURGE_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Maintenance.PurgeRetentionDays = n
		}
	}
	if v := os.Getenv("DOCFORGE_MAX_UPLOAD_SIZE_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.API.MaxUploadSizeBytes = n
		}
	}
	if v := os.Getenv("DOCFORGE_OUTPUT_ROOT"); v != "" {
		c.Storage.OutputRoot = v
	}
	if v := os.Getenv("DOCFORGE_UPLOAD_ROOT"); v != "" {
		c.Storage.UploadRoot = v
	}
	if v := os.Getenv("DOCFORGE_DB_PATH"); v != "" {
		c.Storage.DBPath = v
	}
	if v := os.Getenv("DOCFORGE_CONNECTION_STRING"); v != "" {
		c.Storage.ConnectionString = v
	}
	if v := os.Getenv("DOCFORGE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("DOCFORGE_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

// Validate checks every field is within an acceptable range.
func (c *Config) Validate() error {
	if c.Network.APIPort <= 0 || c.Network.APIPort > 65535 {
		return fmt.Errorf("api_port must be between 1 and 65535")
	}
	if c.Network.WorkerPort <= 0 || c.Network.WorkerPort > 65535 {
		return fmt.Errorf("worker_port must be between 1 and 65535")
	}
	if c.Workers.Devices == "" {
		return fmt.Errorf("devices cannot be empty")
	}
	if c.Workers.WorkersPerDevice <= 0 {
		return fmt.Errorf("workers_per_device must be positive")
	}
	if c.Workers.PollIntervalMS <= 0 {
		return fmt.Errorf("poll_interval_ms must be positive")
	}
	if c.Maintenance.StaleTimeoutMinutes <= 0 {
		return fmt.Errorf("stale_timeout_minutes must be positive")
	}
	if c.Maintenance.PurgeRetentionDays <= 0 {
		return fmt.Errorf("purge_retention_days must be positive")
	}
	if c.API.MaxRequestTimeoutSeconds <= 0 {
		return fmt.Errorf("max_request_timeout_seconds must be positive")
	}
	if c.API.MaxUploadSizeBytes <= 0 {
		return fmt.Errorf("max_upload_size_bytes must be positive")
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}
	if c.Storage.OutputRoot == "" || c.Storage.UploadRoot == "" {
		return fmt.Errorf("output_root and upload_root cannot be empty")
	}
	return nil
}

// Devices splits the comma-separated devices field into individual
// tokens ("0", "1", "cpu", ...).
func (c *Config) Devices() []string {
	return splitCSV(c.Workers.Devices)
}

// Backends splits the comma-separated backend allow-list into
// individual backend names. A nil/empty result means no restriction.
func (c *Config) Backends() []string {
	return splitCSV(c.Workers.Backends)
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SaveToFile writes the configuration back as indented JSON, used by
// admin tooling to persist a modified config.
func (c *Config) SaveToFile(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
