// Package common provides shared utilities for marketcache
package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for marketcache
type Config struct {
	Environment string            `toml:"environment"`
	Server      ServerConfig      `toml:"server"`
	Storage     StorageConfig     `toml:"storage"`
	Cache       CacheConfig       `toml:"cache"`
	Batch       BatchConfig       `toml:"batch"`
	Providers   ProvidersConfig   `toml:"providers"`
	Clients     ClientsConfig     `toml:"clients"`
	Usage       UsageConfig       `toml:"usage"`
	Maintenance MaintenanceConfig `toml:"maintenance"`
	Logging     LoggingConfig     `toml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig holds the persistent store configuration.
type StorageConfig struct {
	Path        string `toml:"path"`
	Compression bool   `toml:"compression"` // zstd-encode series files
	Indexing    bool   `toml:"indexing"`    // maintain the _index.json sidecar on every persist
}

// CacheConfig holds the in-memory series cache configuration.
type CacheConfig struct {
	Capacity int `toml:"capacity"`
}

// BatchConfig holds the batch executor configuration.
type BatchConfig struct {
	Workers int `toml:"workers"`
}

// ProvidersConfig holds the fallback chain configuration.
type ProvidersConfig struct {
	Order   []string `toml:"order"`   // preference order, cheapest/most reliable first
	Timeout string   `toml:"timeout"` // per-call timeout
}

// GetTimeout parses and returns the per-call provider timeout
func (c *ProvidersConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 15 * time.Second
	}
	return d
}

// ClientsConfig holds API client configurations
type ClientsConfig struct {
	Yahoo        ClientConfig `toml:"yahoo"`
	EODHD        ClientConfig `toml:"eodhd"`
	AlphaVantage ClientConfig `toml:"alphavantage"`
}

// ClientConfig holds the settings shared by every REST data provider.
type ClientConfig struct {
	BaseURL   string `toml:"base_url"`
	APIKey    string `toml:"api_key"`
	RateLimit int    `toml:"rate_limit"` // requests per second
	Timeout   string `toml:"timeout"`
	Retries   int    `toml:"retries"`
}

// GetTimeout parses and returns the timeout duration
func (c *ClientConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// UsageConfig holds usage ledger configuration.
type UsageConfig struct {
	Path    string `toml:"path"`    // ledger file; empty means <storage.path>/usage.json
	Metrics bool   `toml:"metrics"` // mirror counters into Prometheus
}

// MaintenanceConfig holds cron schedules for store housekeeping.
type MaintenanceConfig struct {
	RetentionDays     int    `toml:"retention_days"` // 0 disables retention cleanup
	RetentionSchedule string `toml:"retention_schedule"`
	ReindexSchedule   string `toml:"reindex_schedule"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // console or json
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			Path:        "data",
			Compression: true,
			Indexing:    true,
		},
		Cache: CacheConfig{
			Capacity: 100,
		},
		Batch: BatchConfig{
			Workers: 4,
		},
		Providers: ProvidersConfig{
			Order:   []string{"yahoo", "eodhd", "alphavantage"},
			Timeout: "15s",
		},
		Clients: ClientsConfig{
			Yahoo: ClientConfig{
				BaseURL:   "https://query1.finance.yahoo.com",
				RateLimit: 2,
				Timeout:   "10s",
				Retries:   2,
			},
			EODHD: ClientConfig{
				BaseURL:   "https://eodhd.com/api",
				RateLimit: 10,
				Timeout:   "30s",
				Retries:   2,
			},
			AlphaVantage: ClientConfig{
				BaseURL:   "https://www.alphavantage.co",
				RateLimit: 1,
				Timeout:   "30s",
				Retries:   1,
			},
		},
		Usage: UsageConfig{
			Metrics: true,
		},
		Maintenance: MaintenanceConfig{
			RetentionDays:     0,
			RetentionSchedule: "0 3 * * *",
			ReindexSchedule:   "@every 6h",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Later files override earlier ones
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
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
	normalize(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("MARKETCACHE_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("MARKETCACHE_HOST"); host != "" {
		config.Server.Host = host
	}

	if port := os.Getenv("MARKETCACHE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("MARKETCACHE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if path := os.Getenv("MARKETCACHE_DATA_PATH"); path != "" {
		config.Storage.Path = path
	}

	if v := os.Getenv("MARKETCACHE_COMPRESSION"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Storage.Compression = b
		}
	}

	for _, name := range []string{"EODHD_API_KEY", "MARKETCACHE_EODHD_API_KEY"} {
		if v := os.Getenv(name); v != "" {
			config.Clients.EODHD.APIKey = v
			break
		}
	}
	for _, name := range []string{"ALPHAVANTAGE_API_KEY", "MARKETCACHE_ALPHAVANTAGE_API_KEY"} {
		if v := os.Getenv(name); v != "" {
			config.Clients.AlphaVantage.APIKey = v
			break
		}
	}
}

// normalize fills derived values and clamps out-of-range settings.
func normalize(config *Config) {
	if config.Cache.Capacity <= 0 {
		config.Cache.Capacity = 100
	}
	if config.Batch.Workers <= 0 {
		config.Batch.Workers = 4
	}
	if config.Usage.Path == "" {
		config.Usage.Path = filepath.Join(config.Storage.Path, "usage.json")
	}
	order := make([]string, 0, len(config.Providers.Order))
	for _, name := range config.Providers.Order {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" {
			order = append(order, name)
		}
	}
	config.Providers.Order = order
}

// ValidateRequired returns the config keys that ordered providers need but
// lack. Providers missing keys are still constructed; they simply miss.
func (c *Config) ValidateRequired() []string {
	var missing []string
	for _, name := range c.Providers.Order {
		switch name {
		case "eodhd":
			if c.Clients.EODHD.APIKey == "" {
				missing = append(missing, "clients.eodhd.api_key")
			}
		case "alphavantage":
			if c.Clients.AlphaVantage.APIKey == "" {
				missing = append(missing, "clients.alphavantage.api_key")
			}
		}
	}
	return missing
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
