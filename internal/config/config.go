package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all harvestreport configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Durable key-value storage
	Store StoreConfig `yaml:"store"`

	// Remote authority endpoint
	Remote RemoteConfig `yaml:"remote"`

	// Badge cache behaviour
	Badge BadgeConfig `yaml:"badge"`

	// Background sync trigger
	Sync SyncConfig `yaml:"sync"`

	// Local HTTP surface
	Server ServerConfig `yaml:"server"`

	// Label -> jurisdiction code tables
	Codes CodesConfig `yaml:"codes"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// StoreConfig configures the SQLite-backed key-value store.
type StoreConfig struct {
	Driver string `yaml:"driver"` // sqlite3 (mattn, cgo) or sqlite (modernc)
	Path   string `yaml:"path"`
}

// BadgeConfig configures the badge cache.
type BadgeConfig struct {
	TTL string `yaml:"ttl"`

	// DiscardStale drops fetch completions older than the latest started fetch.
	DiscardStale bool `yaml:"discard_stale"`
}

// SyncConfig configures the pending-queue sync trigger.
type SyncConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Interval      string  `yaml:"interval"`
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// ServerConfig configures the local HTTP API.
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// CodesConfig points at the code table file, or carries the tables inline.
type CodesConfig struct {
	File        string            `yaml:"file"`
	Waterbodies map[string]string `yaml:"waterbodies"`
	Gear        map[string]string `yaml:"gear"`
	Watch       bool              `yaml:"watch"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "harvestreport",
		Version: "1.0.0",

		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "data/harvest.db",
		},

		Remote: RemoteConfig{
			BaseURL: "http://localhost:8090",
			Path:    "/api/harvest-reports",
			Timeout: "30s",
		},

		Badge: BadgeConfig{
			TTL: "60s",
		},

		Sync: SyncConfig{
			Enabled:       true,
			Interval:      "5m",
			RatePerSecond: 1,
			Burst:         1,
		},

		Server: ServerConfig{
			Listen: "127.0.0.1:8787",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file. A .env file next to the
// working directory is loaded first so its values feed the env overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	// .env is optional
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Defaults if config file doesn't exist
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if path := os.Getenv("HARVEST_DB"); path != "" {
		c.Store.Path = path
	}
	if driver := os.Getenv("HARVEST_DB_DRIVER"); driver != "" {
		c.Store.Driver = driver
	}

	if url := os.Getenv("HARVEST_REMOTE_URL"); url != "" {
		c.Remote.BaseURL = url
	}
	if id := os.Getenv("HARVEST_CLIENT_ID"); id != "" {
		c.Remote.ClientID = id
	}
	if secret := os.Getenv("HARVEST_CLIENT_SECRET"); secret != "" {
		c.Remote.ClientSecret = secret
	}

	if listen := os.Getenv("HARVEST_LISTEN"); listen != "" {
		c.Server.Listen = listen
	}
	if level := os.Getenv("HARVEST_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if v := os.Getenv("HARVEST_SYNC_ENABLED"); v != "" {
		if on, err := strconv.ParseBool(v); err == nil {
			c.Sync.Enabled = on
		}
	}
}

// GetBadgeTTL returns the badge cache TTL as a duration.
func (c *Config) GetBadgeTTL() time.Duration {
	d, err := time.ParseDuration(c.Badge.TTL)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// GetSyncInterval returns the sync interval as a duration.
func (c *Config) GetSyncInterval() time.Duration {
	d, err := time.ParseDuration(c.Sync.Interval)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// ValidDrivers lists the supported database/sql driver names.
var ValidDrivers = []string{"sqlite3", "sqlite"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validDriver := false
	for _, d := range ValidDrivers {
		if c.Store.Driver == d {
			validDriver = true
			break
		}
	}
	if !validDriver {
		return fmt.Errorf("invalid store driver: %s (valid: %v)", c.Store.Driver, ValidDrivers)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store path not configured (set store.path or HARVEST_DB)")
	}
	if c.Sync.RatePerSecond <= 0 {
		return fmt.Errorf("sync.rate_per_second must be positive, got %v", c.Sync.RatePerSecond)
	}
	if (c.Remote.ClientID == "") != (c.Remote.ClientSecret == "") {
		return fmt.Errorf("remote client_id and client_secret must be set together")
	}
	return nil
}
