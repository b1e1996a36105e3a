// Package config handles application configuration
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed config.sample.yaml
var sampleConfig string

// GetSampleConfig returns the embedded sample configuration content
func GetSampleConfig() string {
	return sampleConfig
}

// Backend names
const (
	BackendSQLite = "sqlite"
	BackendRemote = "remote"
)

// Config represents the application configuration
type Config struct {
	Backend      string             `yaml:"backend"`
	NoPrompt     bool               `yaml:"no_prompt"`
	OutputFormat string             `yaml:"output_format"`
	SQLite       SQLiteConfig       `yaml:"sqlite"`
	Remote       RemoteConfig       `yaml:"remote"`
	Store        StoreConfig        `yaml:"store"`
	Notification NotificationConfig `yaml:"notification"`
	Logging      LoggingConfig      `yaml:"logging"`
	Server       ServerConfig       `yaml:"server"`
}

// SQLiteConfig holds SQLite backend configuration
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// RemoteConfig holds REST service settings
type RemoteConfig struct {
	URL          string  `yaml:"url"`
	Account      string  `yaml:"account"`
	RateLimitRPS float64 `yaml:"rate_limit_rps"`
	MaxRetries   int     `yaml:"max_retries"`
	Timeout      string  `yaml:"timeout"`

	BreakerThreshold int    `yaml:"breaker_threshold"`
	BreakerCooldown  string `yaml:"breaker_cooldown"`
}

// StoreConfig holds task store behavior settings
type StoreConfig struct {
	EvictOverlayOnDelete *bool  `yaml:"evict_overlay_on_delete"`
	CachePath            string `yaml:"cache_path"`
}

// NotificationConfig holds due-notification settings
type NotificationConfig struct {
	Enabled         bool                  `yaml:"enabled"`
	PollInterval    string                `yaml:"poll_interval"`
	OSNotification  OSNotificationConfig  `yaml:"os_notification"`
	LogNotification LogNotificationConfig `yaml:"log_notification"`
}

// OSNotificationConfig holds desktop notification settings
type OSNotificationConfig struct {
	Enabled   bool `yaml:"enabled"`
	OnTaskDue bool `yaml:"on_task_due"`
	OnError   bool `yaml:"on_error"`
}

// LogNotificationConfig holds notification log settings
type LogNotificationConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	MaxSizeMB int    `yaml:"max_size_mb"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	BackgroundEnabled *bool  `yaml:"background_enabled"` // file log of 'notify run' (default: true)
	BackgroundPath    string `yaml:"background_path"`
}

// ServerConfig holds settings of the reference REST service
type ServerConfig struct {
	Addr         string `yaml:"addr"`
	JWTSecretEnv string `yaml:"jwt_secret_env"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Backend:      BackendSQLite,
		OutputFormat: "text",
		SQLite: SQLiteConfig{
			Path: filepath.Join(GetDataDir(), "tasks.db"),
		},
		Remote: RemoteConfig{
			URL:          "http://localhost:3001/api",
			Account:      "default",
			RateLimitRPS: 5,
			MaxRetries:   3,
			Timeout:      "30s",

			BreakerThreshold: 3,
			BreakerCooldown:  "30s",
		},
		Notification: NotificationConfig{
			Enabled:      true,
			PollInterval: "30s",
			OSNotification: OSNotificationConfig{
				Enabled:   true,
				OnTaskDue: true,
				OnError:   true,
			},
			LogNotification: LogNotificationConfig{
				Enabled:   true,
				MaxSizeMB: 10,
			},
		},
		Server: ServerConfig{
			Addr:         "127.0.0.1:3001",
			JWTSecretEnv: "TODOCAL_JWT_SECRET",
		},
	}
}

// Load loads configuration from the specified path, or the default XDG path if empty.
// If the config file doesn't exist, it writes the sample and returns defaults.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = filepath.Join(GetConfigDir(), "config.yaml")
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := cfg.save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of the defaults, so omitted keys keep their
// default values.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML in config file: %w", err)
	}
	if cfg.Backend == "" {
		cfg.Backend = BackendSQLite
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "text"
	}
	if cfg.SQLite.Path == "" {
		cfg.SQLite.Path = filepath.Join(GetDataDir(), "tasks.db")
	}

	cfg.SQLite.Path = ExpandPath(cfg.SQLite.Path)
	cfg.Store.CachePath = ExpandPath(cfg.Store.CachePath)
	cfg.Notification.LogNotification.Path = ExpandPath(cfg.Notification.LogNotification.Path)
	return cfg, nil
}

// save writes the configuration to the specified path
func (c *Config) save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Use the embedded sample config which includes all documentation and comments
	if err := os.WriteFile(path, []byte(sampleConfig), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.OutputFormat != "text" && c.OutputFormat != "json" {
		return fmt.Errorf("invalid output_format: %q (must be 'text' or 'json')", c.OutputFormat)
	}

	switch c.Backend {
	case BackendSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite.path is required when backend is 'sqlite'")
		}
	case BackendRemote:
		if c.Remote.URL == "" {
			return fmt.Errorf("remote.url is required when backend is 'remote'")
		}
		if !strings.HasPrefix(c.Remote.URL, "http://") && !strings.HasPrefix(c.Remote.URL, "https://") {
			return fmt.Errorf("remote.url must be an http(s) URL, got %q", c.Remote.URL)
		}
	default:
		return fmt.Errorf("unknown backend: %q (must be 'sqlite' or 'remote')", c.Backend)
	}

	if c.Remote.RateLimitRPS < 0 {
		return fmt.Errorf("remote.rate_limit_rps must not be negative")
	}
	if c.Remote.MaxRetries < 0 {
		return fmt.Errorf("remote.max_retries must not be negative")
	}
	if c.Remote.BreakerThreshold < 0 {
		return fmt.Errorf("remote.breaker_threshold must not be negative")
	}

	durations := []struct{ key, value string }{
		{"remote.timeout", c.Remote.Timeout},
		{"remote.breaker_cooldown", c.Remote.BreakerCooldown},
		{"notification.poll_interval", c.Notification.PollInterval},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("invalid duration for %s: %q", d.key, d.value)
		}
		if parsed <= 0 {
			return fmt.Errorf("%s must be positive, got %q", d.key, d.value)
		}
	}
	if p, _ := time.ParseDuration(c.Notification.PollInterval); p > 0 && p < time.Second {
		return fmt.Errorf("notification.poll_interval must be at least 1s, got %q", c.Notification.PollInterval)
	}
	return nil
}

// ApplyFlags applies CLI flag overrides to the configuration
func (c *Config) ApplyFlags(noPrompt bool, outputFormat string) {
	if noPrompt {
		c.NoPrompt = true
	}
	if outputFormat != "" {
		c.OutputFormat = outputFormat
	}
}

// GetDatabasePath returns the path to the SQLite database
func (c *Config) GetDatabasePath() string {
	return c.SQLite.Path
}

// GetCachePath returns the store snapshot path.
func (c *Config) GetCachePath() string {
	if c.Store.CachePath != "" {
		return c.Store.CachePath
	}
	return filepath.Join(GetCacheDir(), "store.json")
}

// IsOverlayEvictionEnabled returns true unless evict_overlay_on_delete is explicitly false.
func (c *Config) IsOverlayEvictionEnabled() bool {
	if c.Store.EvictOverlayOnDelete == nil {
		return true
	}
	return *c.Store.EvictOverlayOnDelete
}

// GetRemoteTimeout returns the per-request timeout, 30s if unset or invalid.
func (c *Config) GetRemoteTimeout() time.Duration {
	return parseDurationOr(c.Remote.Timeout, 30*time.Second)
}

// GetBreakerCooldown returns how long a tripped breaker waits, 30s if unset or invalid.
func (c *Config) GetBreakerCooldown() time.Duration {
	return parseDurationOr(c.Remote.BreakerCooldown, 30*time.Second)
}

// GetPollInterval returns the scheduler poll interval, 30s if unset or invalid.
func (c *Config) GetPollInterval() time.Duration {
	return parseDurationOr(c.Notification.PollInterval, 30*time.Second)
}

// GetNotificationLogPath returns the notification log path.
func (c *Config) GetNotificationLogPath() string {
	if c.Notification.LogNotification.Path != "" {
		return c.Notification.LogNotification.Path
	}
	return filepath.Join(GetDataDir(), "notifications.log")
}

// GetJWTSecret returns the server signing secret from the configured environment variable.
func (c *Config) GetJWTSecret() string {
	env := c.Server.JWTSecretEnv
	if env == "" {
		env = "TODOCAL_JWT_SECRET"
	}
	return os.Getenv(env)
}

// IsBackgroundLoggingEnabled reports whether 'notify run' keeps a file log.
func (c *Config) IsBackgroundLoggingEnabled() bool {
	if c.Logging.BackgroundEnabled == nil {
		return true // Default: enabled
	}
	return *c.Logging.BackgroundEnabled
}

// GetBackgroundLogPath returns the file log of 'notify run', by default
// notify.log in the cache directory.
func (c *Config) GetBackgroundLogPath() string {
	if c.Logging.BackgroundPath != "" {
		return ExpandPath(c.Logging.BackgroundPath)
	}
	return filepath.Join(GetCacheDir(), "notify.log")
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// getXDGDir returns a directory path following XDG spec.
// envVar is the XDG environment variable (e.g., "XDG_CONFIG_HOME").
// fallbackPath is the relative path from home (e.g., ".config").
func getXDGDir(envVar, fallbackPath string) string {
	if xdgDir := os.Getenv(envVar); xdgDir != "" {
		return filepath.Join(xdgDir, "todocal")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", fallbackPath, "todocal")
	}
	return filepath.Join(home, fallbackPath, "todocal")
}

// GetConfigDir returns the configuration directory following XDG spec
func GetConfigDir() string {
	return getXDGDir("XDG_CONFIG_HOME", ".config")
}

// GetDataDir returns the data directory following XDG spec
func GetDataDir() string {
	return getXDGDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

// GetCacheDir returns the cache directory following XDG spec
func GetCacheDir() string {
	return getXDGDir("XDG_CACHE_HOME", ".cache")
}

// ExpandPath expands ~ and environment variables in a path
func ExpandPath(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	}

	return os.ExpandEnv(path)
}
