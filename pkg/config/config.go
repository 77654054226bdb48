package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment variable read by LoadFromEnv
const EnvPrefix = "IGAUTOMATE_"

// Store backends understood by the service
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Config holds all configuration options for the automation service
type Config struct {
	Server      ServerConfig      `yaml:"server" json:"server"`
	Store       StoreConfig       `yaml:"store" json:"store"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit" json:"rate_limit"`
	Engagement  EngagementConfig  `yaml:"engagement" json:"engagement"`
	Maintenance MaintenanceConfig `yaml:"maintenance" json:"maintenance"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics" json:"metrics"`
}

// ServerConfig holds the ops HTTP API settings
type ServerConfig struct {
	Address         string        `yaml:"address" json:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins" json:"cors_origins"`
}

// StoreConfig selects and configures the engaged-user store
type StoreConfig struct {
	Backend        string        `yaml:"backend" json:"backend"`
	DSN            string        `yaml:"dsn" json:"dsn"`
	DSNSecret      string        `yaml:"dsn_secret" json:"dsn_secret"`
	RedisKeyPrefix string        `yaml:"redis_key_prefix" json:"redis_key_prefix"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout" json:"write_timeout"`
	MaxOpenConns   int           `yaml:"max_open_conns" json:"max_open_conns"`
	Migrate        bool          `yaml:"migrate" json:"migrate"`
}

// Quota is a fixed number of calls allowed within a sliding window
type Quota struct {
	Limit  int           `yaml:"limit" json:"limit"`
	Window time.Duration `yaml:"window" json:"window"`
}

// RateLimitConfig holds the per-API quotas and the per-user platform budget
type RateLimitConfig struct {
	Conversations      Quota `yaml:"conversations" json:"conversations"`
	SendText           Quota `yaml:"send_text" json:"send_text"`
	SendMedia          Quota `yaml:"send_media" json:"send_media"`
	PrivateRepliesLive Quota `yaml:"private_replies_live" json:"private_replies_live"`
	PrivateRepliesPost Quota `yaml:"private_replies_post" json:"private_replies_post"`

	// CallsPerUserPerHour is multiplied by the number of engaged users to
	// get the platform-wide hourly budget of an account.
	CallsPerUserPerHour int           `yaml:"calls_per_user_per_hour" json:"calls_per_user_per_hour"`
	PlatformWindow      time.Duration `yaml:"platform_window" json:"platform_window"`
}

// EngagementConfig controls the engaged-user registry
type EngagementConfig struct {
	Window        time.Duration `yaml:"window" json:"window"`
	DebounceDelay time.Duration `yaml:"debounce_delay" json:"debounce_delay"`
}

// MaintenanceConfig holds the intervals of the background tasks
type MaintenanceConfig struct {
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
	StatsInterval   time.Duration `yaml:"stats_interval" json:"stats_interval"`
	SyncInterval    time.Duration `yaml:"sync_interval" json:"sync_interval"`
	SyncConcurrency int           `yaml:"sync_concurrency" json:"sync_concurrency"`
	HydrateAttempts int           `yaml:"hydrate_attempts" json:"hydrate_attempts"`
	RetryBackoff    time.Duration `yaml:"retry_backoff" json:"retry_backoff"`
	SnapshotPath    string        `yaml:"snapshot_path" json:"snapshot_path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	File   string `yaml:"file" json:"file"`
}

// MetricsConfig controls the prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// DefaultConfig returns a Config instance with the platform's published defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Backend:        BackendMemory,
			RedisKeyPrefix: "igautomate",
			ConnectTimeout: 5 * time.Second,
			WriteTimeout:   10 * time.Second,
			MaxOpenConns:   10,
			Migrate:        true,
		},
		RateLimit: RateLimitConfig{
			Conversations:       Quota{Limit: 2, Window: time.Second},
			SendText:            Quota{Limit: 300, Window: time.Second},
			SendMedia:           Quota{Limit: 10, Window: time.Second},
			PrivateRepliesLive:  Quota{Limit: 100, Window: time.Second},
			PrivateRepliesPost:  Quota{Limit: 750, Window: time.Hour},
			CallsPerUserPerHour: 200,
			PlatformWindow:      time.Hour,
		},
		Engagement: EngagementConfig{
			Window:        24 * time.Hour,
			DebounceDelay: 30 * time.Second,
		},
		Maintenance: MaintenanceConfig{
			CleanupInterval: time.Minute,
			StatsInterval:   10 * time.Minute,
			SyncInterval:    5 * time.Minute,
			SyncConcurrency: 4,
			HydrateAttempts: 3,
			RetryBackoff:    500 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	if v := getenv("SERVER_ADDRESS"); v != "" {
		c.Server.Address = v
	}
	if v := getenv("CORS_ORIGINS"); v != "" {
		c.Server.CORSOrigins = splitList(v)
	}

	if v := getenv("STORE_BACKEND"); v != "" {
		c.Store.Backend = strings.ToLower(v)
	}
	if v := getenv("STORE_DSN"); v != "" {
		c.Store.DSN = v
	}
	if v := getenv("STORE_DSN_SECRET"); v != "" {
		c.Store.DSNSecret = v
	}

	if v := getenv("CALLS_PER_USER_PER_HOUR"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sCALLS_PER_USER_PER_HOUR: %w", EnvPrefix, err))
		} else {
			c.RateLimit.CallsPerUserPerHour = n
		}
	}

	durations := map[string]*time.Duration{
		"ENGAGEMENT_WINDOW": &c.Engagement.Window,
		"DEBOUNCE_DELAY":    &c.Engagement.DebounceDelay,
		"CLEANUP_INTERVAL":  &c.Maintenance.CleanupInterval,
		"STATS_INTERVAL":    &c.Maintenance.StatsInterval,
		"SYNC_INTERVAL":     &c.Maintenance.SyncInterval,
		"RETRY_BACKOFF":     &c.Maintenance.RetryBackoff,
	}
	for name, dst := range durations {
		v := getenv(name)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			continue
		}
		*dst = d
	}

	if v := getenv("SNAPSHOT_PATH"); v != "" {
		c.Maintenance.SnapshotPath = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := getenv("METRICS_ENABLED"); v != "" {
		c.Metrics.Enabled = strings.ToLower(v) == "true"
	}

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	locations := []string{
		"igautomate.yaml",
		"igautomate.yml",
		filepath.Join("/etc", "igautomate", "config.yaml"),
	}
	if home, err := os.UserHomeDir(); err == nil {
		locations = append(locations, filepath.Join(home, ".config", "igautomate", "config.yaml"))
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Address == "" {
		errs = append(errs, errors.New("server address is required"))
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendPostgres, BackendRedis:
		if c.Store.DSN == "" && c.Store.DSNSecret == "" {
			errs = append(errs, fmt.Errorf("store backend %q requires dsn or dsn_secret", c.Store.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}

	quotas := map[string]Quota{
		"conversations":        c.RateLimit.Conversations,
		"send_text":            c.RateLimit.SendText,
		"send_media":           c.RateLimit.SendMedia,
		"private_replies_live": c.RateLimit.PrivateRepliesLive,
		"private_replies_post": c.RateLimit.PrivateRepliesPost,
	}
	for name, q := range quotas {
		if q.Limit <= 0 {
			errs = append(errs, fmt.Errorf("rate_limit.%s.limit must be positive", name))
		}
		if q.Window <= 0 {
			errs = append(errs, fmt.Errorf("rate_limit.%s.window must be positive", name))
		}
	}
	if c.RateLimit.CallsPerUserPerHour <= 0 {
		errs = append(errs, errors.New("calls per user per hour must be positive"))
	}
	if c.RateLimit.PlatformWindow <= 0 {
		errs = append(errs, errors.New("platform window must be positive"))
	}

	if c.Engagement.Window <= 0 {
		errs = append(errs, errors.New("engagement window must be positive"))
	}
	if c.Engagement.DebounceDelay <= 0 {
		errs = append(errs, errors.New("debounce delay must be positive"))
	}

	if c.Maintenance.CleanupInterval <= 0 || c.Maintenance.StatsInterval <= 0 || c.Maintenance.SyncInterval <= 0 {
		errs = append(errs, errors.New("maintenance intervals must be positive"))
	}
	if c.Maintenance.SyncConcurrency <= 0 {
		errs = append(errs, errors.New("sync concurrency must be positive"))
	}
	if c.Maintenance.HydrateAttempts <= 0 {
		errs = append(errs, errors.New("hydrate attempts must be positive"))
	}
	if c.Maintenance.RetryBackoff < 0 {
		errs = append(errs, errors.New("retry backoff must not be negative"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, errors.New("invalid log format"))
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, errors.New("metrics path must start with /"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if addr, ok := flags["address"].(string); ok && addr != "" {
		c.Server.Address = addr
	}
	if backend, ok := flags["store-backend"].(string); ok && backend != "" {
		c.Store.Backend = backend
	}
	if dsn, ok := flags["store-dsn"].(string); ok && dsn != "" {
		c.Store.DSN = dsn
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
	if logFormat, ok := flags["log-format"].(string); ok && logFormat != "" {
		c.Logging.Format = logFormat
	}
}

// Redacted returns a copy safe for printing, with the store DSN masked
func (c *Config) Redacted() *Config {
	cp := *c
	if cp.Store.DSN != "" {
		cp.Store.DSN = "********"
	}
	return &cp
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Missing .env files are fine
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".igautomate.env")

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

func getenv(name string) string {
	return strings.TrimSpace(os.Getenv(EnvPrefix + name))
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
