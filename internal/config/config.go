// Package config loads and validates the service configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/evergreenpress/republisher/internal/domain"
)

const (
	// DefaultReadTimeout is the default HTTP read timeout
	DefaultReadTimeout = 10 * time.Second
	// DefaultWriteTimeout is the default HTTP write timeout
	DefaultWriteTimeout = 30 * time.Second
	// DefaultLockTTL bounds a stale execution lock; it must exceed the
	// worst-case batch duration
	DefaultLockTTL = 10 * time.Minute
	// DefaultWriteRatePerSec paces per-item CMS writes within a batch
	DefaultWriteRatePerSec = 5
	// DefaultRetryBaseDelay is the initial delay before the first retry run
	DefaultRetryBaseDelay = 5 * time.Minute
	// DefaultRetryMaxDelay caps the exponential retry backoff
	DefaultRetryMaxDelay = time.Hour
	// DefaultRetryMaxAttempts caps how often a failed item is retried
	DefaultRetryMaxAttempts = 3
)

type Config struct {
	Debug     bool            `yaml:"debug"` // controls log level and format
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	Site      SiteConfig      `yaml:"site"`
	Republish RepublishConfig `yaml:"republish"`
	Retry     RetryConfig     `yaml:"retry"`
}

type ServerConfig struct {
	Address      string        `yaml:"address"` // e.g., ":8080"
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// SiteConfig identifies the hosted site. The key seeds the deterministic
// timestamp randomizer; the timezone defines the civil publish window.
type SiteConfig struct {
	Key      string `yaml:"key"`
	Timezone string `yaml:"timezone"`
}

// RepublishConfig holds the default republishing settings. A persisted
// settings snapshot row, when present, overrides these at batch start.
type RepublishConfig struct {
	EnabledTypes    []string      `yaml:"enabled_types"`
	QuotaMode       string        `yaml:"quota_mode"` // fixed | percentage
	QuotaValue      int           `yaml:"quota_value"`
	WindowStartHour int           `yaml:"window_start_hour"`
	WindowEndHour   int           `yaml:"window_end_hour"`
	MinAgeDays      int           `yaml:"min_age_days"`
	PreserveOrder   bool          `yaml:"preserve_order"`
	CategoryFilter  string        `yaml:"category_filter"` // none | whitelist | blacklist
	CategoryIDs     []int64       `yaml:"category_ids"`
	DryRun          bool          `yaml:"dry_run"`
	RateLimitWindow time.Duration `yaml:"rate_limit_window"`
	RateLimitMax    int           `yaml:"rate_limit_max"`
	LockTTL         time.Duration `yaml:"lock_ttl"`
	WriteRatePerSec int           `yaml:"write_rate_per_sec"`
	Schedule        string        `yaml:"schedule"` // cron spec for the daily trigger
}

type RetryConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// Settings builds the domain settings snapshot from the configured defaults.
func (c *Config) Settings() domain.Settings {
	return domain.Settings{
		EnabledTypes:    c.Republish.EnabledTypes,
		QuotaMode:       domain.QuotaMode(c.Republish.QuotaMode),
		QuotaValue:      c.Republish.QuotaValue,
		WindowStartHour: c.Republish.WindowStartHour,
		WindowEndHour:   c.Republish.WindowEndHour,
		MinItemAgeDays:  c.Republish.MinAgeDays,
		PreserveOrder:   c.Republish.PreserveOrder,
		CategoryFilter:  domain.CategoryFilterMode(c.Republish.CategoryFilter),
		CategoryIDs:     c.Republish.CategoryIDs,
		Debug:           c.Debug,
		DryRun:          c.Republish.DryRun,
		RateLimitWindow: c.Republish.RateLimitWindow,
		RateLimitMax:    c.Republish.RateLimitMax,
		SiteKey:         c.Site.Key,
		Timezone:        c.Site.Timezone,
	}
}

// Validate checks if the configuration is valid and returns an error if not.
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return errors.New("database.host is required")
	}
	if c.Database.DBName == "" {
		return errors.New("database.dbname is required")
	}
	if c.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	if c.Republish.LockTTL < time.Minute {
		return fmt.Errorf("republish.lock_ttl must be at least 1m, got %v", c.Republish.LockTTL)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BaseDelay <= 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry delays invalid: base=%v max=%v", c.Retry.BaseDelay, c.Retry.MaxDelay)
	}

	settings := c.Settings()
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("republish settings: %w", err)
	}
	if _, err := settings.Location(); err != nil {
		return fmt.Errorf("site timezone: %w", err)
	}
	return nil
}

// setDefaults sets default values for configuration fields
func setDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Database.Port == "" {
		cfg.Database.Port = "5432"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if len(cfg.Republish.EnabledTypes) == 0 {
		cfg.Republish.EnabledTypes = []string{"post"}
	}
	if cfg.Republish.QuotaMode == "" {
		cfg.Republish.QuotaMode = string(domain.QuotaFixed)
	}
	if cfg.Republish.QuotaValue == 0 {
		cfg.Republish.QuotaValue = 10
	}
	if cfg.Republish.WindowEndHour == 0 {
		cfg.Republish.WindowStartHour = 9
		cfg.Republish.WindowEndHour = 17
	}
	if cfg.Republish.MinAgeDays == 0 {
		cfg.Republish.MinAgeDays = 30
	}
	if cfg.Republish.CategoryFilter == "" {
		cfg.Republish.CategoryFilter = string(domain.CategoryFilterNone)
	}
	if cfg.Republish.RateLimitWindow == 0 {
		cfg.Republish.RateLimitWindow = domain.DefaultRateWindow
	}
	if cfg.Republish.RateLimitMax == 0 {
		cfg.Republish.RateLimitMax = 1
	}
	if cfg.Republish.LockTTL == 0 {
		cfg.Republish.LockTTL = DefaultLockTTL
	}
	if cfg.Republish.WriteRatePerSec == 0 {
		cfg.Republish.WriteRatePerSec = DefaultWriteRatePerSec
	}
	if cfg.Republish.Schedule == "" {
		// Fire at the start of the publish window, site-local time.
		cfg.Republish.Schedule = fmt.Sprintf("0 %d * * *", cfg.Republish.WindowStartHour)
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = DefaultRetryBaseDelay
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = DefaultRetryMaxDelay
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = DefaultRetryMaxAttempts
	}
}

// overrideWithEnvVars overrides configuration with environment variables
func overrideWithEnvVars(cfg *Config) {
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cfg.Redis.URL = redisURL
	}
	if dbHost := os.Getenv("DB_HOST"); dbHost != "" {
		cfg.Database.Host = dbHost
	}
	if dbPassword := os.Getenv("DB_PASSWORD"); dbPassword != "" {
		cfg.Database.Password = dbPassword
	}
	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		cfg.Auth.JWTSecret = jwtSecret
	}
	if appDebug := os.Getenv("APP_DEBUG"); appDebug != "" {
		cfg.Debug = parseBool(appDebug)
	}
	if port := os.Getenv("REPUBLISHER_PORT"); port != "" {
		cfg.Server.Address = ":" + port
	}
}

// Load reads, defaults, env-overrides and validates the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	setDefaults(&cfg)
	overrideWithEnvVars(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// parseBool parses a string value as a boolean. Returns true for "true",
// "1", "yes" (case-insensitive), false otherwise.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes"
}
