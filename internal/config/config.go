package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/exampapers/ExamPrepBusiness/internal/settings"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath   = "CONFIG_PATH"
	EnvDBConnection = "DB_CONNECTION"
	EnvJWTSecret    = "JWT_SECRET"
	EnvJWTExpiry    = "JWT_EXPIRY"
)

// AppConfig holds resolved application configuration values.
type AppConfig struct {
	ConfigPath string
}

// LoadFromEnv loads app config from environment variables.
func LoadFromEnv() (AppConfig, error) {
	return AppConfig{ConfigPath: ResolveConfigPath(os.Getenv(EnvConfigPath))}, nil
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// ErrMissingDatabaseDSN indicates no database DSN is present in the config file.
var ErrMissingDatabaseDSN = errors.New("missing database dsn (set `database-dsn` or `database.dsn` in config file)")

// JWTConfig holds JWT secret and expiry settings.
type JWTConfig struct {
	Secret string        `yaml:"secret" env:"JWT_SECRET"`
	Expiry time.Duration `yaml:"expiry"`
}

// LogConfig controls logrus output.
type LogConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL"`
	Format     string `yaml:"format" env:"LOG_FORMAT"`
	File       string `yaml:"file" env:"LOG_FILE"`
	MaxSizeMB  int    `yaml:"max-size-mb"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAgeDays int    `yaml:"max-age-days"`
}

// RedisConfig locates the shared Redis used for rate limits and the sweep lock.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
	Prefix   string `yaml:"prefix"`
}

// MaintenanceConfig schedules the daily period sweep.
type MaintenanceConfig struct {
	Enabled  bool          `yaml:"enabled" env:"MAINTENANCE_ENABLED"`
	RunAt    string        `yaml:"run-at" env:"MAINTENANCE_RUN_AT"`
	Timezone string        `yaml:"timezone" env:"MAINTENANCE_TIMEZONE"`
	LockTTL  time.Duration `yaml:"lock-ttl"`
}

// RateLimitConfig sets per-second request limits.
type RateLimitConfig struct {
	Limit        int  `yaml:"limit" env:"RATE_LIMIT"`
	WebhookLimit int  `yaml:"webhook-limit"`
	UseRedis     bool `yaml:"use-redis"`
}

// StripeConfig configures Stripe webhook verification.
type StripeConfig struct {
	WebhookSecret string        `yaml:"webhook-secret" env:"STRIPE_WEBHOOK_SECRET"`
	Tolerance     time.Duration `yaml:"tolerance"`
}

// PayPalConfig configures PayPal webhook verification.
type PayPalConfig struct {
	BaseURL      string `yaml:"base-url" env:"PAYPAL_BASE_URL"`
	ClientID     string `yaml:"client-id" env:"PAYPAL_CLIENT_ID"`
	ClientSecret string `yaml:"client-secret" env:"PAYPAL_CLIENT_SECRET"`
	WebhookID    string `yaml:"webhook-id" env:"PAYPAL_WEBHOOK_ID"`
}

// PaymentsConfig groups provider settings.
type PaymentsConfig struct {
	Stripe StripeConfig `yaml:"stripe"`
	PayPal PayPalConfig `yaml:"paypal"`
}

// AccessConfig tunes paper access.
type AccessConfig struct {
	RecentPapersWindow int `yaml:"recent-papers-window"`
}

// Config is the full server configuration.
type Config struct {
	DatabaseDSN string `yaml:"database-dsn" env:"DB_CONNECTION"`
	Database    struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`
	Port        int               `yaml:"port" env:"PORT"`
	JWT         JWTConfig         `yaml:"jwt"`
	Log         LogConfig         `yaml:"log"`
	Redis       RedisConfig       `yaml:"redis"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	RateLimit   RateLimitConfig   `yaml:"rate-limit"`
	Payments    PaymentsConfig    `yaml:"payments"`
	Access      AccessConfig      `yaml:"access"`
}

// DSN returns the database connection string.
func (c Config) DSN() string {
	if dsn := strings.TrimSpace(c.DatabaseDSN); dsn != "" {
		return dsn
	}
	return strings.TrimSpace(c.Database.DSN)
}

// Load reads the YAML file at configPath, a .env file next to it or in the
// working directory, and environment overrides. A missing file is allowed
// when the environment supplies the DSN.
func Load(configPath string) (Config, error) {
	_ = godotenv.Load(filepath.Join(filepath.Dir(configPath), ".env"))
	_ = godotenv.Load()

	cfg := Config{
		Port: settings.DefaultPort,
		JWT:  JWTConfig{Expiry: defaultJWTExpiry},
		Maintenance: MaintenanceConfig{
			Enabled:  true,
			RunAt:    settings.DefaultMaintenanceRunAt,
			Timezone: settings.DefaultMaintenanceTimezone,
			LockTTL:  settings.DefaultMaintenanceLockTTL,
		},
		RateLimit: RateLimitConfig{
			Limit:        settings.DefaultRateLimit,
			WebhookLimit: settings.DefaultWebhookRateLimit,
		},
		Redis:  RedisConfig{Prefix: settings.DefaultRedisPrefix},
		Access: AccessConfig{RecentPapersWindow: settings.DefaultRecentPapersWindow},
		Log:    LogConfig{Level: "info", Format: "text"},
	}

	data, errRead := os.ReadFile(configPath)
	switch {
	case errRead == nil:
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
			return Config{}, fmt.Errorf("parse config file: %w", errUnmarshal)
		}
	case errors.Is(errRead, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("read config file: %w", errRead)
	}

	if errEnv := env.Parse(&cfg); errEnv != nil {
		return Config{}, fmt.Errorf("parse environment: %w", errEnv)
	}
	if expiryRaw := strings.TrimSpace(os.Getenv(EnvJWTExpiry)); expiryRaw != "" {
		if expiry, errParse := time.ParseDuration(expiryRaw); errParse == nil && expiry > 0 {
			cfg.JWT.Expiry = expiry
		}
	}

	if cfg.DSN() == "" {
		return Config{}, ErrMissingDatabaseDSN
	}
	if cfg.Port <= 0 {
		cfg.Port = settings.DefaultPort
	}
	if cfg.JWT.Expiry <= 0 {
		cfg.JWT.Expiry = defaultJWTExpiry
	}
	if cfg.Access.RecentPapersWindow <= 0 {
		cfg.Access.RecentPapersWindow = settings.DefaultRecentPapersWindow
	}
	if strings.TrimSpace(cfg.Redis.Prefix) == "" {
		cfg.Redis.Prefix = settings.DefaultRedisPrefix
	}
	return cfg, nil
}

// defaultJWTExpiry is used when the config omits or invalidates JWT expiry.
const defaultJWTExpiry = settings.DefaultJWTExpiry
