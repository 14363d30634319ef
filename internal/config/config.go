// Package config loads the Vellora process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/aretw0/vellora/internal/logging"
	"github.com/aretw0/vellora/pkg/domain"
	"github.com/aretw0/vellora/pkg/persistence/middleware"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
)

// Config is the process configuration.
type Config struct {
	Addr      string `env:"VELLORA_ADDR"       envDefault:":8080"`
	PublicURL string `env:"VELLORA_PUBLIC_URL" envDefault:"http://localhost:8080"`
	LogLevel  string `env:"VELLORA_LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"VELLORA_LOG_FORMAT" envDefault:"text"`

	Store         string        `env:"VELLORA_STORE"          envDefault:"memory"`
	SQLitePath    string        `env:"VELLORA_SQLITE_PATH"    envDefault:"vellora.db"`
	RedisAddr     string        `env:"VELLORA_REDIS_ADDR"     envDefault:"localhost:6379"`
	RedisPassword string        `env:"VELLORA_REDIS_PASSWORD"`
	RedisDB       int           `env:"VELLORA_REDIS_DB"       envDefault:"0"`
	RedisPrefix   string        `env:"VELLORA_REDIS_PREFIX"   envDefault:"vellora:"`
	CacheTTL      time.Duration `env:"VELLORA_CACHE_TTL"`
	LockTTL       time.Duration `env:"VELLORA_LOCK_TTL"       envDefault:"30s"`

	EncryptionKey          string   `env:"VELLORA_ENCRYPTION_KEY"`
	EncryptionFallbackKeys []string `env:"VELLORA_ENCRYPTION_FALLBACK_KEYS" envSeparator:","`

	RedeemableStatuses []string `env:"VELLORA_REDEEMABLE_STATUSES" envSeparator:"," envDefault:"pending,unused"`
	BcryptCost         int      `env:"VELLORA_BCRYPT_COST"         envDefault:"10"`
	PromptsFile        string   `env:"VELLORA_PROMPTS_FILE"`
	CommitAttempts     int      `env:"VELLORA_COMMIT_ATTEMPTS"     envDefault:"3"`
	MaxInputSize       int      `env:"VELLORA_MAX_INPUT_SIZE"      envDefault:"4096"`

	TelegramToken       string `env:"VELLORA_TELEGRAM_TOKEN"`
	TelegramSecretToken string `env:"VELLORA_TELEGRAM_SECRET_TOKEN"`
	TelegramAPIURL      string `env:"VELLORA_TELEGRAM_API_URL"`

	StripeSecretKey     string `env:"VELLORA_STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `env:"VELLORA_STRIPE_WEBHOOK_SECRET"`

	// EventsToken guards POST /api/events. The route is disabled when empty.
	EventsToken string `env:"VELLORA_EVENTS_TOKEN"`

	OTelEndpoint string `env:"VELLORA_OTEL_ENDPOINT"`
}

// Load reads the configuration from the process environment and validates it.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom is Load over an explicit environment.
func LoadFrom(environ map[string]string) (Config, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the values that cannot be expressed as env tags.
func (c Config) Validate() error {
	var errs []error
	switch c.Store {
	case StoreMemory, StoreRedis, StoreSQLite:
	default:
		errs = append(errs, fmt.Errorf("VELLORA_STORE: unknown backend %q", c.Store))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("VELLORA_LOG_LEVEL: %w", err))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("VELLORA_LOG_FORMAT: unknown format %q", c.LogFormat))
	}
	if _, err := c.Redeemable(); err != nil {
		errs = append(errs, fmt.Errorf("VELLORA_REDEEMABLE_STATUSES: %w", err))
	}
	if _, err := c.Encryption(); err != nil {
		errs = append(errs, fmt.Errorf("VELLORA_ENCRYPTION_KEY: %w", err))
	}
	if u, err := url.Parse(c.PublicURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("VELLORA_PUBLIC_URL: %q is not an absolute URL", c.PublicURL))
	}
	if c.CommitAttempts < 1 {
		errs = append(errs, errors.New("VELLORA_COMMIT_ATTEMPTS: must be at least 1"))
	}
	if c.MaxInputSize < 1 {
		errs = append(errs, errors.New("VELLORA_MAX_INPUT_SIZE: must be positive"))
	}
	if c.TelegramSecretToken != "" && c.TelegramToken == "" {
		errs = append(errs, errors.New("VELLORA_TELEGRAM_SECRET_TOKEN: set without VELLORA_TELEGRAM_TOKEN"))
	}
	return errors.Join(errs...)
}

// Level returns the parsed log level.
func (c Config) Level() slog.Level {
	level, _ := logging.ParseLevel(c.LogLevel)
	return level
}

// Redeemable returns the code statuses accepted at step 0.
func (c Config) Redeemable() ([]domain.Status, error) {
	out := make([]domain.Status, 0, len(c.RedeemableStatuses))
	for _, v := range c.RedeemableStatuses {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		s, err := domain.ParseStatus(v)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", v, err)
		}
		if s == domain.StatusUsed {
			return nil, fmt.Errorf("%q: used codes cannot be redeemed", v)
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, errors.New("at least one status is required")
	}
	return out, nil
}

// Encryption returns the field encryption keys, or nil when encryption is off.
func (c Config) Encryption() (*middleware.EncryptionConfig, error) {
	if c.EncryptionKey == "" {
		if len(c.EncryptionFallbackKeys) > 0 {
			return nil, errors.New("fallback keys set without an active key")
		}
		return nil, nil
	}
	active, err := middleware.ParseKey(c.EncryptionKey)
	if err != nil {
		return nil, err
	}
	cfg := &middleware.EncryptionConfig{ActiveKey: active}
	for _, k := range c.EncryptionFallbackKeys {
		key, err := middleware.ParseKey(k)
		if err != nil {
			return nil, fmt.Errorf("fallback key: %w", err)
		}
		cfg.FallbackKeys = append(cfg.FallbackKeys, key)
	}
	return cfg, nil
}
