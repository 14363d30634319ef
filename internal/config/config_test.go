package config_test

import (
	"encoding/base64"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/vellora/internal/config"
	"github.com/aretw0/vellora/pkg/domain"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := config.LoadFrom(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, config.StoreMemory, cfg.Store)
	assert.Equal(t, "vellora:", cfg.RedisPrefix)
	assert.Equal(t, 30*time.Second, cfg.LockTTL)
	assert.Zero(t, cfg.CacheTTL)
	assert.Equal(t, 3, cfg.CommitAttempts)
	assert.Equal(t, 4096, cfg.MaxInputSize)
	assert.Empty(t, cfg.EventsToken, "the event endpoint is off unless a token is set")
	assert.Equal(t, slog.LevelInfo, cfg.Level())

	redeemable, err := cfg.Redeemable()
	require.NoError(t, err)
	assert.Equal(t, []domain.Status{domain.StatusPending, domain.StatusUnused}, redeemable)

	enc, err := cfg.Encryption()
	require.NoError(t, err)
	assert.Nil(t, enc)
}

func TestLoadFrom_Overrides(t *testing.T) {
	key := base64.StdEncoding.EncodeToString(make([]byte, 32))
	cfg, err := config.LoadFrom(map[string]string{
		"VELLORA_STORE":               "sqlite",
		"VELLORA_SQLITE_PATH":         "/tmp/v.db",
		"VELLORA_LOG_LEVEL":           "debug",
		"VELLORA_CACHE_TTL":           "15s",
		"VELLORA_REDEEMABLE_STATUSES": "unused",
		"VELLORA_ENCRYPTION_KEY":      key,
		"VELLORA_TELEGRAM_TOKEN":      "123:abc",
		"VELLORA_EVENTS_TOKEN":        "ev-token",
	})
	require.NoError(t, err)
	assert.Equal(t, "ev-token", cfg.EventsToken)

	assert.Equal(t, config.StoreSQLite, cfg.Store)
	assert.Equal(t, "/tmp/v.db", cfg.SQLitePath)
	assert.Equal(t, slog.LevelDebug, cfg.Level())
	assert.Equal(t, 15*time.Second, cfg.CacheTTL)

	redeemable, err := cfg.Redeemable()
	require.NoError(t, err)
	assert.Equal(t, []domain.Status{domain.StatusUnused}, redeemable)

	enc, err := cfg.Encryption()
	require.NoError(t, err)
	require.NotNil(t, enc)
	assert.Len(t, enc.ActiveKey, 32)
}

func TestLoadFrom_Invalid(t *testing.T) {
	tests := map[string]map[string]string{
		"store":        {"VELLORA_STORE": "postgres"},
		"level":        {"VELLORA_LOG_LEVEL": "loud"},
		"format":       {"VELLORA_LOG_FORMAT": "xml"},
		"used status":  {"VELLORA_REDEEMABLE_STATUSES": "used"},
		"bad status":   {"VELLORA_REDEEMABLE_STATUSES": "paid"},
		"short key":    {"VELLORA_ENCRYPTION_KEY": base64.StdEncoding.EncodeToString([]byte("short"))},
		"public url":   {"VELLORA_PUBLIC_URL": "localhost"},
		"attempts":     {"VELLORA_COMMIT_ATTEMPTS": "0"},
		"secret only":  {"VELLORA_TELEGRAM_SECRET_TOKEN": "s"},
		"not a number": {"VELLORA_REDIS_DB": "one"},
	}
	for name, environ := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := config.LoadFrom(environ)
			assert.Error(t, err)
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	_, err := config.LoadFrom(map[string]string{
		"VELLORA_STORE":     "postgres",
		"VELLORA_LOG_LEVEL": "loud",
	})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "VELLORA_STORE"))
	assert.True(t, strings.Contains(err.Error(), "VELLORA_LOG_LEVEL"))
}
