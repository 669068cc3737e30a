package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"PORT", "HOST", "APP_ENV", "STORE_DRIVER", "DATABASE_URL", "PEBBLE_PATH", "AUTO_MIGRATE",
		"AUTH_KEY", "ALLOWED_ORIGINS", "RATE_BURST", "RATE_INTERVAL", "SEND_BUFFER",
		"MAX_MESSAGE_BYTES", "STORE_TIMEOUT",
	} {
		t.Setenv(k, "")
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, 10, cfg.RateBurst)
	assert.Equal(t, 200*time.Millisecond, cfg.RateInterval)
	assert.Equal(t, 256, cfg.SendBuffer)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.True(t, cfg.AutoMigrate)
}

func TestFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/chat")
	t.Setenv("RATE_BURST", "10")
	t.Setenv("RATE_INTERVAL", "1s")
	t.Setenv("AUTO_MIGRATE", "false")
	t.Setenv("ALLOWED_ORIGINS", "http://localhost:3000, https://foodshare.example ")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, 10, cfg.RateBurst)
	assert.Equal(t, time.Second, cfg.RateInterval)
	assert.False(t, cfg.AutoMigrate)
	assert.Equal(t, []string{"http://localhost:3000", "https://foodshare.example"}, cfg.AllowedOrigins)
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("RATE_BURST", "-1")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL is required")
	assert.Contains(t, err.Error(), "RATE_BURST")
}

func TestFromEnvUnknownDriver(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", "mongo")

	_, err := FromEnv()
	assert.ErrorContains(t, err, "unknown driver")
}

func TestMaskDBSource(t *testing.T) {
	assert.Equal(t, "postgres://****:****@db:5432/chat", maskDBSource("postgres://user:secret@db:5432/chat"))
	assert.Equal(t, "invalid-dsn-format", maskDBSource("nonsense"))
}
