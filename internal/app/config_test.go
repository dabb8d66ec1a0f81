package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "parley", cfg.DBSchema)
	assert.Equal(t, int32(10), cfg.DBMaxConns)
	assert.Equal(t, 15*time.Second, cfg.ReadTimeout)
	assert.False(t, cfg.ReadinessRequireDB)
	assert.Empty(t, cfg.DatabaseURL)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("PARLEY_HTTP_ADDR", "127.0.0.1:9999")
	t.Setenv("PARLEY_LOG_LEVEL", "debug")
	t.Setenv("PARLEY_LOG_FORMAT", "pretty")
	t.Setenv("PARLEY_DB_SCHEMA", "parley_test")
	t.Setenv("PARLEY_DB_MAX_CONNS", "3")
	t.Setenv("PARLEY_READINESS_REQUIRE_DB", "true")
	t.Setenv("PARLEY_HTTP_WRITE_TIMEOUT", "30s")
	t.Setenv("PARLEY_DEV_SEED_USERS", "7:ana,9:bo")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9999", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "pretty", cfg.LogFormat)
	assert.Equal(t, "parley_test", cfg.DBSchema)
	assert.Equal(t, int32(3), cfg.DBMaxConns)
	assert.True(t, cfg.ReadinessRequireDB)
	assert.Equal(t, 30*time.Second, cfg.WriteTimeout)
	assert.Equal(t, []string{"7:ana", "9:bo"}, cfg.DevSeedUsers)
}

func TestLoadConfig_BadDuration(t *testing.T) {
	t.Setenv("PARLEY_HTTP_READ_TIMEOUT", "not-a-duration")

	_, err := LoadConfig()
	require.Error(t, err)
}
