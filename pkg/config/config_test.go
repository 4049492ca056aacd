package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, cfg.DatabaseBackend)
	assert.True(t, cfg.UseLookupTable)
	assert.False(t, cfg.DevtestEnabled)
	assert.Equal(t, []string{"email"}, cfg.IndexedProperties)
	assert.Equal(t, int64(32), cfg.FanoutConcurrency)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ACTINGWEB_DATABASE_BACKEND", "redis")
	t.Setenv("ACTINGWEB_DEVTEST_ENABLED", "true")
	t.Setenv("ACTINGWEB_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("ACTINGWEB_FANOUT_CONCURRENCY", "8")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendRedis, cfg.DatabaseBackend)
	assert.True(t, cfg.DevtestEnabled)
	assert.Equal(t, "redis.internal:6380", cfg.RedisAddr)
	assert.Equal(t, int64(8), cfg.FanoutConcurrency)
}

func TestLoad_CapabilitiesTTLInvalidFallsBackToOneHour(t *testing.T) {
	t.Setenv("ACTINGWEB_CAPABILITIES_TTL", "not-a-duration")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "1h0m0s", cfg.CapabilitiesTTL.String())
}

func TestMain_EnvIsClean(t *testing.T) {
	// Logs any ACTINGWEB_* vars inherited from the surrounding shell, which
	// could otherwise affect other tests in this package.
	for _, kv := range os.Environ() {
		if len(kv) >= len(envPrefix) && kv[:len(envPrefix)] == envPrefix {
			t.Logf("ambient %s env var present: %s", envPrefix, kv)
		}
	}
}
