package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8090", cfg.Server.Addr())
	assert.Equal(t, "http://localhost:8000", cfg.Services.ThreatIntel.BaseURL)
	assert.Equal(t, "http://localhost:8001", cfg.Services.Stablecoin.BaseURL)
	assert.Equal(t, "http://localhost:3000", cfg.Services.Screening.BaseURL)
	assert.Equal(t, "http://localhost:3001", cfg.Services.DeFiRisk.BaseURL)
	assert.Equal(t, "http://localhost:8080", cfg.Services.OSINT.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.Services.ThreatIntel.Timeout)

	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 2*time.Hour, cfg.Cache.TTL)

	assert.Equal(t, 60*time.Second, cfg.Aggregator.RefreshInterval)
	assert.Equal(t, 50, cfg.Aggregator.ThreatIntelLimit)
	assert.Equal(t, 5, cfg.Aggregator.AlertDisplayLimit)
	assert.Equal(t, 3*time.Second, cfg.Aggregator.PollInterval)
	assert.Equal(t, 100, cfg.Aggregator.PollMaxAttempts)
	assert.Equal(t, 5*time.Minute, cfg.Aggregator.FreshScrapeMinInterval)

	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, "alert-generated", cfg.Kafka.Topic)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("DEFI_GUARD_SERVER_PORT", "9001")
	t.Setenv("DEFI_GUARD_CACHE_BACKEND", "redis")
	t.Setenv("DEFI_GUARD_AGGREGATOR_REFRESH_INTERVAL", "30s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, 30*time.Second, cfg.Aggregator.RefreshInterval)
}
