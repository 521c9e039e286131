package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("STATS_CACHE_TTL_SECONDS", "")
	t.Setenv("SLA_SWEEP_INTERVAL_SECONDS", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Empty(t, cfg.Postgres.DSN)
	require.Empty(t, cfg.Redis.Addr)
	require.Equal(t, time.Minute, cfg.Redis.StatsCacheTTL())
	require.Equal(t, 5*time.Minute, cfg.Tickets.SLASweepInterval())
	require.Equal(t, 30, cfg.Tickets.MessagesPerMinute)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_PORT", "9090")
	t.Setenv("REDIS_ADDR", "cache:6379")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("STATS_CACHE_TTL_SECONDS", "0")
	t.Setenv("SLA_SWEEP_INTERVAL_SECONDS", "30")
	t.Setenv("RATE_LIMIT_MESSAGES_PER_MINUTE", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:9090", cfg.App.Addr())
	require.Equal(t, "cache:6379", cfg.Redis.Addr)
	require.Equal(t, 3, cfg.Redis.DB)
	require.Zero(t, cfg.Redis.StatsCacheTTL())
	require.Equal(t, 30*time.Second, cfg.Tickets.SLASweepInterval())
	require.Equal(t, 30, cfg.Tickets.MessagesPerMinute)
}

func TestLoadInvalidRedisDB(t *testing.T) {
	t.Setenv("REDIS_DB", "primary")

	_, err := Load()
	require.Error(t, err)
}
