package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 4, cfg.MaxWorkers)
	require.Equal(t, 3, cfg.MaxRetries)
	require.Equal(t, 3847, cfg.DashboardPort)
	require.False(t, cfg.SkipTest)
	require.Equal(t, "claude", cfg.AgentCommand)
	require.Contains(t, cfg.StoragePath, "batch.db")
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MAX_WORKERS", "8")
	t.Setenv("MAX_RETRIES", "5")
	t.Setenv("STORAGE_PATH", "/tmp/custom.db")
	t.Setenv("DASHBOARD_PORT", "9999")
	t.Setenv("SKIP_TEST", "true")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 8, cfg.MaxWorkers)
	require.Equal(t, 5, cfg.MaxRetries)
	require.Equal(t, "/tmp/custom.db", cfg.StoragePath)
	require.Equal(t, 9999, cfg.DashboardPort)
	require.True(t, cfg.SkipTest)
}

func TestLoadRejectsInvalidMaxWorkers(t *testing.T) {
	t.Setenv("MAX_WORKERS", "0")
	_, err := Load()
	require.Error(t, err)
}
