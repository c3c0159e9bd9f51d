// Package config loads the batch engine's environment-variable
// configuration, grounded on aipilotbyjd-linkflow-ai's
// internal/platform/config (viper env-binding with documented
// defaults) generalized to this module's flat set of settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds every environment-variable setting the CLI recognizes.
type Config struct {
	MaxWorkers    int    `mapstructure:"max_workers"`
	MaxRetries    int    `mapstructure:"max_retries"`
	StoragePath   string `mapstructure:"storage_path"`
	DashboardPort int    `mapstructure:"dashboard_port"`
	SkipTest      bool   `mapstructure:"skip_test"`
	AgentCommand  string `mapstructure:"agent_command"`
}

// Load reads configuration from the environment, falling back to the
// documented defaults for anything unset. There is no config file: the
// pack's viper idiom for a flat settings surface like this one is
// env-binding only.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()

	defaultStoragePath, err := defaultStoragePath()
	if err != nil {
		return nil, fmt.Errorf("resolve default storage path: %w", err)
	}

	v.SetDefault("max_workers", 4)
	v.SetDefault("max_retries", 3)
	v.SetDefault("storage_path", defaultStoragePath)
	v.SetDefault("dashboard_port", 3847)
	v.SetDefault("skip_test", false)
	v.SetDefault("agent_command", "claude")

	bindings := map[string]string{
		"max_workers":    "MAX_WORKERS",
		"max_retries":    "MAX_RETRIES",
		"storage_path":   "STORAGE_PATH",
		"dashboard_port": "DASHBOARD_PORT",
		"skip_test":      "SKIP_TEST",
		"agent_command":  "AGENT_COMMAND",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.MaxWorkers < 1 {
		return nil, fmt.Errorf("MAX_WORKERS must be positive, got %d", cfg.MaxWorkers)
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("MAX_RETRIES must be non-negative, got %d", cfg.MaxRetries)
	}

	return &cfg, nil
}

// defaultStoragePath returns "~/.grove-batch/batch.db".
func defaultStoragePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".grove-batch", "batch.db"), nil
}
