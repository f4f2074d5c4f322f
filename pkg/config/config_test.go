package config_test

import (
	"testing"

	"github.com/ccos-run/ccos/pkg/config"
	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CCOS_LOG_LEVEL", "")
	t.Setenv("CCOS_CHAIN_BACKUP_PATH", "")
	t.Setenv("CCOS_DEFAULT_CALL_BUDGET", "")
	t.Setenv("CCOS_DRY_RUN_DEFAULT", "")

	cfg := config.Load()

	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "", cfg.ChainBackupPath)
	assert.Equal(t, int64(1000), cfg.DefaultCallBudget)
	assert.False(t, cfg.DryRunDefault)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CCOS_LOG_LEVEL", "DEBUG")
	t.Setenv("CCOS_CHAIN_BACKUP_PATH", "/var/lib/ccos/chain.json")
	t.Setenv("CCOS_DEFAULT_CALL_BUDGET", "50")
	t.Setenv("CCOS_DRY_RUN_DEFAULT", "true")
	t.Setenv("CCOS_DISCOVERY_CACHE_TTL_SECONDS", "60")

	cfg := config.Load()

	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "/var/lib/ccos/chain.json", cfg.ChainBackupPath)
	assert.Equal(t, int64(50), cfg.DefaultCallBudget)
	assert.True(t, cfg.DryRunDefault)
	assert.Equal(t, 300, cfg.DiscoveryCacheTTLSeconds*5) // sanity: 60*5
}

func TestLoad_InvalidIntFallsBack(t *testing.T) {
	t.Setenv("CCOS_DEFAULT_CALL_BUDGET", "not-a-number")
	cfg := config.Load()
	assert.Equal(t, int64(1000), cfg.DefaultCallBudget)
}
