// Package config loads runtime configuration from the environment, following
// the external-interfaces environment variable contract: CCOS_* knobs for
// the host, budget defaults, and chain persistence, plus the MCP auth
// lookup chain consumed by pkg/credentials.
package config

import (
	"os"
	"strconv"
)

// Config holds process-wide runtime configuration.
type Config struct {
	LogLevel string

	// ChainBackupPath is where the causal chain's JSON backup envelope is
	// written/read on startup and shutdown. Empty disables persistence.
	ChainBackupPath string

	// DefaultCallBudget/DefaultCostBudgetCents seed a tenant's BudgetContext
	// the first time it is seen.
	DefaultCallBudget      int64
	DefaultCostBudgetCents int64

	// DryRunDefault controls whether newly created SecurityContexts start
	// in dry-run mode absent an explicit override.
	DryRunDefault bool

	// DiscoveryCacheTTLSeconds bounds how long MCP discovery results are
	// cached before a server is re-probed.
	DiscoveryCacheTTLSeconds int
}

// Load reads configuration from the environment, applying safe defaults so
// the runtime boots cleanly with nothing set.
func Load() *Config {
	return &Config{
		LogLevel:                 envOr("CCOS_LOG_LEVEL", "INFO"),
		ChainBackupPath:          envOr("CCOS_CHAIN_BACKUP_PATH", ""),
		DefaultCallBudget:        envInt64("CCOS_DEFAULT_CALL_BUDGET", 1000),
		DefaultCostBudgetCents:   envInt64("CCOS_DEFAULT_COST_BUDGET_CENTS", 5000),
		DryRunDefault:            os.Getenv("CCOS_DRY_RUN_DEFAULT") == "true",
		DiscoveryCacheTTLSeconds: int(envInt64("CCOS_DISCOVERY_CACHE_TTL_SECONDS", 300)),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
