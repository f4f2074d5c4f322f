package host

import (
	"fmt"

	"github.com/ccos-run/ccos/pkg/budget"
	"github.com/ccos-run/ccos/pkg/chain"
	"github.com/ccos-run/ccos/pkg/config"
	"github.com/ccos-run/ccos/pkg/security"
)

// NewFromConfig builds a Host wired to process-wide configuration: the
// budget's default call/cost limits seed runID's BudgetContext, the
// security context's execution mode follows cfg.DryRunDefault, and — when
// cfg.ChainBackupPath is set — the causal chain is restored from its JSON
// backup file instead of starting empty, so a restarted process resumes the
// same hash-linked log rather than losing history on every restart.
func NewFromConfig(cfg *config.Config, runID, planID string, mp ManifestReader, plan *HostPlanContext) (*Host, error) {
	c := chain.New()
	if cfg.ChainBackupPath != "" {
		restored, err := chain.LoadBackup(cfg.ChainBackupPath)
		if err != nil {
			return nil, fmt.Errorf("host: restoring chain backup: %w", err)
		}
		c = restored
	}

	b := budget.NewBudgetContext(runID, map[budget.Dimension]budget.Limit{
		budget.DimensionCalls: {Cap: cfg.DefaultCallBudget, Policy: budget.PolicyHardStop},
		budget.DimensionCost:  {Cap: cfg.DefaultCostBudgetCents, Policy: budget.PolicyApprovalRequired},
	})

	sec := security.NewContext(planID)
	h := New(b, sec, c, mp, plan)
	if cfg.DryRunDefault {
		sec.Mode = security.ModeDryRun
		h.ExecutionMode = security.ModeDryRun
	}
	return h, nil
}

// PersistChainBackup writes h's causal chain to cfg.ChainBackupPath, a no-op
// when no backup path is configured. Callers invoke this on graceful
// shutdown so the next NewFromConfig call resumes from where this run left
// off.
func PersistChainBackup(cfg *config.Config, h *Host) error {
	if cfg.ChainBackupPath == "" {
		return nil
	}
	return h.Chain.SaveBackup(cfg.ChainBackupPath)
}
