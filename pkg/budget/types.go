// Package budget implements the per-run BudgetContext of spec.md §4.B:
// multi-dimensional resource accounting (calls, duration, tokens, bytes,
// cost) with a warn/exhaust policy per dimension. Enforcement is
// fail-closed throughout: an unconfigured dimension or a failed snapshot
// load is treated as denied/empty rather than silently unlimited.
package budget

import (
	"context"
	"time"
)

// BudgetSnapshot is the durable form of a BudgetContext: everything needed
// to resume accounting for a run after a process restart, so a restarted
// Host does not re-grant a fresh budget to an in-flight plan.
type BudgetSnapshot struct {
	RunID     string              `json:"run_id"`
	Limits    map[Dimension]Limit `json:"limits"`
	Used      map[Dimension]int64 `json:"used"`
	Warned    map[Dimension]bool  `json:"warned"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// Store persists and restores BudgetSnapshots. A MemoryStore is the
// default for tests and single-process runs; a PostgresStore backs
// multi-instance deployments.
type Store interface {
	Load(ctx context.Context, runID string) (*BudgetSnapshot, bool, error)
	Save(ctx context.Context, snapshot *BudgetSnapshot) error
}
