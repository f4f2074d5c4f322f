package budget

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Dimension is one resource axis a BudgetContext tracks.
type Dimension string

const (
	DimensionCalls    Dimension = "calls"
	DimensionDuration Dimension = "duration_ms"
	DimensionTokens   Dimension = "tokens"
	DimensionBytes    Dimension = "bytes"
	DimensionCost     Dimension = "cost_cents"
)

// Policy governs what happens when a dimension's cap would be exceeded.
type Policy string

const (
	// PolicySoftWarn allows the call through but flags the overage.
	PolicySoftWarn Policy = "soft_warn"
	// PolicyHardStop denies the call outright.
	PolicyHardStop Policy = "hard_stop"
	// PolicyApprovalRequired holds the call for human approval instead of
	// an outright denial.
	PolicyApprovalRequired Policy = "approval_required"
)

// Limit pairs a cap with the policy applied when it is reached.
type Limit struct {
	Cap    int64
	Policy Policy
}

// BudgetContext tracks multi-dimensional resource consumption for one run,
// generalizing the single cost dimension of Budget/Enforcer to the full set
// the Runtime Host must account for on every capability call.
type BudgetContext struct {
	mu      sync.Mutex
	RunID   string
	limits  map[Dimension]Limit
	used    map[Dimension]int64
	Warned  map[Dimension]bool
}

// NewBudgetContext creates a BudgetContext with the given per-dimension limits.
func NewBudgetContext(runID string, limits map[Dimension]Limit) *BudgetContext {
	return &BudgetContext{
		RunID:  runID,
		limits: limits,
		used:   make(map[Dimension]int64),
		Warned: make(map[Dimension]bool),
	}
}

// Outcome describes the result of reserving against a dimension.
type Outcome string

const (
	OutcomeAllowed           Outcome = "allowed"
	OutcomeWarned            Outcome = "warned"
	OutcomeDenied            Outcome = "denied"
	OutcomeApprovalRequired  Outcome = "approval_required"
)

// CheckResult carries the per-dimension verdict for one reservation attempt.
type CheckResult struct {
	Dimension Dimension
	Outcome   Outcome
	Amount    int64 // amount that was (or would have been) reserved
	Used      int64
	Cap       int64
	Reason    string
}

// Reserve attempts to account `amount` against `dim`. It is fail-closed: an
// unconfigured dimension is treated as HardStop-denied rather than silently
// allowed, since an absent limit must never be read as "unlimited".
func (b *BudgetContext) Reserve(dim Dimension, amount int64) CheckResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reserveLocked(dim, amount)
}

func (b *BudgetContext) reserveLocked(dim Dimension, amount int64) CheckResult {
	limit, ok := b.limits[dim]
	if !ok {
		return CheckResult{Dimension: dim, Outcome: OutcomeDenied, Amount: amount, Reason: fmt.Sprintf("no limit configured for dimension %s", dim)}
	}

	projected := b.used[dim] + amount
	if projected <= limit.Cap {
		b.used[dim] = projected
		return CheckResult{Dimension: dim, Outcome: OutcomeAllowed, Amount: amount, Used: projected, Cap: limit.Cap}
	}

	switch limit.Policy {
	case PolicySoftWarn:
		b.used[dim] = projected
		b.Warned[dim] = true
		return CheckResult{Dimension: dim, Outcome: OutcomeWarned, Amount: amount, Used: projected, Cap: limit.Cap,
			Reason: fmt.Sprintf("%s over cap (%d > %d), allowed under soft_warn", dim, projected, limit.Cap)}
	case PolicyApprovalRequired:
		return CheckResult{Dimension: dim, Outcome: OutcomeApprovalRequired, Amount: amount, Used: b.used[dim], Cap: limit.Cap,
			Reason: fmt.Sprintf("%s would exceed cap (%d > %d), approval required", dim, projected, limit.Cap)}
	default: // PolicyHardStop and anything unrecognized — fail closed
		return CheckResult{Dimension: dim, Outcome: OutcomeDenied, Amount: amount, Used: b.used[dim], Cap: limit.Cap,
			Reason: fmt.Sprintf("%s would exceed cap (%d > %d)", dim, projected, limit.Cap)}
	}
}

// ReserveAll checks every dimension in the cost map and only commits the
// reservation if every dimension is Allowed or Warned. If any dimension
// would be denied or needs approval, nothing is committed (the earlier
// successful reservations are rolled back) and the first non-allowed
// result is returned.
func (b *BudgetContext) ReserveAll(costs map[Dimension]int64) (CheckResult, []CheckResult) {
	b.mu.Lock()
	defer b.mu.Unlock()

	results := make([]CheckResult, 0, len(costs))
	for dim, amount := range costs {
		r := b.reserveLocked(dim, amount)
		results = append(results, r)
		if r.Outcome == OutcomeDenied || r.Outcome == OutcomeApprovalRequired {
			for _, committed := range results[:len(results)-1] {
				b.used[committed.Dimension] -= committed.Amount
			}
			return r, results
		}
	}
	return CheckResult{Outcome: OutcomeAllowed}, results
}

// Used returns current consumption for a dimension.
func (b *BudgetContext) Used(dim Dimension) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used[dim]
}

// Remaining returns cap minus used for a dimension, clamped to zero.
func (b *BudgetContext) Remaining(dim Dimension) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	limit, ok := b.limits[dim]
	if !ok {
		return 0
	}
	r := limit.Cap - b.used[dim]
	if r < 0 {
		return 0
	}
	return r
}

// Snapshot clones the BudgetContext's current state into a durable
// BudgetSnapshot, the shape a Store persists.
func (b *BudgetContext) Snapshot() *BudgetSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	limits := make(map[Dimension]Limit, len(b.limits))
	for k, v := range b.limits {
		limits[k] = v
	}
	used := make(map[Dimension]int64, len(b.used))
	for k, v := range b.used {
		used[k] = v
	}
	warned := make(map[Dimension]bool, len(b.Warned))
	for k, v := range b.Warned {
		warned[k] = v
	}
	return &BudgetSnapshot{RunID: b.RunID, Limits: limits, Used: used, Warned: warned, UpdatedAt: time.Now().UTC()}
}

// Persist writes the current state to store. A nil store is a no-op, so
// callers can wire persistence optionally without branching.
func (b *BudgetContext) Persist(ctx context.Context, store Store) error {
	if store == nil {
		return nil
	}
	return store.Save(ctx, b.Snapshot())
}

// Restore loads runID's BudgetContext from store, falling back to a fresh
// zero-usage context under limits when no snapshot exists. A load error is
// NOT treated as "start fresh": it is returned so the caller can fail
// closed rather than silently re-granting consumed budget.
func Restore(ctx context.Context, store Store, runID string, limits map[Dimension]Limit) (*BudgetContext, error) {
	if store == nil {
		return NewBudgetContext(runID, limits), nil
	}
	snap, found, err := store.Load(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("budget: restore %s: %w", runID, err)
	}
	if !found {
		return NewBudgetContext(runID, limits), nil
	}
	bc := NewBudgetContext(runID, limits)
	for dim, used := range snap.Used {
		bc.used[dim] = used
	}
	for dim, warned := range snap.Warned {
		bc.Warned[dim] = warned
	}
	return bc, nil
}
