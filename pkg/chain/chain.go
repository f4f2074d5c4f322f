// Package chain implements the Causal Chain: an append-only, hash-linked log
// of Actions that drives budget accounting, capability metrics, and replay.
// Grounded on the teacher's total-order commit log: a single exclusive lock
// serializes appends, readers get cloned snapshots, and each entry's content
// hash folds in the previous hash so tampering after the fact is detectable.
package chain

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ccos-run/ccos/pkg/canonicalize"
	"github.com/google/uuid"
)

// Kind enumerates the action kinds the chain records.
type Kind string

const (
	KindCapabilityCall               Kind = "CapabilityCall"
	KindStepStarted                  Kind = "StepStarted"
	KindStepCompleted                Kind = "StepCompleted"
	KindStepFailed                   Kind = "StepFailed"
	KindBudgetWarning                Kind = "BudgetWarning"
	KindBudgetExhausted              Kind = "BudgetExhausted"
	KindBudgetConsumptionRecorded    Kind = "BudgetConsumptionRecorded"
	KindDelegationEvent              Kind = "DelegationEvent"
)

// Result is the outcome recorded by a paired completion action.
type Result struct {
	Success  bool                   `json:"success"`
	Value    interface{}            `json:"value,omitempty"`
	Metadata map[string]string      `json:"metadata,omitempty"`
}

// Action is one immutable entry in the chain. Once appended it is never
// mutated; a capability call's outcome is recorded by a separate completion
// action that references PendingActionID.
type Action struct {
	ID              string            `json:"id"`
	Kind            Kind              `json:"kind"`
	PlanID          string            `json:"plan_id,omitempty"`
	IntentID        string            `json:"intent_id,omitempty"`
	ParentActionID  string            `json:"parent_action_id,omitempty"`
	PendingActionID string            `json:"pending_action_id,omitempty"`
	CapabilityName  string            `json:"capability_name,omitempty"`
	ArgsHash        string            `json:"args_hash,omitempty"`
	Timestamp       time.Time         `json:"timestamp"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	Result          *Result           `json:"result,omitempty"`

	// Hash is this entry's content hash, computed over (PrevHash, this
	// action with Hash cleared) at append time.
	Hash     string `json:"hash"`
	PrevHash string `json:"prev_hash"`
}

// FunctionMetrics aggregates outcomes for one capability id.
type FunctionMetrics struct {
	Calls            int64
	Successes        int64
	Failures         int64
	DurationBucketsMs map[string]int64 // histogram bucket label -> count
}

// Chain is the append-only hashed action log.
type Chain struct {
	mu      sync.RWMutex
	actions []Action
	metrics map[string]*FunctionMetrics
}

// New creates an empty Chain.
func New() *Chain {
	return &Chain{metrics: make(map[string]*FunctionMetrics)}
}

// Append adds a new action to the chain under the exclusive lock, stamping
// its id, timestamp, and hash, and returns the assigned id.
func (c *Chain) Append(a Action) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}

	prevHash := ""
	if n := len(c.actions); n > 0 {
		prevHash = c.actions[n-1].Hash
	}
	a.PrevHash = prevHash
	a.Hash = ""

	hash, err := computeHash(prevHash, a)
	if err != nil {
		return "", fmt.Errorf("chain: computing content hash: %w", err)
	}
	a.Hash = hash

	c.actions = append(c.actions, a)
	return a.ID, nil
}

// RecordResult emits a paired completion action referencing pendingActionID,
// and updates the capability's FunctionMetrics synchronously.
func (c *Chain) RecordResult(pendingActionID, capabilityName string, result Result) (string, error) {
	kind := KindStepCompleted
	if !result.Success {
		kind = KindStepFailed
	}

	id, err := c.Append(Action{
		Kind:            kind,
		PendingActionID: pendingActionID,
		CapabilityName:  capabilityName,
		Result:          &result,
	})
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.metrics[capabilityName]
	if !ok {
		m = &FunctionMetrics{DurationBucketsMs: make(map[string]int64)}
		c.metrics[capabilityName] = m
	}
	m.Calls++
	if result.Success {
		m.Successes++
	} else {
		m.Failures++
	}
	return id, nil
}

// GetAllActions returns a cloned snapshot of the chain so callers never hold
// the chain's lock while iterating.
func (c *Chain) GetAllActions() []Action {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Action, len(c.actions))
	copy(out, c.actions)
	return out
}

// GetFunctionMetrics returns a copy of the metrics for one capability id, or
// the zero value if nothing has been recorded for it yet.
func (c *Chain) GetFunctionMetrics(name string) FunctionMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.metrics[name]
	if !ok {
		return FunctionMetrics{DurationBucketsMs: map[string]int64{}}
	}
	clone := *m
	clone.DurationBucketsMs = make(map[string]int64, len(m.DurationBucketsMs))
	for k, v := range m.DurationBucketsMs {
		clone.DurationBucketsMs[k] = v
	}
	return clone
}

// GetCapabilityMetrics is an alias for GetFunctionMetrics: in this runtime a
// capability id and the function name recorded on completion actions are the
// same string, so both accessors read the same aggregate.
func (c *Chain) GetCapabilityMetrics(id string) FunctionMetrics {
	return c.GetFunctionMetrics(id)
}

// RecentLogs returns the last n actions (or fewer if the chain is shorter).
func (c *Chain) RecentLogs(n int) []Action {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if n <= 0 || len(c.actions) == 0 {
		return nil
	}
	if n > len(c.actions) {
		n = len(c.actions)
	}
	out := make([]Action, n)
	copy(out, c.actions[len(c.actions)-n:])
	return out
}

// RecordDelegationEvent appends a DelegationEvent action.
func (c *Chain) RecordDelegationEvent(planID, fromAgent, toAgent, reason string) (string, error) {
	return c.Append(Action{
		Kind:   KindDelegationEvent,
		PlanID: planID,
		Metadata: map[string]string{
			"from_agent": fromAgent,
			"to_agent":   toAgent,
			"reason":     reason,
		},
	})
}

// Verify walks the chain and confirms every entry's hash matches what
// recomputing it from (prev-hash, content) yields, detecting tampering.
func (c *Chain) Verify() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	prevHash := ""
	for i, a := range c.actions {
		check := a
		check.Hash = ""
		check.PrevHash = prevHash
		want, err := computeHash(prevHash, check)
		if err != nil {
			return fmt.Errorf("chain: recomputing hash at index %d: %w", i, err)
		}
		if want != a.Hash {
			return fmt.Errorf("chain: tamper detected at index %d (action %s): hash mismatch", i, a.ID)
		}
		prevHash = a.Hash
	}
	return nil
}

// SaveBackup atomically writes the chain's full action log to path as JSON
// (temp file + rename, the same pattern pkg/mcp/discovery's Cache uses),
// the durable form LoadBackup restores on the next process start.
func (c *Chain) SaveBackup(path string) error {
	c.mu.RLock()
	actions := make([]Action, len(c.actions))
	copy(actions, c.actions)
	c.mu.RUnlock()

	data, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("chain: marshaling backup: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*.json")
	if err != nil {
		return fmt.Errorf("chain: creating temp backup file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("chain: writing temp backup file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("chain: closing temp backup file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// LoadBackup restores a Chain from a file written by SaveBackup, verifying
// its hash chain before returning it so a tampered or corrupted backup is
// rejected rather than silently trusted. A missing file returns a fresh,
// empty Chain and no error: a first boot with nothing backed up yet starts
// clean instead of failing.
func LoadBackup(path string) (*Chain, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("chain: reading backup: %w", err)
	}

	var actions []Action
	if err := json.Unmarshal(raw, &actions); err != nil {
		return nil, fmt.Errorf("chain: unmarshaling backup: %w", err)
	}

	c := &Chain{actions: actions, metrics: make(map[string]*FunctionMetrics)}
	if err := c.Verify(); err != nil {
		return nil, fmt.Errorf("chain: backup failed integrity verification: %w", err)
	}
	c.rebuildMetrics()
	return c, nil
}

// rebuildMetrics replays completion actions to repopulate the in-memory
// metrics index after a restore, since FunctionMetrics is never itself
// persisted.
func (c *Chain) rebuildMetrics() {
	for _, a := range c.actions {
		if a.Kind != KindStepCompleted && a.Kind != KindStepFailed {
			continue
		}
		if a.CapabilityName == "" || a.Result == nil {
			continue
		}
		m, ok := c.metrics[a.CapabilityName]
		if !ok {
			m = &FunctionMetrics{DurationBucketsMs: make(map[string]int64)}
			c.metrics[a.CapabilityName] = m
		}
		m.Calls++
		if a.Result.Success {
			m.Successes++
		} else {
			m.Failures++
		}
	}
}

func computeHash(prevHash string, a Action) (string, error) {
	canonical, err := canonicalize.JCS(a)
	if err != nil {
		return "", err
	}
	return canonicalize.HashBytes([]byte(prevHash + string(canonical))), nil
}
