package budget

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store using PostgreSQL, for multi-instance
// deployments that must share BudgetContext state across Host processes.
// Limits/used/warned are stored as JSON columns since their key set
// (Dimension) is open-ended.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Init creates the backing table if it does not already exist.
func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS budget_snapshots (
			run_id     TEXT PRIMARY KEY,
			limits     JSONB NOT NULL,
			used       JSONB NOT NULL,
			warned     JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("budget: init postgres store: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, runID string) (*BudgetSnapshot, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT limits, used, warned, updated_at FROM budget_snapshots WHERE run_id = $1`, runID)

	var limitsJSON, usedJSON, warnedJSON []byte
	var updatedAt time.Time
	err := row.Scan(&limitsJSON, &usedJSON, &warnedJSON, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("budget: load %s: %w", runID, err)
	}

	snap := &BudgetSnapshot{RunID: runID, UpdatedAt: updatedAt}
	if err := json.Unmarshal(limitsJSON, &snap.Limits); err != nil {
		return nil, false, fmt.Errorf("budget: decode limits for %s: %w", runID, err)
	}
	if err := json.Unmarshal(usedJSON, &snap.Used); err != nil {
		return nil, false, fmt.Errorf("budget: decode used for %s: %w", runID, err)
	}
	if err := json.Unmarshal(warnedJSON, &snap.Warned); err != nil {
		return nil, false, fmt.Errorf("budget: decode warned for %s: %w", runID, err)
	}
	return snap, true, nil
}

func (s *PostgresStore) Save(ctx context.Context, snap *BudgetSnapshot) error {
	limitsJSON, err := json.Marshal(snap.Limits)
	if err != nil {
		return fmt.Errorf("budget: encode limits for %s: %w", snap.RunID, err)
	}
	usedJSON, err := json.Marshal(snap.Used)
	if err != nil {
		return fmt.Errorf("budget: encode used for %s: %w", snap.RunID, err)
	}
	warnedJSON, err := json.Marshal(snap.Warned)
	if err != nil {
		return fmt.Errorf("budget: encode warned for %s: %w", snap.RunID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO budget_snapshots (run_id, limits, used, warned, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id) DO UPDATE SET
			limits     = EXCLUDED.limits,
			used       = EXCLUDED.used,
			warned     = EXCLUDED.warned,
			updated_at = EXCLUDED.updated_at
	`, snap.RunID, limitsJSON, usedJSON, warnedJSON, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("budget: save %s: %w", snap.RunID, err)
	}
	return nil
}
