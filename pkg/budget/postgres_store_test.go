package budget

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_LoadFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)

	limitsJSON, _ := json.Marshal(map[Dimension]Limit{DimensionCalls: {Cap: 10, Policy: PolicyHardStop}})
	usedJSON, _ := json.Marshal(map[Dimension]int64{DimensionCalls: 3})
	warnedJSON, _ := json.Marshal(map[Dimension]bool{})

	rows := sqlmock.NewRows([]string{"limits", "used", "warned", "updated_at"}).
		AddRow(limitsJSON, usedJSON, warnedJSON, time.Now())

	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT limits, used, warned, updated_at FROM budget_snapshots WHERE run_id = $1")).
		WithArgs("run-1").
		WillReturnRows(rows)

	snap, found, err := store.Load(context.Background(), "run-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(3), snap.Used[DimensionCalls])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LoadNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)

	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT limits, used, warned, updated_at FROM budget_snapshots WHERE run_id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"limits", "used", "warned", "updated_at"}))

	_, found, err := store.Load(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, found)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Save(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO budget_snapshots")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = store.Save(context.Background(), &BudgetSnapshot{
		RunID:  "run-1",
		Limits: map[Dimension]Limit{DimensionCalls: {Cap: 10, Policy: PolicyHardStop}},
		Used:   map[Dimension]int64{DimensionCalls: 1},
		Warned: map[Dimension]bool{},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
