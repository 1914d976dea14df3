package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"topivac-equipment/internal/models"
)

func setupMockHistoryDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *HistoryRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := NewHistoryRepository(db, zap.NewNop())
	return db, mock, repo
}

// ============================================
// 记录变更测试
// ============================================

func TestLogChange_Success(t *testing.T) {
	db, mock, repo := setupMockHistoryDB(t)
	defer db.Close()

	old := &models.Equipment{ID: "eq-1", Status: models.StatusAtClinic}
	updated := &models.Equipment{ID: "eq-1", Status: models.StatusCharging}

	mock.ExpectExec(`INSERT INTO equipment_history`).
		WithArgs(sqlmock.AnyArg(), "eq-1", "check-in", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.LogChange(context.Background(), "eq-1", "check-in", old, updated)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLogChange_NilOldValues(t *testing.T) {
	db, mock, repo := setupMockHistoryDB(t)
	defer db.Close()

	created := &models.Equipment{ID: "eq-1", Status: models.StatusReady}

	mock.ExpectExec(`INSERT INTO equipment_history`).
		WithArgs(sqlmock.AnyArg(), "eq-1", "add-equipment", []byte(nil), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.LogChange(context.Background(), "eq-1", "add-equipment", nil, created)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLogChange_MissingAction(t *testing.T) {
	db, mock, repo := setupMockHistoryDB(t)
	defer db.Close()

	err := repo.LogChange(context.Background(), "eq-1", "", nil, nil)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "action is required")
	require.NoError(t, mock.ExpectationsWereMet())
}

// ============================================
// 查询变更测试
// ============================================

func TestListByEquipment_Success(t *testing.T) {
	db, mock, repo := setupMockHistoryDB(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "equipment_id", "action", "old_values", "new_values", "created_at",
	}).
		AddRow("h-2", "eq-1", "check-in", []byte(`{"status":"at-clinic"}`), []byte(`{"status":"charging"}`), now).
		AddRow("h-1", "eq-1", "add-equipment", []byte(nil), []byte(`{"status":"ready"}`), now.Add(-time.Hour))

	mock.ExpectQuery(`SELECT (.+) FROM equipment_history`).
		WithArgs("eq-1", 50).
		WillReturnRows(rows)

	entries, err := repo.ListByEquipment(context.Background(), "eq-1", 0)

	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "check-in", entries[0].Action)
	assert.Nil(t, entries[1].OldValues)
	assert.NotNil(t, entries[1].NewValues)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListByEquipment_MissingID(t *testing.T) {
	db, mock, repo := setupMockHistoryDB(t)
	defer db.Close()

	entries, err := repo.ListByEquipment(context.Background(), "", 10)

	assert.Error(t, err)
	assert.Nil(t, entries)
	require.NoError(t, mock.ExpectationsWereMet())
}
