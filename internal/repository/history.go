package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"topivac-equipment/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HistoryRepository 设备变更记录仓库
type HistoryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewHistoryRepository 创建变更记录仓库
func NewHistoryRepository(db *sql.DB, logger *zap.Logger) *HistoryRepository {
	return &HistoryRepository{
		db:     db,
		logger: logger,
	}
}

// LogChange 记录一次设备变更
// oldValues/newValues 可为 nil（如创建设备时无旧值）
func (r *HistoryRepository) LogChange(ctx context.Context, equipmentID, action string, oldValues, newValues interface{}) error {
	if equipmentID == "" {
		return fmt.Errorf("equipment_id is required")
	}
	if action == "" {
		return fmt.Errorf("action is required")
	}

	var oldJSON, newJSON []byte
	var err error

	if oldValues != nil {
		oldJSON, err = json.Marshal(oldValues)
		if err != nil {
			return fmt.Errorf("failed to marshal old values: %w", err)
		}
	}
	if newValues != nil {
		newJSON, err = json.Marshal(newValues)
		if err != nil {
			return fmt.Errorf("failed to marshal new values: %w", err)
		}
	}

	query := `
		INSERT INTO equipment_history (
			id,
			equipment_id,
			action,
			old_values,
			new_values,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6
		)
	`

	_, err = r.db.ExecContext(ctx,
		query,
		uuid.New().String(),
		equipmentID,
		action,
		oldJSON,
		newJSON,
		time.Now(),
	)

	if err != nil {
		return fmt.Errorf("failed to log equipment change: %w", err)
	}

	return nil
}

// ListByEquipment 获取某台设备的变更记录（最新在前）
func (r *HistoryRepository) ListByEquipment(ctx context.Context, equipmentID string, limit int) ([]*models.EquipmentHistory, error) {
	if equipmentID == "" {
		return nil, fmt.Errorf("equipment_id is required")
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT
			id,
			equipment_id,
			action,
			old_values,
			new_values,
			created_at
		FROM equipment_history
		WHERE equipment_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, equipmentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query equipment history: %w", err)
	}
	defer rows.Close()

	entries := []*models.EquipmentHistory{}
	for rows.Next() {
		var entry models.EquipmentHistory
		var oldValues, newValues []byte

		err := rows.Scan(
			&entry.ID,
			&entry.EquipmentID,
			&entry.Action,
			&oldValues,
			&newValues,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan equipment history: %w", err)
		}

		if len(oldValues) > 0 {
			entry.OldValues = oldValues
		}
		if len(newValues) > 0 {
			entry.NewValues = newValues
		}

		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate equipment history: %w", err)
	}

	return entries, nil
}
