package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"topivac-equipment/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// EquipmentRepository 设备仓库
type EquipmentRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewEquipmentRepository 创建设备仓库
func NewEquipmentRepository(db *sql.DB, logger *zap.Logger) *EquipmentRepository {
	return &EquipmentRepository{
		db:     db,
		logger: logger,
	}
}

const equipmentColumns = `
	id,
	serial_number,
	model,
	lot_number,
	status,
	location,
	battery_level,
	clinic_name,
	clinic_city,
	notes,
	charging_start_time,
	is_deep_charge,
	needs_manual_disconnection,
	last_used_date,
	last_charged_date,
	last_disconnected_at,
	created_at,
	updated_at
`

// scanEquipment 扫描一行设备记录并处理可空字段
func scanEquipment(scanner interface {
	Scan(dest ...interface{}) error
}) (*models.Equipment, error) {
	var eq models.Equipment
	var clinicName, clinicCity, notes sql.NullString
	var chargingStartTime sql.NullTime
	var lastUsedDate, lastChargedDate, lastDisconnectedAt sql.NullTime

	err := scanner.Scan(
		&eq.ID,
		&eq.SerialNumber,
		&eq.Model,
		&eq.LotNumber,
		&eq.Status,
		&eq.Location,
		&eq.BatteryLevel,
		&clinicName,
		&clinicCity,
		&notes,
		&chargingStartTime,
		&eq.IsDeepCharge,
		&eq.NeedsManualDisconnection,
		&lastUsedDate,
		&lastChargedDate,
		&lastDisconnectedAt,
		&eq.CreatedAt,
		&eq.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	// 处理可空字段
	if clinicName.Valid {
		eq.ClinicName = &clinicName.String
	}
	if clinicCity.Valid {
		eq.ClinicCity = &clinicCity.String
	}
	if notes.Valid {
		eq.Notes = &notes.String
	}
	if chargingStartTime.Valid {
		eq.ChargingStartTime = &chargingStartTime.Time
	}
	if lastUsedDate.Valid {
		eq.LastUsedDate = &lastUsedDate.Time
	}
	if lastChargedDate.Valid {
		eq.LastChargedDate = &lastChargedDate.Time
	}
	if lastDisconnectedAt.Valid {
		eq.LastDisconnectedAt = &lastDisconnectedAt.Time
	}

	return &eq, nil
}

// ============================================
// 基础 CRUD 操作
// ============================================

// GetEquipment 根据 id 获取单台设备
func (r *EquipmentRepository) GetEquipment(ctx context.Context, id string) (*models.Equipment, error) {
	if id == "" {
		return nil, fmt.Errorf("id is required")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM equipment
		WHERE id = $1
	`, equipmentColumns)

	eq, err := scanEquipment(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // 设备不存在
		}
		return nil, fmt.Errorf("failed to get equipment: %w", err)
	}

	return eq, nil
}

// ListEquipment 获取全部设备（按序列号排序）
func (r *EquipmentRepository) ListEquipment(ctx context.Context) ([]*models.Equipment, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM equipment
		ORDER BY serial_number ASC
	`, equipmentColumns)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query equipment: %w", err)
	}
	defer rows.Close()

	equipment := []*models.Equipment{}
	for rows.Next() {
		eq, err := scanEquipment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan equipment: %w", err)
		}
		equipment = append(equipment, eq)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate equipment: %w", err)
	}

	return equipment, nil
}

// CreateEquipment 创建设备
// 批次号唯一冲突时返回专门的错误，便于上层提示
func (r *EquipmentRepository) CreateEquipment(ctx context.Context, eq *models.Equipment) error {
	if eq == nil {
		return fmt.Errorf("equipment is required")
	}
	if eq.ID == "" {
		return fmt.Errorf("id is required")
	}
	if eq.SerialNumber == "" {
		return fmt.Errorf("serial_number is required")
	}
	if eq.LotNumber == "" {
		return fmt.Errorf("lot_number is required")
	}

	query := `
		INSERT INTO equipment (
			id,
			serial_number,
			model,
			lot_number,
			status,
			location,
			battery_level,
			clinic_name,
			clinic_city,
			notes,
			charging_start_time,
			is_deep_charge,
			needs_manual_disconnection,
			last_used_date,
			last_charged_date,
			last_disconnected_at,
			created_at,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18
		)
	`

	_, err := r.db.ExecContext(ctx,
		query,
		eq.ID,
		eq.SerialNumber,
		eq.Model,
		eq.LotNumber,
		eq.Status,
		eq.Location,
		eq.BatteryLevel,
		eq.ClinicName,
		eq.ClinicCity,
		eq.Notes,
		eq.ChargingStartTime,
		eq.IsDeepCharge,
		eq.NeedsManualDisconnection,
		eq.LastUsedDate,
		eq.LastChargedDate,
		eq.LastDisconnectedAt,
		eq.CreatedAt,
		eq.UpdatedAt,
	)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("lot number already exists: %s", eq.LotNumber)
		}
		return fmt.Errorf("failed to create equipment: %w", err)
	}

	return nil
}

// UpdateEquipment 更新设备（支持部分更新）
// updates 是一个 map，包含要更新的字段；返回更新后的完整记录
func (r *EquipmentRepository) UpdateEquipment(ctx context.Context, id string, updates map[string]interface{}) (*models.Equipment, error) {
	if id == "" {
		return nil, fmt.Errorf("id is required")
	}
	if len(updates) == 0 {
		return nil, fmt.Errorf("updates cannot be empty")
	}

	// 构建 SET 子句
	setParts := []string{}
	args := []interface{}{}
	argN := 1

	// 允许更新的字段
	allowedFields := map[string]bool{
		"serial_number":              true,
		"model":                      true,
		"lot_number":                 true,
		"status":                     true,
		"location":                   true,
		"battery_level":              true,
		"clinic_name":                true,
		"clinic_city":                true,
		"notes":                      true,
		"charging_start_time":        true,
		"is_deep_charge":             true,
		"needs_manual_disconnection": true,
		"last_used_date":             true,
		"last_charged_date":          true,
		"last_disconnected_at":       true,
	}

	for field, value := range updates {
		if !allowedFields[field] {
			return nil, fmt.Errorf("field '%s' is not allowed to update", field)
		}
		if field == "status" {
			status, ok := value.(string)
			if !ok || !models.IsValidStatus(models.EquipmentStatus(status)) {
				return nil, fmt.Errorf("invalid status: %v", value)
			}
		}
		setParts = append(setParts, fmt.Sprintf("%s = $%d", field, argN))
		args = append(args, value)
		argN++
	}

	// 自动更新 updated_at
	setParts = append(setParts, "updated_at = CURRENT_TIMESTAMP")

	args = append(args, id)

	query := fmt.Sprintf(`
		UPDATE equipment
		SET %s
		WHERE id = $%d
		RETURNING %s
	`, strings.Join(setParts, ", "), argN, equipmentColumns)

	eq, err := scanEquipment(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("equipment not found: id=%s", id)
		}
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, fmt.Errorf("lot number already exists")
		}
		return nil, fmt.Errorf("failed to update equipment: %w", err)
	}

	return eq, nil
}

// DeleteEquipment 删除设备
func (r *EquipmentRepository) DeleteEquipment(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("id is required")
	}

	result, err := r.db.ExecContext(ctx, `DELETE FROM equipment WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete equipment: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("equipment not found: id=%s", id)
	}

	return nil
}
