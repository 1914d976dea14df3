package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"topivac-equipment/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// AlertsRepository 提醒仓库
type AlertsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertsRepository 创建提醒仓库
func NewAlertsRepository(db *sql.DB, logger *zap.Logger) *AlertsRepository {
	return &AlertsRepository{
		db:     db,
		logger: logger,
	}
}

const alertColumns = `
	id,
	equipment_id,
	equipment_code,
	type,
	severity,
	message,
	dismissed,
	dismissed_at,
	created_at,
	updated_at
`

func scanAlert(scanner interface {
	Scan(dest ...interface{}) error
}) (*models.Alert, error) {
	var alert models.Alert
	var dismissedAt sql.NullTime

	err := scanner.Scan(
		&alert.ID,
		&alert.EquipmentID,
		&alert.EquipmentCode,
		&alert.Type,
		&alert.Severity,
		&alert.Message,
		&alert.Dismissed,
		&dismissedAt,
		&alert.CreatedAt,
		&alert.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if dismissedAt.Valid {
		alert.DismissedAt = &dismissedAt.Time
	}

	return &alert, nil
}

// ============================================
// 查询操作
// ============================================

// ListAlerts 获取全部提醒（含已忽略的）
func (r *AlertsRepository) ListAlerts(ctx context.Context) ([]*models.Alert, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM alerts
		ORDER BY created_at DESC
	`, alertColumns)

	return r.queryAlerts(ctx, query)
}

// ListActiveAlerts 获取未忽略的提醒
func (r *AlertsRepository) ListActiveAlerts(ctx context.Context) ([]*models.Alert, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM alerts
		WHERE dismissed = false
		ORDER BY created_at DESC
	`, alertColumns)

	return r.queryAlerts(ctx, query)
}

func (r *AlertsRepository) queryAlerts(ctx context.Context, query string, args ...interface{}) ([]*models.Alert, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := []*models.Alert{}
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alerts: %w", err)
	}

	return alerts, nil
}

// ============================================
// 写入操作
// ============================================

// CreateAlerts 批量创建提醒
// 逐条插入，主键冲突的跳过，不中断整批（对账周期会在下一轮补齐）
func (r *AlertsRepository) CreateAlerts(ctx context.Context, alerts []*models.Alert) error {
	if len(alerts) == 0 {
		return nil
	}

	query := `
		INSERT INTO alerts (
			id,
			equipment_id,
			equipment_code,
			type,
			severity,
			message,
			dismissed,
			dismissed_at,
			created_at,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
	`

	for _, alert := range alerts {
		_, err := r.db.ExecContext(ctx,
			query,
			alert.ID,
			alert.EquipmentID,
			alert.EquipmentCode,
			alert.Type,
			alert.Severity,
			alert.Message,
			alert.Dismissed,
			alert.DismissedAt,
			alert.CreatedAt,
			alert.UpdatedAt,
		)
		if err != nil {
			if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
				r.logger.Warn("alert already exists, skipping",
					zap.String("alert_id", alert.ID))
				continue
			}
			return fmt.Errorf("failed to create alert %s: %w", alert.ID, err)
		}
	}

	return nil
}

// UpdateAlertMessage 更新提醒内容（消息或级别随时间变化时）
func (r *AlertsRepository) UpdateAlertMessage(ctx context.Context, id string, severity models.AlertSeverity, message string) error {
	if id == "" {
		return fmt.Errorf("id is required")
	}

	query := `
		UPDATE alerts
		SET severity = $1,
		    message = $2,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $3
	`

	result, err := r.db.ExecContext(ctx, query, severity, message, id)
	if err != nil {
		return fmt.Errorf("failed to update alert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("alert not found: id=%s", id)
	}

	return nil
}

// DeleteAlerts 批量删除提醒
func (r *AlertsRepository) DeleteAlerts(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	query := fmt.Sprintf(`DELETE FROM alerts WHERE id IN (%s)`, strings.Join(placeholders, ", "))

	_, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete alerts: %w", err)
	}

	return nil
}

// DismissAlert 忽略提醒
func (r *AlertsRepository) DismissAlert(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("id is required")
	}

	query := `
		UPDATE alerts
		SET dismissed = true,
		    dismissed_at = CURRENT_TIMESTAMP,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to dismiss alert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("alert not found: id=%s", id)
	}

	return nil
}

// DeleteDismissedBefore 清理早于给定时间忽略、且不在当前期望集合中的提醒
// keepIDs 为当前仍应存在的提醒ID集合
func (r *AlertsRepository) DeleteDismissedBefore(ctx context.Context, cutoff time.Time, keepIDs []string) (int64, error) {
	args := []interface{}{cutoff}
	query := `
		DELETE FROM alerts
		WHERE dismissed = true
		  AND dismissed_at < $1
	`

	if len(keepIDs) > 0 {
		placeholders := make([]string, len(keepIDs))
		for i, id := range keepIDs {
			placeholders[i] = fmt.Sprintf("$%d", i+2)
			args = append(args, id)
		}
		query += fmt.Sprintf(" AND id NOT IN (%s)", strings.Join(placeholders, ", "))
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete dismissed alerts: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}
