package commands

import (
	"context"
	"fmt"
	"time"

	"topivac-equipment/internal/config"
	"topivac-equipment/internal/models"
	"topivac-equipment/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Commands 操作员指令处理器
// 每条指令是对单台设备的一次原子读-改-写：写入前加载当前持久化状态，
// 校验来源状态合法后以部分更新落库。设备不存在时静默跳过（记日志不报错）
type Commands struct {
	equipment *repository.EquipmentRepository
	history   *repository.HistoryRepository
	logger    *zap.Logger

	deepChargeIdleDays int
}

// NewCommands 创建指令处理器
func NewCommands(
	cfg config.EquipmentConfig,
	equipment *repository.EquipmentRepository,
	history *repository.HistoryRepository,
	logger *zap.Logger,
) *Commands {
	return &Commands{
		equipment:          equipment,
		history:            history,
		logger:             logger,
		deepChargeIdleDays: cfg.DeepChargeIdleDays,
	}
}

// AddEquipmentInput 登记新设备的输入
type AddEquipmentInput struct {
	SerialNumber string
	Model        string
	LotNumber    string
	Notes        *string
}

// AddEquipment 登记新设备
// 初始状态：待命、在办公室、满电，充电与使用时间都从现在起算
func (c *Commands) AddEquipment(ctx context.Context, input AddEquipmentInput) (*models.Equipment, error) {
	if input.SerialNumber == "" {
		return nil, fmt.Errorf("serial_number is required")
	}
	if input.LotNumber == "" {
		return nil, fmt.Errorf("lot_number is required")
	}

	now := time.Now()
	eq := &models.Equipment{
		ID:              uuid.New().String(),
		SerialNumber:    input.SerialNumber,
		Model:           input.Model,
		LotNumber:       input.LotNumber,
		Status:          models.StatusReady,
		Location:        models.LocationOffice,
		BatteryLevel:    100,
		Notes:           input.Notes,
		LastChargedDate: &now,
		LastUsedDate:    &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := c.equipment.CreateEquipment(ctx, eq); err != nil {
		return nil, err
	}

	c.logHistory(ctx, eq.ID, "add-equipment", nil, eq)
	c.logger.Info("equipment registered",
		zap.String("equipment_id", eq.ID),
		zap.String("serial_number", eq.SerialNumber))

	return eq, nil
}

// CheckIn 设备从诊所收回办公室，立即开始充电
// 闲置达到阈值天数时自动按深度充电处理
func (c *Commands) CheckIn(ctx context.Context, id string) (*models.Equipment, error) {
	eq, err := c.load(ctx, id, "checkIn")
	if err != nil || eq == nil {
		return nil, err
	}
	if eq.Status != models.StatusAtClinic {
		return nil, fmt.Errorf("invalid transition: checkIn from %s", eq.Status)
	}

	now := time.Now()
	isDeep := c.idleDays(eq, now) >= c.deepChargeIdleDays

	return c.apply(ctx, eq, "check-in", map[string]interface{}{
		"status":               string(models.StatusCharging),
		"location":             string(models.LocationOffice),
		"clinic_name":          nil,
		"clinic_city":          nil,
		"charging_start_time":  now,
		"is_deep_charge":       isDeep,
		"last_used_date":       now,
		"last_disconnected_at": nil,
	})
}

// StartCharging 双态指令：
// 待命设备开始充电；在诊所的设备则是连接患者、进入使用中
func (c *Commands) StartCharging(ctx context.Context, id string, isDeepCharge bool) (*models.Equipment, error) {
	eq, err := c.load(ctx, id, "startCharging")
	if err != nil || eq == nil {
		return nil, err
	}

	now := time.Now()
	switch eq.Status {
	case models.StatusReady:
		return c.apply(ctx, eq, "start-charging", map[string]interface{}{
			"status":              string(models.StatusCharging),
			"charging_start_time": now,
			"is_deep_charge":      isDeepCharge,
		})
	case models.StatusAtClinic:
		// 在诊所"开始使用"：连接患者
		return c.apply(ctx, eq, "connect-patient", map[string]interface{}{
			"status":               string(models.StatusInUse),
			"last_used_date":       now,
			"last_disconnected_at": nil,
		})
	default:
		return nil, fmt.Errorf("invalid transition: startCharging from %s", eq.Status)
	}
}

// CheckOut 设备从办公室发往诊所
func (c *Commands) CheckOut(ctx context.Context, id, clinicName, clinicCity string) (*models.Equipment, error) {
	eq, err := c.load(ctx, id, "checkOut")
	if err != nil || eq == nil {
		return nil, err
	}
	if eq.Status != models.StatusReady {
		return nil, fmt.Errorf("invalid transition: checkOut from %s", eq.Status)
	}
	if clinicName == "" {
		return nil, fmt.Errorf("clinic_name is required")
	}

	now := time.Now()
	return c.apply(ctx, eq, "check-out", map[string]interface{}{
		"status":               string(models.StatusAtClinic),
		"location":             string(models.LocationClinic),
		"clinic_name":          clinicName,
		"clinic_city":          clinicCity,
		"last_disconnected_at": now,
	})
}

// StopCharging 三态指令：
// 使用中（诊所）断开患者；诊所充电中停止充电回到在诊所；办公室充电中停止回到待命
func (c *Commands) StopCharging(ctx context.Context, id string) (*models.Equipment, error) {
	eq, err := c.load(ctx, id, "stopCharging")
	if err != nil || eq == nil {
		return nil, err
	}

	now := time.Now()
	switch {
	case eq.Status == models.StatusInUse && eq.Location == models.LocationClinic:
		return c.apply(ctx, eq, "disconnect-patient", map[string]interface{}{
			"status":               string(models.StatusAtClinic),
			"last_disconnected_at": now,
		})
	case eq.Status == models.StatusCharging && eq.Location == models.LocationClinic:
		return c.apply(ctx, eq, "stop-charging", map[string]interface{}{
			"status":              string(models.StatusAtClinic),
			"charging_start_time": nil,
			"is_deep_charge":      false,
		})
	case eq.Status == models.StatusCharging && eq.Location == models.LocationOffice:
		return c.apply(ctx, eq, "stop-charging", map[string]interface{}{
			"status":              string(models.StatusReady),
			"charging_start_time": nil,
			"is_deep_charge":      false,
		})
	default:
		return nil, fmt.Errorf("invalid transition: stopCharging from %s at %s", eq.Status, eq.Location)
	}
}

// StartDeepCharge 在诊所就地开始深度充电，位置保持诊所
func (c *Commands) StartDeepCharge(ctx context.Context, id string) (*models.Equipment, error) {
	eq, err := c.load(ctx, id, "startDeepCharge")
	if err != nil || eq == nil {
		return nil, err
	}
	if eq.Status != models.StatusAtClinic {
		return nil, fmt.Errorf("invalid transition: startDeepCharge from %s", eq.Status)
	}

	now := time.Now()
	return c.apply(ctx, eq, "start-deep-charge", map[string]interface{}{
		"status":              string(models.StatusCharging),
		"charging_start_time": now,
		"is_deep_charge":      true,
	})
}

// ManualDisconnect 深度充电完成后的人工断开确认
// 重置闲置天数计时，设备回到在诊所待用
func (c *Commands) ManualDisconnect(ctx context.Context, id string) (*models.Equipment, error) {
	eq, err := c.load(ctx, id, "manualDisconnect")
	if err != nil || eq == nil {
		return nil, err
	}
	if eq.Status != models.StatusCharging || !eq.NeedsManualDisconnection {
		return nil, fmt.Errorf("invalid transition: manualDisconnect requires a completed deep charge awaiting disconnect")
	}

	now := time.Now()
	return c.apply(ctx, eq, "manual-disconnect", map[string]interface{}{
		"status":                     string(models.StatusAtClinic),
		"battery_level":              100,
		"charging_start_time":        nil,
		"is_deep_charge":             false,
		"needs_manual_disconnection": false,
		"last_charged_date":          now,
		"last_disconnected_at":       now,
	})
}

// MarkCharged 人工标记充电完成
func (c *Commands) MarkCharged(ctx context.Context, id string) (*models.Equipment, error) {
	eq, err := c.load(ctx, id, "markCharged")
	if err != nil || eq == nil {
		return nil, err
	}
	if eq.Status != models.StatusCharging {
		return nil, fmt.Errorf("invalid transition: markCharged from %s", eq.Status)
	}

	now := time.Now()
	return c.apply(ctx, eq, "mark-charged", map[string]interface{}{
		"status":              string(models.StatusReady),
		"battery_level":       100,
		"charging_start_time": nil,
		"is_deep_charge":      false,
		"last_charged_date":   now,
	})
}

// load 加载设备；不存在时返回 (nil, nil) 并记日志
func (c *Commands) load(ctx context.Context, id, command string) (*models.Equipment, error) {
	eq, err := c.equipment.GetEquipment(ctx, id)
	if err != nil {
		return nil, err
	}
	if eq == nil {
		c.logger.Warn("command targets unknown equipment, skipping",
			zap.String("command", command),
			zap.String("equipment_id", id))
		return nil, nil
	}
	return eq, nil
}

// apply 落库并记录变更
func (c *Commands) apply(ctx context.Context, eq *models.Equipment, action string, updates map[string]interface{}) (*models.Equipment, error) {
	updated, err := c.equipment.UpdateEquipment(ctx, eq.ID, updates)
	if err != nil {
		return nil, err
	}

	c.logHistory(ctx, eq.ID, action, eq, updated)
	c.logger.Info("command applied",
		zap.String("action", action),
		zap.String("equipment_id", eq.ID),
		zap.String("from_status", string(eq.Status)),
		zap.String("to_status", string(updated.Status)))

	return updated, nil
}

func (c *Commands) logHistory(ctx context.Context, equipmentID, action string, oldValues, newValues interface{}) {
	if c.history == nil {
		return
	}
	if err := c.history.LogChange(ctx, equipmentID, action, oldValues, newValues); err != nil {
		c.logger.Warn("failed to record equipment history",
			zap.String("equipment_id", equipmentID),
			zap.Error(err))
	}
}

// idleDays 距上次使用的整天数，决定收回时是否需要深度充电
func (c *Commands) idleDays(eq *models.Equipment, now time.Time) int {
	if eq.LastUsedDate == nil {
		return 0
	}
	return int(now.Sub(*eq.LastUsedDate).Hours()) / 24
}
