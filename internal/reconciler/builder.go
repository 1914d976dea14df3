package reconciler

import (
	"fmt"
	"time"

	"topivac-equipment/internal/config"
	"topivac-equipment/internal/models"
	"topivac-equipment/internal/projector"
)

// Builder 根据设备状态推导应存在的提醒集合
// 提醒ID由设备ID与条件确定性生成，同一条件在多轮评估中保持同一ID
type Builder struct {
	projector *projector.Projector

	normalChargeDuration time.Duration
	deepChargeDuration   time.Duration
	overdueGrace         time.Duration
	escalateAfter        time.Duration
	newUnitWindow        time.Duration
	calibrationWindow    time.Duration
}

// NewBuilder 创建提醒生成器
func NewBuilder(cfg config.EquipmentConfig, p *projector.Projector) *Builder {
	return &Builder{
		projector:            p,
		normalChargeDuration: time.Duration(cfg.NormalChargeHours) * time.Hour,
		deepChargeDuration:   time.Duration(cfg.DeepChargeHours) * time.Hour,
		overdueGrace:         time.Duration(cfg.OverdueGraceHours) * time.Hour,
		escalateAfter:        time.Duration(cfg.DisconnectEscalateHours) * time.Hour,
		newUnitWindow:        time.Duration(cfg.NewUnitWindowSeconds) * time.Second,
		calibrationWindow:    time.Duration(cfg.CalibrationWindowMinutes) * time.Minute,
	}
}

// BuildForEquipment 评估单台设备的全部提醒条件
// 各条件相互独立，一台设备可同时产生多条不同类型的提醒
func (b *Builder) BuildForEquipment(eq *models.Equipment, now time.Time) []*models.Alert {
	alerts := []*models.Alert{}

	if a := b.chargeComplete(eq, now); a != nil {
		alerts = append(alerts, a)
	}
	if a := b.deepChargeNeeded(eq, now); a != nil {
		alerts = append(alerts, a)
	}
	if a := b.calibrationInProgress(eq, now); a != nil {
		alerts = append(alerts, a)
	}
	if a := b.calibrationComplete(eq, now); a != nil {
		alerts = append(alerts, a)
	}
	if a := b.manualDisconnect(eq, now); a != nil {
		alerts = append(alerts, a)
	}
	if a := b.overdueCharge(eq, now); a != nil {
		alerts = append(alerts, a)
	}

	return alerts
}

// newAlert 构造带确定性ID的提醒
func (b *Builder) newAlert(eq *models.Equipment, slug string, alertType models.AlertType, severity models.AlertSeverity, message string, now time.Time) *models.Alert {
	return &models.Alert{
		ID:            fmt.Sprintf("%s-%s", eq.ID, slug),
		EquipmentID:   eq.ID,
		EquipmentCode: eq.SerialNumber,
		Type:          alertType,
		Severity:      severity,
		Message:       message,
		Dismissed:     false,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// chargeComplete 充电达到目标时长
func (b *Builder) chargeComplete(eq *models.Equipment, now time.Time) *models.Alert {
	if eq.Status != models.StatusCharging || eq.ChargingStartTime == nil {
		return nil
	}
	elapsed := now.Sub(*eq.ChargingStartTime)
	target := b.projector.ChargeTarget(eq)
	if elapsed < target {
		return nil
	}

	if eq.IsDeepCharge {
		return b.newAlert(eq, "deep-charge-complete", models.AlertDeepChargeComplete, models.SeverityInfo,
			fmt.Sprintf("Unit %s completed its %d-hour deep charge. Idle-day counter reset.",
				eq.SerialNumber, int(b.deepChargeDuration.Hours())), now)
	}
	return b.newAlert(eq, "charge-complete", models.AlertChargeComplete, models.SeverityInfo,
		fmt.Sprintf("Unit %s completed its normal %d-hour charge",
			eq.SerialNumber, int(b.normalChargeDuration.Hours())), now)
}

// deepChargeNeeded 闲置天数达到深度充电阈值
// 待命设备与在诊所设备使用不同的条件ID，避免位置变化后新旧提醒混淆
func (b *Builder) deepChargeNeeded(eq *models.Equipment, now time.Time) *models.Alert {
	if eq.Status != models.StatusReady && eq.Status != models.StatusAtClinic {
		return nil
	}
	if !b.projector.NeedsDeepCharge(eq, now) {
		return nil
	}
	days := b.projector.DaysSinceLastUse(eq, now)

	if eq.Status == models.StatusAtClinic {
		clinic := "clinic"
		if eq.ClinicName != nil && *eq.ClinicName != "" {
			clinic = *eq.ClinicName
		}
		return b.newAlert(eq, "clinic-idle", models.AlertClinicIdle, models.SeverityWarning,
			fmt.Sprintf("Unit %s (lot %s) has been disconnected at %s for %d days. Manual deep charge required.",
				eq.SerialNumber, eq.LotNumber, clinic, days), now)
	}
	return b.newAlert(eq, "deep-charge", models.AlertDeepChargeNeeded, models.SeverityWarning,
		fmt.Sprintf("Unit %s has been idle for %d days. Requires a manual %d-hour deep charge to recondition the battery.",
			eq.SerialNumber, days, int(b.deepChargeDuration.Hours())), now)
}

// isBrandNew 判断设备是否刚登记、尚未经历真实的使用/充电周期
// 两个时间戳在窗口内视为同时写入，对应登记时的初始赋值
func (b *Builder) isBrandNew(a, c *time.Time) bool {
	if a == nil || c == nil {
		return true
	}
	diff := a.Sub(*c)
	if diff < 0 {
		diff = -diff
	}
	return diff < b.newUnitWindow
}

// calibrationInProgress 深度充电进行中的校准提示
// 刚登记即首充的设备不提示，避免无意义的校准噪音
func (b *Builder) calibrationInProgress(eq *models.Equipment, now time.Time) *models.Alert {
	if eq.Status != models.StatusCharging || !eq.IsDeepCharge || eq.ChargingStartTime == nil {
		return nil
	}
	if eq.LastUsedDate == nil || b.isBrandNew(eq.ChargingStartTime, eq.LastUsedDate) {
		return nil
	}
	elapsed := now.Sub(*eq.ChargingStartTime)
	if elapsed >= b.deepChargeDuration {
		return nil
	}
	hours := int(elapsed.Hours())
	if hours < 0 {
		hours = 0
	}
	return b.newAlert(eq, "deep-charging", models.AlertBatteryCalibration, models.SeverityInfo,
		fmt.Sprintf("Unit %s battery reconditioning in progress (%dh/%dh). Calibration running.",
			eq.SerialNumber, hours, int(b.deepChargeDuration.Hours())), now)
}

// calibrationComplete 充电周期刚结束的校准完成提示
// ID带充电完成时间戳：同一周期稳定，新周期产生新ID，可在忽略后随新周期重现
func (b *Builder) calibrationComplete(eq *models.Equipment, now time.Time) *models.Alert {
	if eq.Status != models.StatusReady || eq.LastChargedDate == nil || eq.LastUsedDate == nil {
		return nil
	}
	if eq.BatteryLevel != 100 {
		return nil
	}
	if b.isBrandNew(eq.LastChargedDate, eq.LastUsedDate) {
		return nil
	}
	if now.Sub(*eq.LastChargedDate) >= b.calibrationWindow {
		return nil
	}
	slug := fmt.Sprintf("calibration-complete-%d", eq.LastChargedDate.Unix())
	return b.newAlert(eq, slug, models.AlertBatteryCalibration, models.SeverityInfo,
		fmt.Sprintf("Unit %s completed battery calibration successfully. Battery reconditioned.", eq.SerialNumber), now)
}

// manualDisconnect 深度充电完成后等待人工断开
// 超过升级阈值后提升为 critical
func (b *Builder) manualDisconnect(eq *models.Equipment, now time.Time) *models.Alert {
	if eq.Status != models.StatusCharging || !eq.NeedsManualDisconnection || eq.ChargingStartTime == nil {
		return nil
	}
	elapsed := now.Sub(*eq.ChargingStartTime)
	completedAt := eq.ChargingStartTime.Add(b.deepChargeDuration)

	severity := models.SeverityWarning
	message := fmt.Sprintf("Unit %s finished its deep charge at %s. Disconnect manually to free the charger.",
		eq.SerialNumber, completedAt.Format("15:04"))
	if elapsed >= b.escalateAfter {
		severity = models.SeverityCritical
		message = fmt.Sprintf("Unit %s finished its deep charge at %s. URGENT: disconnect manually to free the charger.",
			eq.SerialNumber, completedAt.Format("15:04"))
	}
	return b.newAlert(eq, "manual-disconnect", models.AlertManualDisconnect, severity, message, now)
}

// overdueCharge 充电时长超过目标加宽限期
func (b *Builder) overdueCharge(eq *models.Equipment, now time.Time) *models.Alert {
	if eq.Status != models.StatusCharging || eq.ChargingStartTime == nil {
		return nil
	}
	elapsed := now.Sub(*eq.ChargingStartTime)
	target := b.projector.ChargeTarget(eq)
	if elapsed <= target+b.overdueGrace {
		return nil
	}
	return b.newAlert(eq, "overdue", models.AlertOverdueCharge, models.SeverityCritical,
		fmt.Sprintf("Unit %s has been charging for %d hours and must be disconnected",
			eq.SerialNumber, int(elapsed.Hours())), now)
}
