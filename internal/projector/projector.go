package projector

import (
	"time"

	"topivac-equipment/internal/config"
	"topivac-equipment/internal/models"
)

// Projector 由当前时刻推导设备的真实状态
// Project 为纯函数：不修改入参，固定时刻下幂等
type Projector struct {
	normalChargeDuration time.Duration
	deepChargeDuration   time.Duration
	deepChargeIdleDays   int
}

// NewProjector 创建状态推导器
func NewProjector(cfg config.EquipmentConfig) *Projector {
	return &Projector{
		normalChargeDuration: time.Duration(cfg.NormalChargeHours) * time.Hour,
		deepChargeDuration:   time.Duration(cfg.DeepChargeHours) * time.Hour,
		deepChargeIdleDays:   cfg.DeepChargeIdleDays,
	}
}

// ChargeTarget 返回设备的充电目标时长
func (p *Projector) ChargeTarget(eq *models.Equipment) time.Duration {
	if eq.IsDeepCharge {
		return p.deepChargeDuration
	}
	return p.normalChargeDuration
}

// Project 推导设备在 now 时刻应有的状态，返回新副本
//
// 规则按优先级：
//  1. 充电中：电量按经过时长占目标时长的比例推导；达到目标后，
//     诊所深度充电置 needsManualDisconnection 等待人工断开，其余自动完成转为待命
//  2. 待命/在诊所闲置：电量保持100%，闲置只以天数计，不做电量衰减
//  3. 使用中：从连接患者起每小时消耗3%
func (p *Projector) Project(eq *models.Equipment, now time.Time) *models.Equipment {
	out := *eq

	switch {
	case eq.Status == models.StatusCharging && eq.ChargingStartTime != nil:
		target := p.ChargeTarget(eq)
		elapsed := now.Sub(*eq.ChargingStartTime)

		if elapsed >= target {
			if eq.IsDeepCharge && eq.Location == models.LocationClinic {
				// 诊所深度充电不自动断开：等待人工确认
				out.BatteryLevel = 100
				out.NeedsManualDisconnection = true
			} else {
				// 办公室充电到时自动完成
				out.Status = models.StatusReady
				out.BatteryLevel = 100
				out.ChargingStartTime = nil
				chargedAt := now
				out.LastChargedDate = &chargedAt
				usedAt := now
				out.LastUsedDate = &usedAt // 重置闲置天数计数
				out.IsDeepCharge = false
			}
		} else {
			out.BatteryLevel = chargingLevel(elapsed, target)
		}

	case eq.Status == models.StatusReady || eq.Status == models.StatusAtClinic:
		// 闲置设备电量保持100%，只关注闲置天数
		out.BatteryLevel = 100

	case eq.Status == models.StatusInUse && eq.LastUsedDate != nil && eq.ChargingStartTime == nil:
		out.BatteryLevel = inUseLevel(now.Sub(*eq.LastUsedDate))
	}

	return &out
}

// chargingLevel 充电中的电量：经过时长占目标时长的百分比
func chargingLevel(elapsed, target time.Duration) int {
	if elapsed <= 0 {
		return 0
	}
	if elapsed >= target {
		return 100
	}
	return int(elapsed * 100 / target)
}

// inUseLevel 使用中的电量：从满电起每小时消耗3%
func inUseLevel(elapsed time.Duration) int {
	if elapsed <= 0 {
		return 100
	}
	level := 100 - int(3*elapsed/time.Hour)
	if level < 0 {
		return 0
	}
	return level
}

// TimeRemaining 距充电完成的剩余时间（未充电或已完成为0）
func (p *Projector) TimeRemaining(eq *models.Equipment, now time.Time) time.Duration {
	if eq.Status != models.StatusCharging || eq.ChargingStartTime == nil {
		return 0
	}
	remaining := p.ChargeTarget(eq) - now.Sub(*eq.ChargingStartTime)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ChargingProgress 充电进度百分比（0-100）
func (p *Projector) ChargingProgress(eq *models.Equipment, now time.Time) int {
	if eq.ChargingStartTime == nil {
		return 0
	}
	return chargingLevel(now.Sub(*eq.ChargingStartTime), p.ChargeTarget(eq))
}

// DaysSinceLastUse 距上次使用的整天数
// 在诊所的设备以断开时间为准，其余以上次使用时间为准；无记录返回 -1
func (p *Projector) DaysSinceLastUse(eq *models.Equipment, now time.Time) int {
	var ref *time.Time
	if eq.Status == models.StatusAtClinic && eq.LastDisconnectedAt != nil {
		ref = eq.LastDisconnectedAt
	} else {
		ref = eq.LastUsedDate
	}
	if ref == nil {
		return -1
	}
	elapsed := now.Sub(*ref)
	if elapsed < 0 {
		return 0
	}
	return int(elapsed.Hours()) / 24
}

// DaysUntilDeepCharge 距需要深度充电还剩的天数（已到期为0，无记录为 -1）
func (p *Projector) DaysUntilDeepCharge(eq *models.Equipment, now time.Time) int {
	days := p.DaysSinceLastUse(eq, now)
	if days < 0 {
		return -1
	}
	remaining := p.deepChargeIdleDays - days
	if remaining < 0 {
		return 0
	}
	return remaining
}

// NeedsDeepCharge 是否已闲置到需要深度充电的天数
func (p *Projector) NeedsDeepCharge(eq *models.Equipment, now time.Time) bool {
	days := p.DaysSinceLastUse(eq, now)
	return days >= p.deepChargeIdleDays
}
