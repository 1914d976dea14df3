package models

import "time"

// AlertType 提醒类型
type AlertType string

const (
	AlertChargeComplete     AlertType = "charge-complete"      // 充电完成
	AlertDeepChargeComplete AlertType = "deep-charge-complete" // 深度充电完成
	AlertDeepChargeNeeded   AlertType = "deep-charge-needed"   // 需要深度充电
	AlertClinicIdle         AlertType = "clinic-idle"          // 诊所设备长期闲置
	AlertBatteryCalibration AlertType = "battery-calibration"  // 电池校准
	AlertManualDisconnect   AlertType = "manual-disconnect"    // 需手动断开充电
	AlertOverdueCharge      AlertType = "overdue-charge"       // 充电超时
)

// AlertSeverity 提醒级别
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// Alert 设备提醒
// ID由设备ID与提醒条件确定性生成，同一条件在多轮刷新中保持同一ID
type Alert struct {
	ID          string `json:"id"`
	EquipmentID string `json:"equipment_id"`
	// 冗余存储的设备编号：展示与排障时无需回表连设备
	EquipmentCode string        `json:"equipment_code"`
	Type          AlertType     `json:"type"`
	Severity      AlertSeverity `json:"severity"`
	Message       string        `json:"message"`
	Dismissed     bool          `json:"dismissed"`
	DismissedAt   *time.Time    `json:"dismissed_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}
