package models

import "time"

// EquipmentStatus 设备状态
type EquipmentStatus string

const (
	StatusCharging    EquipmentStatus = "charging"    // 充电中
	StatusReady       EquipmentStatus = "ready"       // 待命
	StatusInUse       EquipmentStatus = "in-use"      // 使用中
	StatusAtClinic    EquipmentStatus = "at-clinic"   // 在诊所
	StatusMaintenance EquipmentStatus = "maintenance" // 维护中
)

// EquipmentLocation 设备位置
type EquipmentLocation string

const (
	LocationOffice EquipmentLocation = "office"
	LocationClinic EquipmentLocation = "clinic"
)

// Equipment 负压治疗设备
type Equipment struct {
	ID           string            `json:"id"`
	SerialNumber string            `json:"serial_number"`
	Model        string            `json:"model"`
	LotNumber    string            `json:"lot_number"`
	Status       EquipmentStatus   `json:"status"`
	Location     EquipmentLocation `json:"location"`
	BatteryLevel int               `json:"battery_level"`

	ClinicName *string `json:"clinic_name,omitempty"`
	ClinicCity *string `json:"clinic_city,omitempty"`
	Notes      *string `json:"notes,omitempty"`

	ChargingStartTime        *time.Time `json:"charging_start_time,omitempty"`
	IsDeepCharge             bool       `json:"is_deep_charge"`
	NeedsManualDisconnection bool       `json:"needs_manual_disconnection"`
	LastUsedDate             *time.Time `json:"last_used_date,omitempty"`
	LastChargedDate          *time.Time `json:"last_charged_date,omitempty"`
	LastDisconnectedAt       *time.Time `json:"last_disconnected_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsValidStatus 检查状态是否合法
func IsValidStatus(s EquipmentStatus) bool {
	switch s {
	case StatusCharging, StatusReady, StatusInUse, StatusAtClinic, StatusMaintenance:
		return true
	}
	return false
}
