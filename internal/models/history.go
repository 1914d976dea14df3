package models

import (
	"encoding/json"
	"time"
)

// EquipmentHistory 设备变更记录
type EquipmentHistory struct {
	ID          string          `json:"id"`
	EquipmentID string          `json:"equipment_id"`
	Action      string          `json:"action"`
	OldValues   json.RawMessage `json:"old_values,omitempty"`
	NewValues   json.RawMessage `json:"new_values,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
