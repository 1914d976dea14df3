package reconciler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"topivac-equipment/internal/config"
	"topivac-equipment/internal/models"
	"topivac-equipment/internal/projector"
)

func testRules() config.EquipmentConfig {
	return config.EquipmentConfig{
		NormalChargeHours:         8,
		DeepChargeHours:           12,
		OverdueGraceHours:         2,
		DisconnectEscalateHours:   13,
		DeepChargeIdleDays:        5,
		NewUnitWindowSeconds:      60,
		CalibrationWindowMinutes:  60,
		DismissedRetentionMinutes: 60,
	}
}

func newTestBuilder() *Builder {
	rules := testRules()
	return NewBuilder(rules, projector.NewProjector(rules))
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func alertTypes(alerts []*models.Alert) []models.AlertType {
	types := []models.AlertType{}
	for _, a := range alerts {
		types = append(types, a.Type)
	}
	return types
}

// ============================================
// 充电相关条件测试
// ============================================

func TestBuild_ChargeComplete(t *testing.T) {
	b := newTestBuilder()
	now := time.Now()

	eq := &models.Equipment{
		ID:                "eq-1",
		SerialNumber:      "TV-1001",
		Status:            models.StatusCharging,
		Location:          models.LocationOffice,
		ChargingStartTime: timePtr(now.Add(-8 * time.Hour)),
	}

	alerts := b.BuildForEquipment(eq, now)

	require.Len(t, alerts, 1)
	assert.Equal(t, "eq-1-charge-complete", alerts[0].ID)
	assert.Equal(t, "eq-1", alerts[0].EquipmentID)
	assert.Equal(t, "TV-1001", alerts[0].EquipmentCode)
	assert.Equal(t, models.AlertChargeComplete, alerts[0].Type)
	assert.Equal(t, models.SeverityInfo, alerts[0].Severity)
}

func TestBuild_ChargeNotYetComplete(t *testing.T) {
	b := newTestBuilder()
	now := time.Now()

	eq := &models.Equipment{
		ID:                "eq-1",
		SerialNumber:      "TV-1001",
		Status:            models.StatusCharging,
		Location:          models.LocationOffice,
		ChargingStartTime: timePtr(now.Add(-7 * time.Hour)),
	}

	assert.Empty(t, b.BuildForEquipment(eq, now))
}

func TestBuild_DeepChargeComplete(t *testing.T) {
	b := newTestBuilder()
	now := time.Now()

	eq := &models.Equipment{
		ID:                "eq-1",
		SerialNumber:      "TV-1001",
		Status:            models.StatusCharging,
		Location:          models.LocationOffice,
		IsDeepCharge:      true,
		LastUsedDate:      timePtr(now.Add(-6 * 24 * time.Hour)),
		ChargingStartTime: timePtr(now.Add(-12 * time.Hour)),
	}

	alerts := b.BuildForEquipment(eq, now)

	require.Len(t, alerts, 1)
	assert.Equal(t, "eq-1-deep-charge-complete", alerts[0].ID)
	assert.Equal(t, models.AlertDeepChargeComplete, alerts[0].Type)
}

func TestBuild_OverdueCharge(t *testing.T) {
	b := newTestBuilder()
	now := time.Now()

	eq := &models.Equipment{
		ID:                "eq-1",
		SerialNumber:      "TV-1001",
		Status:            models.StatusCharging,
		Location:          models.LocationOffice,
		ChargingStartTime: timePtr(now.Add(-11 * time.Hour)),
	}

	alerts := b.BuildForEquipment(eq, now)

	// 超过 8h+2h 宽限期：充电完成 + 超时两条
	require.Len(t, alerts, 2)
	assert.Contains(t, alertTypes(alerts), models.AlertChargeComplete)
	assert.Contains(t, alertTypes(alerts), models.AlertOverdueCharge)

	for _, a := range alerts {
		if a.Type == models.AlertOverdueCharge {
			assert.Equal(t, "eq-1-overdue", a.ID)
			assert.Equal(t, models.SeverityCritical, a.Severity)
			assert.Contains(t, a.Message, "11 hours")
		}
	}
}

func TestBuild_OverdueWithinGrace(t *testing.T) {
	b := newTestBuilder()
	now := time.Now()

	eq := &models.Equipment{
		ID:                "eq-1",
		SerialNumber:      "TV-1001",
		Status:            models.StatusCharging,
		Location:          models.LocationOffice,
		ChargingStartTime: timePtr(now.Add(-9 * time.Hour)),
	}

	alerts := b.BuildForEquipment(eq, now)

	assert.NotContains(t, alertTypes(alerts), models.AlertOverdueCharge)
}

// ============================================
// 人工断开条件测试
// ============================================

func TestBuild_ManualDisconnect(t *testing.T) {
	b := newTestBuilder()
	now := time.Now()
	start := now.Add(-12*time.Hour - 30*time.Minute)

	eq := &models.Equipment{
		ID:                       "eq-1",
		SerialNumber:             "TV-1001",
		Status:                   models.StatusCharging,
		Location:                 models.LocationClinic,
		IsDeepCharge:             true,
		NeedsManualDisconnection: true,
		LastUsedDate:             timePtr(now.Add(-6 * 24 * time.Hour)),
		ChargingStartTime:        timePtr(start),
	}

	alerts := b.BuildForEquipment(eq, now)

	var found *models.Alert
	for _, a := range alerts {
		if a.Type == models.AlertManualDisconnect {
			found = a
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, "eq-1-manual-disconnect", found.ID)
	assert.Equal(t, models.SeverityWarning, found.Severity)
	assert.Contains(t, found.Message, start.Add(12*time.Hour).Format("15:04"))
}

func TestBuild_ManualDisconnectEscalates(t *testing.T) {
	b := newTestBuilder()
	now := time.Now()

	eq := &models.Equipment{
		ID:                       "eq-1",
		SerialNumber:             "TV-1001",
		Status:                   models.StatusCharging,
		Location:                 models.LocationClinic,
		IsDeepCharge:             true,
		NeedsManualDisconnection: true,
		LastUsedDate:             timePtr(now.Add(-6 * 24 * time.Hour)),
		ChargingStartTime:        timePtr(now.Add(-14 * time.Hour)),
	}

	alerts := b.BuildForEquipment(eq, now)

	for _, a := range alerts {
		if a.Type == models.AlertManualDisconnect {
			// 超过13小时升级为 critical，ID不变
			assert.Equal(t, "eq-1-manual-disconnect", a.ID)
			assert.Equal(t, models.SeverityCritical, a.Severity)
			assert.Contains(t, a.Message, "URGENT")
			return
		}
	}
	t.Fatal("manual-disconnect alert not found")
}

// ============================================
// 闲置条件测试
// ============================================

func TestBuild_DeepChargeNeededAtOffice(t *testing.T) {
	b := newTestBuilder()
	now := time.Now()

	eq := &models.Equipment{
		ID:           "eq-1",
		SerialNumber: "TV-1001",
		Status:       models.StatusReady,
		Location:     models.LocationOffice,
		BatteryLevel: 100,
		LastUsedDate: timePtr(now.Add(-6 * 24 * time.Hour)),
	}

	alerts := b.BuildForEquipment(eq, now)

	require.Len(t, alerts, 1)
	assert.Equal(t, "eq-1-deep-charge", alerts[0].ID)
	assert.Equal(t, models.AlertDeepChargeNeeded, alerts[0].Type)
	assert.Equal(t, models.SeverityWarning, alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "6 days")
}

func TestBuild_ClinicIdle(t *testing.T) {
	b := newTestBuilder()
	now := time.Now()
	clinicName := "Downtown Foot Clinic"

	eq := &models.Equipment{
		ID:                 "eq-1",
		SerialNumber:       "TV-1001",
		LotNumber:          "LOT-A1",
		Status:             models.StatusAtClinic,
		Location:           models.LocationClinic,
		ClinicName:         &clinicName,
		LastDisconnectedAt: timePtr(now.Add(-5 * 24 * time.Hour)),
	}

	alerts := b.BuildForEquipment(eq, now)

	require.Len(t, alerts, 1)
	assert.Equal(t, "eq-1-clinic-idle", alerts[0].ID)
	assert.Equal(t, models.AlertClinicIdle, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, clinicName)
	assert.Contains(t, alerts[0].Message, "5 days")
}

func TestBuild_IdleBelowThreshold(t *testing.T) {
	b := newTestBuilder()
	now := time.Now()

	eq := &models.Equipment{
		ID:                 "eq-1",
		SerialNumber:       "TV-1001",
		Status:             models.StatusAtClinic,
		Location:           models.LocationClinic,
		LastDisconnectedAt: timePtr(now.Add(-4 * 24 * time.Hour)),
	}

	assert.Empty(t, b.BuildForEquipment(eq, now))
}

// ============================================
// 校准条件测试
// ============================================

func TestBuild_CalibrationInProgress(t *testing.T) {
	b := newTestBuilder()
	now := time.Now()

	eq := &models.Equipment{
		ID:                "eq-1",
		SerialNumber:      "TV-1001",
		Status:            models.StatusCharging,
		Location:          models.LocationClinic,
		IsDeepCharge:      true,
		LastUsedDate:      timePtr(now.Add(-6 * 24 * time.Hour)),
		ChargingStartTime: timePtr(now.Add(-5 * time.Hour)),
	}

	alerts := b.BuildForEquipment(eq, now)

	require.Len(t, alerts, 1)
	assert.Equal(t, "eq-1-deep-charging", alerts[0].ID)
	assert.Equal(t, models.AlertBatteryCalibration, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "5h/12h")
}

func TestBuild_CalibrationSuppressedForBrandNewUnit(t *testing.T) {
	b := newTestBuilder()
	now := time.Now()
	start := now.Add(-5 * time.Hour)

	// 登记后立即首充：两个时间戳在60秒窗口内
	eq := &models.Equipment{
		ID:                "eq-1",
		SerialNumber:      "TV-1001",
		Status:            models.StatusCharging,
		Location:          models.LocationOffice,
		IsDeepCharge:      true,
		LastUsedDate:      timePtr(start.Add(10 * time.Second)),
		ChargingStartTime: timePtr(start),
	}

	assert.Empty(t, b.BuildForEquipment(eq, now))
}

func TestBuild_CalibrationComplete(t *testing.T) {
	b := newTestBuilder()
	now := time.Now()
	chargedAt := now.Add(-30 * time.Minute)

	eq := &models.Equipment{
		ID:              "eq-1",
		SerialNumber:    "TV-1001",
		Status:          models.StatusReady,
		Location:        models.LocationOffice,
		BatteryLevel:    100,
		LastUsedDate:    timePtr(now.Add(-2 * 24 * time.Hour)),
		LastChargedDate: timePtr(chargedAt),
	}

	alerts := b.BuildForEquipment(eq, now)

	require.Len(t, alerts, 1)
	assert.Equal(t, models.AlertBatteryCalibration, alerts[0].Type)
	// ID带充电完成时间戳：新充电周期产生新ID
	assert.Contains(t, alerts[0].ID, "calibration-complete-")
}

func TestBuild_CalibrationCompleteOutsideWindow(t *testing.T) {
	b := newTestBuilder()
	now := time.Now()

	eq := &models.Equipment{
		ID:              "eq-1",
		SerialNumber:    "TV-1001",
		Status:          models.StatusReady,
		Location:        models.LocationOffice,
		BatteryLevel:    100,
		LastUsedDate:    timePtr(now.Add(-2 * 24 * time.Hour)),
		LastChargedDate: timePtr(now.Add(-2 * time.Hour)),
	}

	assert.Empty(t, b.BuildForEquipment(eq, now))
}
