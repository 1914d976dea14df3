package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"topivac-equipment/internal/config"
	"topivac-equipment/internal/models"
)

func setupAlertCache(t *testing.T) (*miniredis.Miniredis, *AlertCache) {
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewAlertCache(config.CacheConfig{
		AlertKey:        "topivac:alerts:active",
		AlertTTLSeconds: 300,
	}, client, zap.NewNop())

	return mr, c
}

func TestSetAndGetActiveAlerts(t *testing.T) {
	_, c := setupAlertCache(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Second)
	alerts := []*models.Alert{
		{
			ID:          "eq-1-manual-disconnect",
			EquipmentID: "eq-1",
			Type:        models.AlertManualDisconnect,
			Severity:    models.SeverityWarning,
			Message:     "Unit TV-1001 finished its deep charge at 08:00. Disconnect manually to free the charger.",
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}

	require.NoError(t, c.SetActiveAlerts(ctx, alerts))

	got, err := c.GetActiveAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "eq-1-manual-disconnect", got[0].ID)
	assert.Equal(t, models.AlertManualDisconnect, got[0].Type)
	assert.Equal(t, models.SeverityWarning, got[0].Severity)
}

func TestGetActiveAlerts_MissingKey(t *testing.T) {
	_, c := setupAlertCache(t)

	got, err := c.GetActiveAlerts(context.Background())

	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSetActiveAlerts_AppliesTTL(t *testing.T) {
	mr, c := setupAlertCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetActiveAlerts(ctx, []*models.Alert{}))

	mr.FastForward(301 * time.Second)

	got, err := c.GetActiveAlerts(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestClear(t *testing.T) {
	_, c := setupAlertCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetActiveAlerts(ctx, []*models.Alert{{ID: "x"}}))
	require.NoError(t, c.Clear(ctx))

	got, err := c.GetActiveAlerts(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}
