package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"topivac-equipment/internal/config"
	"topivac-equipment/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// AlertCache 提醒展示缓存
// 保存最近一轮对账的期望提醒集合，库写入失败时仍以此作为展示侧的真实来源
type AlertCache struct {
	redisClient *redis.Client
	key         string
	ttl         time.Duration
	logger      *zap.Logger
}

// NewAlertCache 创建提醒缓存
func NewAlertCache(cfg config.CacheConfig, redisClient *redis.Client, logger *zap.Logger) *AlertCache {
	return &AlertCache{
		redisClient: redisClient,
		key:         cfg.AlertKey,
		ttl:         time.Duration(cfg.AlertTTLSeconds) * time.Second,
		logger:      logger,
	}
}

// SetActiveAlerts 写入当前期望的提醒集合
func (c *AlertCache) SetActiveAlerts(ctx context.Context, alerts []*models.Alert) error {
	jsonData, err := json.Marshal(alerts)
	if err != nil {
		return fmt.Errorf("failed to marshal alerts: %w", err)
	}

	if err := c.redisClient.Set(ctx, c.key, jsonData, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set alert cache: %w", err)
	}

	c.logger.Debug("updated alert cache",
		zap.String("key", c.key),
		zap.Int("alert_count", len(alerts)),
	)

	return nil
}

// GetActiveAlerts 读取缓存中的提醒集合
func (c *AlertCache) GetActiveAlerts(ctx context.Context) ([]*models.Alert, error) {
	val, err := c.redisClient.Get(ctx, c.key).Result()
	if err != nil {
		if err == redis.Nil {
			return []*models.Alert{}, nil
		}
		return nil, fmt.Errorf("failed to get alert cache: %w", err)
	}

	var alerts []*models.Alert
	if err := json.Unmarshal([]byte(val), &alerts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal alerts: %w", err)
	}

	return alerts, nil
}

// Clear 清除缓存
func (c *AlertCache) Clear(ctx context.Context) error {
	if err := c.redisClient.Del(ctx, c.key).Err(); err != nil {
		return fmt.Errorf("failed to clear alert cache: %w", err)
	}
	return nil
}
