package config

import (
	"fmt"
	"os"
	"strconv"

	commonconfig "topivac-equipment/internal/common/config"
)

// Config 服务配置
type Config struct {
	Database  commonconfig.DatabaseConfig
	Redis     commonconfig.RedisConfig
	MQTT      commonconfig.MQTTConfig
	Equipment EquipmentConfig
	Poll      PollConfig
	Cache     CacheConfig
	Notify    NotifyConfig
	Log       LogConfig
}

// EquipmentConfig 设备业务规则配置
type EquipmentConfig struct {
	NormalChargeHours         int // 普通充电目标时长（小时）
	DeepChargeHours           int // 深度充电目标时长（小时）
	OverdueGraceHours         int // 超过目标时长后的宽限期（小时）
	DisconnectEscalateHours   int // 手动断开提醒升级阈值（小时）
	DeepChargeIdleDays        int // 触发深度充电的闲置天数
	NewUnitWindowSeconds      int // 新登记设备的免提醒窗口（秒）
	CalibrationWindowMinutes  int // 校准完成提示的展示窗口（分钟）
	DismissedRetentionMinutes int // 已忽略且不再需要的提醒的保留时长（分钟）
}

// PollConfig 周期刷新配置
type PollConfig struct {
	InitialDelaySeconds int
	IntervalSeconds     int
}

// CacheConfig 提醒缓存配置
type CacheConfig struct {
	AlertKey        string
	AlertTTLSeconds int
}

// NotifyConfig 变更通知配置
type NotifyConfig struct {
	TopicPrefix string
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string
	Format string
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	cfg := &Config{
		Database: commonconfig.DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Database: "topivac",
			SSLMode:  "disable",
			MaxConns: 10,
			MaxIdle:  5,
		},
		Redis: commonconfig.RedisConfig{
			Addr: "localhost:6379",
		},
		MQTT: commonconfig.MQTTConfig{
			Broker:   "tcp://localhost:1883",
			ClientID: "topivac-equipment",
			QoS:      1,
		},
		Equipment: EquipmentConfig{
			NormalChargeHours:         getEnvInt("EQUIPMENT_NORMAL_CHARGE_HOURS", 8),
			DeepChargeHours:           getEnvInt("EQUIPMENT_DEEP_CHARGE_HOURS", 12),
			OverdueGraceHours:         getEnvInt("EQUIPMENT_OVERDUE_GRACE_HOURS", 2),
			DisconnectEscalateHours:   getEnvInt("EQUIPMENT_DISCONNECT_ESCALATE_HOURS", 13),
			DeepChargeIdleDays:        getEnvInt("EQUIPMENT_DEEP_CHARGE_IDLE_DAYS", 5),
			NewUnitWindowSeconds:      getEnvInt("EQUIPMENT_NEW_UNIT_WINDOW_SECONDS", 60),
			CalibrationWindowMinutes:  getEnvInt("EQUIPMENT_CALIBRATION_WINDOW_MINUTES", 60),
			DismissedRetentionMinutes: getEnvInt("EQUIPMENT_DISMISSED_RETENTION_MINUTES", 60),
		},
		Poll: PollConfig{
			InitialDelaySeconds: getEnvInt("POLL_INITIAL_DELAY_SECONDS", 1),
			IntervalSeconds:     getEnvInt("POLL_INTERVAL_SECONDS", 60),
		},
		Cache: CacheConfig{
			AlertKey:        getEnv("CACHE_ALERT_KEY", "topivac:alerts:active"),
			AlertTTLSeconds: getEnvInt("CACHE_ALERT_TTL_SECONDS", 300),
		},
		Notify: NotifyConfig{
			TopicPrefix: getEnv("NOTIFY_TOPIC_PREFIX", "topivac/changes/"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	// 连接类配置由共享包的环境变量加载覆盖默认值
	cfg.Database.LoadFromEnv("DB")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", cfg.Database.MaxConns)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", cfg.Database.MaxIdle)
	cfg.Redis.LoadFromEnv("REDIS")
	cfg.MQTT.LoadFromEnv("MQTT")
	cfg.MQTT.QoS = byte(getEnvInt("MQTT_QOS", int(cfg.MQTT.QoS)))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database user is required")
	}
	if c.Equipment.NormalChargeHours <= 0 {
		return fmt.Errorf("normal charge hours must be positive")
	}
	if c.Equipment.DeepChargeHours <= c.Equipment.NormalChargeHours {
		return fmt.Errorf("deep charge hours must be greater than normal charge hours")
	}
	if c.Equipment.DeepChargeIdleDays <= 0 {
		return fmt.Errorf("deep charge idle days must be positive")
	}
	if c.Poll.IntervalSeconds <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.Cache.AlertKey == "" {
		return fmt.Errorf("cache alert key is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
