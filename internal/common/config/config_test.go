package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDatabaseConfig_LoadFromEnv(t *testing.T) {
	os.Clearenv()
	os.Setenv("DB_HOST", "db.internal")
	os.Setenv("DB_PORT", "5433")
	os.Setenv("DB_USER", "svc")
	os.Setenv("DB_SSLMODE", "require")
	defer os.Clearenv()

	cfg := DatabaseConfig{Host: "localhost", Port: 5432, User: "postgres", Database: "topivac", SSLMode: "disable"}
	cfg.LoadFromEnv("DB")

	assert.Equal(t, "db.internal", cfg.Host)
	assert.Equal(t, 5433, cfg.Port)
	assert.Equal(t, "svc", cfg.User)
	assert.Equal(t, "require", cfg.SSLMode)
	// 未设置的变量保留默认值
	assert.Equal(t, "topivac", cfg.Database)
}

func TestDatabaseConfig_GetDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "secret",
		Database: "topivac",
		SSLMode:  "disable",
	}

	dsn := cfg.GetDSN()

	assert.Equal(t, "host=localhost port=5432 user=postgres password=secret dbname=topivac sslmode=disable", dsn)
}

func TestRedisConfig_LoadFromEnv(t *testing.T) {
	os.Clearenv()
	os.Setenv("REDIS_ADDR", "redis.internal:6380")
	os.Setenv("REDIS_DB", "2")
	defer os.Clearenv()

	cfg := RedisConfig{Addr: "localhost:6379"}
	cfg.LoadFromEnv("REDIS")

	assert.Equal(t, "redis.internal:6380", cfg.Addr)
	assert.Equal(t, 2, cfg.DB)
}

func TestMQTTConfig_LoadFromEnv(t *testing.T) {
	os.Clearenv()
	os.Setenv("MQTT_BROKER", "tcp://broker.internal:1883")
	os.Setenv("MQTT_CLIENT_ID", "topivac-test")
	defer os.Clearenv()

	cfg := MQTTConfig{Broker: "tcp://localhost:1883", ClientID: "topivac-equipment", QoS: 1}
	cfg.LoadFromEnv("MQTT")

	assert.Equal(t, "tcp://broker.internal:1883", cfg.Broker)
	assert.Equal(t, "topivac-test", cfg.ClientID)
	assert.Equal(t, byte(1), cfg.QoS)
}
