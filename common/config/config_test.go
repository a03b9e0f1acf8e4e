package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDatabaseConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("HALO_DB_HOST", "db.internal")
	t.Setenv("HALO_DB_PORT", "6543")
	t.Setenv("HALO_DB_NAME", "halo")

	cfg := DatabaseConfig{Host: "localhost", Port: 5432, SSLMode: "disable"}
	cfg.LoadFromEnv("HALO_DB")

	assert.Equal(t, "db.internal", cfg.Host)
	assert.Equal(t, 6543, cfg.Port)
	assert.Equal(t, "halo", cfg.Database)
	assert.Equal(t, "host=db.internal port=6543 user= password= dbname=halo sslmode=disable", cfg.GetDSN())
}

func TestMQTTConfig_LoadFromEnv_InvalidQoSIgnored(t *testing.T) {
	t.Setenv("HALO_MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("HALO_MQTT_QOS", "7")

	cfg := MQTTConfig{QoS: 1}
	cfg.LoadFromEnv("HALO_MQTT")

	assert.Equal(t, "tcp://broker:1883", cfg.Broker)
	assert.Equal(t, byte(1), cfg.QoS)
}

func TestThingSpeakConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("THINGSPEAK_CHANNEL_ID", "3272549")
	t.Setenv("THINGSPEAK_POLL_INTERVAL", "15s")
	t.Setenv("THINGSPEAK_RESULTS", "bad")

	cfg := ThingSpeakConfig{Results: 10}
	cfg.LoadFromEnv("THINGSPEAK")

	assert.Equal(t, "3272549", cfg.ChannelID)
	assert.Equal(t, 15*time.Second, cfg.PollInterval)
	assert.Equal(t, 10, cfg.Results)
}

func TestRedisConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("HALO_REDIS_ADDR", "cache:6380")
	t.Setenv("HALO_REDIS_DB", "2")
	t.Setenv("HALO_REDIS_POOL_SIZE", "32")
	t.Setenv("HALO_REDIS_DIAL_TIMEOUT", "2s")
	t.Setenv("HALO_REDIS_READ_TIMEOUT", "-1s")
	t.Setenv("HALO_REDIS_WRITE_TIMEOUT", "soon")

	cfg := RedisConfig{Addr: "localhost:6379", ReadTimeout: 3 * time.Second}
	cfg.LoadFromEnv("HALO_REDIS")

	assert.Equal(t, "cache:6380", cfg.Addr)
	assert.Equal(t, 2, cfg.DB)
	assert.Equal(t, 32, cfg.PoolSize)
	assert.Equal(t, 2*time.Second, cfg.DialTimeout)
	// 无效值保留原值
	assert.Equal(t, 3*time.Second, cfg.ReadTimeout)
	assert.Equal(t, time.Duration(0), cfg.WriteTimeout)
}
