package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int           // 0 表示使用客户端默认值
	DialTimeout  time.Duration // 0 表示使用客户端默认值
	ReadTimeout  time.Duration // 阻塞读取流时客户端会在 Block 之上自动放宽
	WriteTimeout time.Duration
}

// MQTTConfig MQTT配置
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// ThingSpeakConfig ThingSpeak 频道配置（传感器节点通过 ThingSpeak 上报数据）
type ThingSpeakConfig struct {
	BaseURL      string
	ChannelID    string
	ReadAPIKey   string
	Results      int           // 每次拉取的记录数
	PollInterval time.Duration // 轮询间隔
	Timeout      time.Duration
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// LoadFromEnv 从环境变量加载配置
func (c *DatabaseConfig) LoadFromEnv(prefix string) {
	if host := os.Getenv(prefix + "_HOST"); host != "" {
		c.Host = host
	}
	if port := os.Getenv(prefix + "_PORT"); port != "" {
		if v, err := strconv.Atoi(port); err == nil {
			c.Port = v
		}
	}
	if user := os.Getenv(prefix + "_USER"); user != "" {
		c.User = user
	}
	if password := os.Getenv(prefix + "_PASSWORD"); password != "" {
		c.Password = password
	}
	if database := os.Getenv(prefix + "_NAME"); database != "" {
		c.Database = database
	}
	if sslMode := os.Getenv(prefix + "_SSLMODE"); sslMode != "" {
		c.SSLMode = sslMode
	}
}

// LoadFromEnv 从环境变量加载Redis配置
func (c *RedisConfig) LoadFromEnv(prefix string) {
	if addr := os.Getenv(prefix + "_ADDR"); addr != "" {
		c.Addr = addr
	}
	if password := os.Getenv(prefix + "_PASSWORD"); password != "" {
		c.Password = password
	}
	if db := os.Getenv(prefix + "_DB"); db != "" {
		if v, err := strconv.Atoi(db); err == nil {
			c.DB = v
		}
	}
	if size := os.Getenv(prefix + "_POOL_SIZE"); size != "" {
		if v, err := strconv.Atoi(size); err == nil && v > 0 {
			c.PoolSize = v
		}
	}
	loadDuration(prefix+"_DIAL_TIMEOUT", &c.DialTimeout)
	loadDuration(prefix+"_READ_TIMEOUT", &c.ReadTimeout)
	loadDuration(prefix+"_WRITE_TIMEOUT", &c.WriteTimeout)
}

// loadDuration 解析时长环境变量，无效或非正值时保留原值
func loadDuration(key string, dst *time.Duration) {
	raw := os.Getenv(key)
	if raw == "" {
		return
	}
	if v, err := time.ParseDuration(raw); err == nil && v > 0 {
		*dst = v
	}
}

// LoadFromEnv 从环境变量加载MQTT配置
func (c *MQTTConfig) LoadFromEnv(prefix string) {
	if broker := os.Getenv(prefix + "_BROKER"); broker != "" {
		c.Broker = broker
	}
	if clientID := os.Getenv(prefix + "_CLIENT_ID"); clientID != "" {
		c.ClientID = clientID
	}
	if username := os.Getenv(prefix + "_USERNAME"); username != "" {
		c.Username = username
	}
	if password := os.Getenv(prefix + "_PASSWORD"); password != "" {
		c.Password = password
	}
	if qos := os.Getenv(prefix + "_QOS"); qos != "" {
		if v, err := strconv.Atoi(qos); err == nil && v >= 0 && v <= 2 {
			c.QoS = byte(v)
		}
	}
}

// LoadFromEnv 从环境变量加载 ThingSpeak 配置
func (c *ThingSpeakConfig) LoadFromEnv(prefix string) {
	if baseURL := os.Getenv(prefix + "_BASE_URL"); baseURL != "" {
		c.BaseURL = baseURL
	}
	if channelID := os.Getenv(prefix + "_CHANNEL_ID"); channelID != "" {
		c.ChannelID = channelID
	}
	if key := os.Getenv(prefix + "_READ_API_KEY"); key != "" {
		c.ReadAPIKey = key
	}
	if results := os.Getenv(prefix + "_RESULTS"); results != "" {
		if v, err := strconv.Atoi(results); err == nil && v > 0 {
			c.Results = v
		}
	}
	loadDuration(prefix+"_POLL_INTERVAL", &c.PollInterval)
	loadDuration(prefix+"_TIMEOUT", &c.Timeout)
}
