package config

import (
	"os"
	"strconv"
	"time"

	"github.com/NAREN-BHARGAV/CodeBlueHalo/common/config"
)

// Config 监护核心服务配置
type Config struct {
	Database   config.DatabaseConfig
	Redis      config.RedisConfig
	MQTT       config.MQTTConfig
	ThingSpeak config.ThingSpeakConfig

	// 监护核心特定配置
	Halo struct {
		// 物理状态机阈值（米）
		Tracker struct {
			NearThreshold float64 // 近距离阈值，默认 0.5
			FarThreshold  float64 // 远离阈值，默认 1.5
		}

		// 行为漂移检测
		Drift struct {
			Components     int     // 高斯混合分量数，默认 2
			Seed           int64   // 拟合随机种子
			AlertThreshold float64 // 漂移分数阈值，默认 10.0
			HistoryDays    int     // 拟合基线使用的最近天数，默认 30
			RefitDays      int     // 基线重新拟合间隔（天），默认 7
		}

		// 模型权重
		Models struct {
			TCNAEPath        string // TCN-AE 权重文件（safetensors），为空则不启用
			ClassifierPath   string // 分类器权重文件（safetensors），为空则不启用
			ClassifierHidden int    // 分类器 LSTM 隐层，默认 64
		}

		// 传感窗口
		Window struct {
			Length int // 窗口长度，默认 32
			Stride int // 每隔多少条读数评估一次，默认 8
		}

		// 评估配置
		Evaluation struct {
			ReconstructionThreshold float64       // 重构误差阈值，默认 0.25
			FallConfidence          float64       // 跌倒置信度阈值，默认 0.8
			DedupWindow             time.Duration // 同类报警去重窗口，默认 5 分钟
		}

		// Redis 缓存配置
		Cache struct {
			StateKeyPrefix string // 节点状态缓存键前缀，如 "halo:node:"
			StateSuffix    string // 节点状态缓存键后缀，如 ":state"
			StateTTL       int    // 节点状态 TTL（秒），默认 300
			DriftKeyPrefix string // 漂移分数键前缀，如 "halo:occupant:"
			DriftSuffix    string // 漂移分数键后缀，如 ":drift_scores"
			DriftKeep      int    // 保留的漂移分数个数，默认 30
			DedupKeyPrefix string // 报警去重键前缀，如 "halo:alert:"
		}

		// Redis Streams 配置
		Streams struct {
			Readings      string // 传感读数流
			DailyVectors  string // 每日行为向量流
			ConsumerGroup string
			ConsumerName  string
			BatchSize     int64
			Block         time.Duration
		}

		// MQTT 桥接
		MQTTBridge struct {
			Enabled    bool
			Topic      string // 订阅主题，如 "halo/+/readings"
			AlertTopic string // 报警发布主题，为空则不发布
		}

		// ThingSpeak 轮询
		ThingSpeakPoller struct {
			Enabled bool
			NodeID  string // 频道对应的节点 ID
		}
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 从环境变量加载（默认值）
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "codeblue")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = 10
	cfg.Database.MaxIdle = 5

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 20
	cfg.Redis.DialTimeout = 5 * time.Second
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "codeblue-halo")
	cfg.MQTT.QoS = 1
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.ThingSpeak.BaseURL = "https://api.thingspeak.com"
	cfg.ThingSpeak.Results = 20
	cfg.ThingSpeak.PollInterval = 15 * time.Second
	cfg.ThingSpeak.Timeout = 10 * time.Second
	cfg.ThingSpeak.LoadFromEnv("THINGSPEAK")

	// 状态机
	cfg.Halo.Tracker.NearThreshold = getEnvFloat("TRACKER_NEAR_THRESHOLD", 0.5)
	cfg.Halo.Tracker.FarThreshold = getEnvFloat("TRACKER_FAR_THRESHOLD", 1.5)

	// 漂移检测
	cfg.Halo.Drift.Components = getEnvInt("DRIFT_COMPONENTS", 2)
	cfg.Halo.Drift.Seed = 42
	cfg.Halo.Drift.AlertThreshold = getEnvFloat("DRIFT_ALERT_THRESHOLD", 10.0)
	cfg.Halo.Drift.HistoryDays = getEnvInt("DRIFT_HISTORY_DAYS", 30)
	cfg.Halo.Drift.RefitDays = getEnvInt("DRIFT_REFIT_DAYS", 7)

	// 模型
	cfg.Halo.Models.TCNAEPath = getEnv("TCNAE_WEIGHTS", "")
	cfg.Halo.Models.ClassifierPath = getEnv("CLASSIFIER_WEIGHTS", "")
	cfg.Halo.Models.ClassifierHidden = getEnvInt("CLASSIFIER_HIDDEN", 64)

	cfg.Halo.Window.Length = getEnvInt("WINDOW_LENGTH", 32)
	cfg.Halo.Window.Stride = getEnvInt("WINDOW_STRIDE", 8)

	cfg.Halo.Evaluation.ReconstructionThreshold = getEnvFloat("RECONSTRUCTION_THRESHOLD", 0.25)
	cfg.Halo.Evaluation.FallConfidence = getEnvFloat("FALL_CONFIDENCE", 0.8)
	cfg.Halo.Evaluation.DedupWindow = 5 * time.Minute

	cfg.Halo.Cache.StateKeyPrefix = getEnv("CACHE_STATE_PREFIX", "halo:node:")
	cfg.Halo.Cache.StateSuffix = ":state"
	cfg.Halo.Cache.StateTTL = 300 // 5分钟
	cfg.Halo.Cache.DriftKeyPrefix = getEnv("CACHE_DRIFT_PREFIX", "halo:occupant:")
	cfg.Halo.Cache.DriftSuffix = ":drift_scores"
	cfg.Halo.Cache.DriftKeep = 30
	cfg.Halo.Cache.DedupKeyPrefix = getEnv("CACHE_DEDUP_PREFIX", "halo:alert:")

	cfg.Halo.Streams.Readings = getEnv("STREAM_READINGS", "halo:readings")
	cfg.Halo.Streams.DailyVectors = getEnv("STREAM_DAILY_VECTORS", "halo:daily_vectors")
	cfg.Halo.Streams.ConsumerGroup = getEnv("STREAM_CONSUMER_GROUP", "codeblue-halo")
	cfg.Halo.Streams.ConsumerName = getEnv("STREAM_CONSUMER_NAME", "codeblue-halo-1")
	cfg.Halo.Streams.BatchSize = 10
	cfg.Halo.Streams.Block = time.Second

	cfg.Halo.MQTTBridge.Enabled = getEnvBool("MQTT_BRIDGE_ENABLED", false)
	cfg.Halo.MQTTBridge.Topic = getEnv("MQTT_READINGS_TOPIC", "halo/+/readings")
	cfg.Halo.MQTTBridge.AlertTopic = getEnv("MQTT_ALERT_TOPIC", "halo/alerts")

	cfg.Halo.ThingSpeakPoller.Enabled = getEnvBool("THINGSPEAK_ENABLED", false)
	cfg.Halo.ThingSpeakPoller.NodeID = getEnv("THINGSPEAK_NODE_ID", "node-1")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseBool(value); err == nil {
			return v
		}
	}
	return defaultValue
}
