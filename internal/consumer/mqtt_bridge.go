package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/NAREN-BHARGAV/CodeBlueHalo/common/mqtt"
	rediscommon "github.com/NAREN-BHARGAV/CodeBlueHalo/common/redis"
	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/config"
	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Subscriber MQTT 订阅能力（common/mqtt.Client 实现）
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// MQTTBridge 订阅节点上报主题，将读数转发到读数 Stream
type MQTTBridge struct {
	config      *config.Config
	subscriber  Subscriber
	redisClient *redis.Client
	logger      *zap.Logger
	now         func() time.Time
}

// NewMQTTBridge 创建 MQTT 桥接
func NewMQTTBridge(
	cfg *config.Config,
	subscriber Subscriber,
	redisClient *redis.Client,
	logger *zap.Logger,
) *MQTTBridge {
	return &MQTTBridge{
		config:      cfg,
		subscriber:  subscriber,
		redisClient: redisClient,
		logger:      logger,
		now:         time.Now,
	}
}

// Start 订阅主题
func (b *MQTTBridge) Start(ctx context.Context) error {
	topic := b.config.Halo.MQTTBridge.Topic
	err := b.subscriber.Subscribe(topic, b.config.MQTT.QoS, func(t string, payload []byte) error {
		return b.handleMessage(ctx, t, payload)
	})
	if err != nil {
		return err
	}
	b.logger.Info("MQTT bridge started", zap.String("topic", topic))
	return nil
}

// Stop 取消订阅
func (b *MQTTBridge) Stop() error {
	return b.subscriber.Unsubscribe(b.config.Halo.MQTTBridge.Topic)
}

func (b *MQTTBridge) handleMessage(ctx context.Context, topic string, payload []byte) error {
	reading, err := ParseReadingPayload(topic, payload, b.now)
	if err != nil {
		return err
	}
	if _, err := rediscommon.PublishJSONToStream(ctx, b.redisClient, b.config.Halo.Streams.Readings, reading); err != nil {
		return fmt.Errorf("failed to publish reading: %w", err)
	}
	b.logger.Debug("Reading forwarded",
		zap.String("node_id", reading.NodeID),
		zap.String("topic", topic),
	)
	return nil
}

// ParseReadingPayload 解析节点上报的 JSON 读数
// 缺少 node_id 时取主题第二段（如 halo/<node>/readings），缺少时间戳时使用当前时间
func ParseReadingPayload(topic string, payload []byte, now func() time.Time) (models.SensorReading, error) {
	var reading models.SensorReading
	if err := json.Unmarshal(payload, &reading); err != nil {
		return models.SensorReading{}, fmt.Errorf("invalid reading payload: %w", err)
	}
	if reading.NodeID == "" {
		parts := strings.Split(topic, "/")
		if len(parts) >= 2 && parts[1] != "" {
			reading.NodeID = parts[1]
		}
	}
	if reading.NodeID == "" {
		return models.SensorReading{}, fmt.Errorf("reading without node id on topic %s", topic)
	}
	if reading.Timestamp.IsZero() {
		reading.Timestamp = now()
	}
	return reading, nil
}
