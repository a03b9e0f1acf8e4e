package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	rediscommon "github.com/NAREN-BHARGAV/CodeBlueHalo/common/redis"
	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/config"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Metrics 监控指标
type Metrics struct {
	mu sync.RWMutex

	// 消息处理统计
	MessagesProcessed int64 // 处理的消息总数
	MessagesSucceeded int64 // 成功处理的消息数
	MessagesFailed    int64 // 处理失败的消息数

	// 错误分类统计
	ErrorsParse   int64 // 解析错误
	ErrorsProcess int64 // 处理错误

	// 性能指标
	TotalProcessingTime time.Duration // 总处理时间
	LastProcessTime     time.Time     // 最后处理时间

	// 启动时间
	StartTime time.Time
}

// GetSnapshot 获取指标快照（线程安全）
func (m *Metrics) GetSnapshot() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{
		MessagesProcessed:   m.MessagesProcessed,
		MessagesSucceeded:   m.MessagesSucceeded,
		MessagesFailed:      m.MessagesFailed,
		ErrorsParse:         m.ErrorsParse,
		ErrorsProcess:       m.ErrorsProcess,
		TotalProcessingTime: m.TotalProcessingTime,
		LastProcessTime:     m.LastProcessTime,
		StartTime:           m.StartTime,
	}
}

// IncrementProcessed 增加处理计数
func (m *Metrics) IncrementProcessed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesProcessed++
}

// IncrementSucceeded 增加成功计数
func (m *Metrics) IncrementSucceeded(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesSucceeded++
	m.TotalProcessingTime += duration
	m.LastProcessTime = time.Now()
}

// IncrementFailed 增加失败计数
func (m *Metrics) IncrementFailed(parseError bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesFailed++
	if parseError {
		m.ErrorsParse++
	} else {
		m.ErrorsProcess++
	}
}

// ParseError 消息格式错误，不可重试
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return "parse message: " + e.Err.Error() }

func (e *ParseError) Unwrap() error { return e.Err }

// DecodeMessage 解析消息 data 字段中的 JSON
func DecodeMessage(msg rediscommon.StreamMessage, dest interface{}) error {
	val, ok := msg.Values["data"]
	if !ok {
		return &ParseError{Err: fmt.Errorf("missing data field in message")}
	}
	dataStr, ok := val.(string)
	if !ok {
		return &ParseError{Err: fmt.Errorf("invalid data format in message")}
	}
	if err := json.Unmarshal([]byte(dataStr), dest); err != nil {
		return &ParseError{Err: err}
	}
	return nil
}

// MessageHandler 单条消息处理函数
type MessageHandler func(ctx context.Context, msg rediscommon.StreamMessage) error

// StreamConsumer Redis Streams 消费者
type StreamConsumer struct {
	config      *config.Config
	redisClient *redis.Client
	stream      string
	handler     MessageHandler
	logger      *zap.Logger
	metrics     *Metrics
}

// NewStreamConsumer 创建 Streams 消费者
func NewStreamConsumer(
	cfg *config.Config,
	redisClient *redis.Client,
	stream string,
	handler MessageHandler,
	logger *zap.Logger,
) *StreamConsumer {
	return &StreamConsumer{
		config:      cfg,
		redisClient: redisClient,
		stream:      stream,
		handler:     handler,
		logger:      logger.With(zap.String("stream", stream)),
		metrics: &Metrics{
			StartTime: time.Now(),
		},
	}
}

// Metrics 返回指标快照
func (c *StreamConsumer) Metrics() Metrics {
	return c.metrics.GetSnapshot()
}

// Start 启动消费者，阻塞直到 ctx 取消
func (c *StreamConsumer) Start(ctx context.Context) error {
	streams := c.config.Halo.Streams
	if err := rediscommon.CreateConsumerGroup(ctx, c.redisClient, c.stream, streams.ConsumerGroup); err != nil {
		return fmt.Errorf("failed to create consumer group for %s: %w", c.stream, err)
	}

	c.logger.Info("Stream consumer started",
		zap.String("consumer_group", streams.ConsumerGroup),
		zap.String("consumer_name", streams.ConsumerName),
	)

	// 启动指标报告协程
	metricsCtx, metricsCancel := context.WithCancel(ctx)
	defer metricsCancel()
	go c.reportMetrics(metricsCtx)

	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			if err := c.consumeStream(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.logger.Error("Failed to consume stream",
					zap.Error(err),
					zap.Duration("backoff", backoffDuration),
				)

				// 指数退避：等待后重试
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(backoffDuration):
					backoffDuration *= 2
					if backoffDuration > maxBackoff {
						backoffDuration = maxBackoff
					}
				}
			} else {
				// 成功时重置退避时间
				backoffDuration = time.Second
			}
		}
	}
}

// consumeStream 读取并处理一批消息
func (c *StreamConsumer) consumeStream(ctx context.Context) error {
	streams := c.config.Halo.Streams
	messages, err := rediscommon.ReadFromStream(
		ctx,
		c.redisClient,
		c.stream,
		streams.ConsumerGroup,
		streams.ConsumerName,
		streams.BatchSize,
		streams.Block,
	)
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}

	ids := make([]string, 0, len(messages))
	for _, msg := range messages {
		c.metrics.IncrementProcessed()
		start := time.Now()
		if err := c.handler(ctx, msg); err != nil {
			var parseErr *ParseError
			c.metrics.IncrementFailed(errors.As(err, &parseErr))
			c.logger.Error("Failed to process message",
				zap.String("stream_id", msg.ID),
				zap.Error(err),
			)
			// 继续处理下一条消息，不中断
		} else {
			c.metrics.IncrementSucceeded(time.Since(start))
		}
		ids = append(ids, msg.ID)
	}

	if err := rediscommon.AckMessages(ctx, c.redisClient, c.stream, streams.ConsumerGroup, ids...); err != nil {
		return fmt.Errorf("failed to ack messages: %w", err)
	}
	return nil
}

// reportMetrics 定期报告指标（每60秒）
func (c *StreamConsumer) reportMetrics(ctx context.Context) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := c.metrics.GetSnapshot()

			var avgProcessingTime time.Duration
			if snapshot.MessagesSucceeded > 0 {
				avgProcessingTime = snapshot.TotalProcessingTime / time.Duration(snapshot.MessagesSucceeded)
			}
			successRate := float64(0)
			if snapshot.MessagesProcessed > 0 {
				successRate = float64(snapshot.MessagesSucceeded) / float64(snapshot.MessagesProcessed) * 100
			}

			c.logger.Info("Metrics report",
				zap.Int64("messages_processed", snapshot.MessagesProcessed),
				zap.Int64("messages_succeeded", snapshot.MessagesSucceeded),
				zap.Int64("messages_failed", snapshot.MessagesFailed),
				zap.Float64("success_rate", successRate),
				zap.Int64("errors_parse", snapshot.ErrorsParse),
				zap.Int64("errors_process", snapshot.ErrorsProcess),
				zap.Duration("avg_processing_time", avgProcessingTime),
				zap.Duration("uptime", time.Since(snapshot.StartTime)),
			)
		}
	}
}
