package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/NAREN-BHARGAV/CodeBlueHalo/common/database"
	"github.com/NAREN-BHARGAV/CodeBlueHalo/common/mqtt"
	rediscommon "github.com/NAREN-BHARGAV/CodeBlueHalo/common/redis"
	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/classifier"
	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/config"
	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/consumer"
	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/drift"
	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/evaluator"
	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/hsm"
	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/models"
	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/repository"
	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/tcnae"
	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/thingspeak"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// AlertPublisher 报警发布（common/mqtt.Client 实现）
type AlertPublisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	IsConnected() bool
}

// HaloService 监护核心服务（整合各层）
type HaloService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqtt.Client
	logger      *zap.Logger
	now         func() time.Time

	// 核心组件
	trackers   *hsm.Registry
	detectors  *drift.Registry
	windows    *consumer.WindowBuffer
	autoenc    *tcnae.Model
	classifier *classifier.Classifier
	evaluator  *evaluator.Evaluator

	// 存储与缓存
	cacheManager *consumer.CacheManager
	stateManager *consumer.StateManager
	alertRepo    *repository.AlertEventsRepository
	history      HistoryStore

	// 住户基线最近一次拟合对应的日期
	baselineMu  sync.Mutex
	baselineDay map[string]time.Time

	// 输入
	readingsConsumer *consumer.StreamConsumer
	dailyConsumer    *consumer.StreamConsumer
	bridge           *consumer.MQTTBridge
	poller           *thingspeak.Poller
	alertPublisher   AlertPublisher
}

// Option 服务可选项
type Option func(*HaloService)

// WithAutoencoder 使用给定的重构模型（替代按配置加载）
func WithAutoencoder(m *tcnae.Model) Option {
	return func(s *HaloService) { s.autoenc = m }
}

// WithClassifier 使用给定的事件分类器（替代按配置加载）
func WithClassifier(c *classifier.Classifier) Option {
	return func(s *HaloService) { s.classifier = c }
}

// WithAlertPublisher 使用给定的报警发布器（替代 MQTT 客户端）
func WithAlertPublisher(p AlertPublisher) Option {
	return func(s *HaloService) { s.alertPublisher = p }
}

// WithClock 替换时钟
func WithClock(now func() time.Time) Option {
	return func(s *HaloService) { s.now = now }
}

// NewHaloService 连接 PostgreSQL、Redis 和 MQTT（如启用）并创建服务
func NewHaloService(cfg *config.Config, logger *zap.Logger, opts ...Option) (*HaloService, error) {
	ctx := context.Background()

	// 1. 连接数据库
	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := repository.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	// 2. 连接 Redis
	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	if err := rediscommon.Ping(ctx, redisClient); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 3. 连接 MQTT
	var mqttClient *mqtt.Client
	if cfg.Halo.MQTTBridge.Enabled {
		mqttClient, err = mqtt.NewClient(&cfg.MQTT, logger)
		if err != nil {
			db.Close()
			redisClient.Close()
			return nil, fmt.Errorf("failed to connect mqtt: %w", err)
		}
	}

	s, err := NewHaloServiceWithClients(cfg, db, redisClient, mqttClient, logger, opts...)
	if err != nil {
		db.Close()
		redisClient.Close()
		if mqttClient != nil {
			mqttClient.Disconnect()
		}
		return nil, err
	}
	return s, nil
}

// NewHaloServiceWithClients 使用已建立的连接创建服务
// db 为 nil 时报警不落库且每日历史保存在内存；mqttClient 为 nil 时不启用 MQTT 桥接
func NewHaloServiceWithClients(
	cfg *config.Config,
	db *sql.DB,
	redisClient *redis.Client,
	mqttClient *mqtt.Client,
	logger *zap.Logger,
	opts ...Option,
) (*HaloService, error) {
	s := &HaloService{
		config:      cfg,
		db:          db,
		redisClient: redisClient,
		mqttClient:  mqttClient,
		logger:      logger,
		now:         time.Now,
		baselineDay: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}

	// 1. 核心组件
	s.trackers = hsm.NewRegistry(logger, hsm.WithThresholds(hsm.Thresholds{
		Near: cfg.Halo.Tracker.NearThreshold,
		Far:  cfg.Halo.Tracker.FarThreshold,
	}))

	mixture := drift.DefaultMixtureConfig()
	mixture.Components = cfg.Halo.Drift.Components
	mixture.Seed = cfg.Halo.Drift.Seed
	s.detectors = drift.NewRegistry(mixture, logger, drift.WithClock(func() time.Time { return s.now() }))

	windows, err := consumer.NewWindowBuffer(cfg.Halo.Window.Length, cfg.Halo.Window.Stride)
	if err != nil {
		return nil, err
	}
	s.windows = windows
	if err := s.loadModels(); err != nil {
		return nil, err
	}

	// 2. Repository 层
	var store evaluator.AlertStore
	if db != nil {
		s.alertRepo = repository.NewAlertEventsRepository(db, logger)
		store = s.alertRepo
		s.history = repository.NewDailyHistoryRepository(db, logger)
	} else {
		s.history = newMemoryHistory(cfg.Halo.Drift.HistoryDays)
	}

	// 3. Consumer 层
	s.cacheManager = consumer.NewCacheManager(cfg, redisClient, logger)
	s.stateManager = consumer.NewStateManager(cfg, redisClient, logger)
	s.evaluator = evaluator.NewEvaluator(cfg, s.stateManager, store, logger)

	s.readingsConsumer = consumer.NewStreamConsumer(cfg, redisClient, cfg.Halo.Streams.Readings, s.handleReadingMessage, logger)
	s.dailyConsumer = consumer.NewStreamConsumer(cfg, redisClient, cfg.Halo.Streams.DailyVectors, s.handleDailyVectorMessage, logger)

	// 4. 外部输入
	if mqttClient != nil && cfg.Halo.MQTTBridge.Enabled {
		s.bridge = consumer.NewMQTTBridge(cfg, mqttClient, redisClient, logger)
		if s.alertPublisher == nil {
			s.alertPublisher = mqttClient
		}
	}
	if cfg.Halo.ThingSpeakPoller.Enabled {
		client := thingspeak.NewClient(&cfg.ThingSpeak, logger)
		s.poller = thingspeak.NewPoller(client, cfg.Halo.ThingSpeakPoller.NodeID, cfg.ThingSpeak.PollInterval, s.publishReading, logger)
	}

	return s, nil
}

// loadModels 按配置加载模型权重，路径为空的模型不启用
func (s *HaloService) loadModels() error {
	m := s.config.Halo.Models
	if s.autoenc == nil && m.TCNAEPath != "" {
		model, err := tcnae.Load(tcnae.Config{
			Channels:     consumer.WindowChannels,
			WindowLength: s.config.Halo.Window.Length,
		}, m.TCNAEPath)
		if err != nil {
			return fmt.Errorf("failed to load tcnae weights: %w", err)
		}
		s.autoenc = model
		s.logger.Info("Reconstruction model loaded", zap.String("path", m.TCNAEPath))
	}

	if s.classifier == nil && m.ClassifierPath != "" {
		model, err := classifier.Load(classifier.Config{
			InputDim:   consumer.WindowChannels,
			HiddenDim:  m.ClassifierHidden,
			NumClasses: len(models.DefaultEventClasses),
		}, m.ClassifierPath)
		if err != nil {
			return fmt.Errorf("failed to load classifier weights: %w", err)
		}
		cls, err := classifier.NewClassifier(model, models.DefaultEventClasses)
		if err != nil {
			return err
		}
		s.classifier = cls
		s.logger.Info("Event classifier loaded", zap.String("path", m.ClassifierPath))
	}
	return nil
}

// Start 启动服务，阻塞直到 ctx 取消或某个组件启动失败
func (s *HaloService) Start(ctx context.Context) error {
	s.logger.Info("Starting halo service",
		zap.Bool("tcnae_enabled", s.autoenc != nil),
		zap.Bool("classifier_enabled", s.classifier != nil),
		zap.Bool("mqtt_bridge_enabled", s.bridge != nil),
		zap.Bool("thingspeak_enabled", s.poller != nil),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.bridge != nil {
		if err := s.bridge.Start(ctx); err != nil {
			return fmt.Errorf("failed to start mqtt bridge: %w", err)
		}
	}

	var wg sync.WaitGroup
	errChan := make(chan error, 3)
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				errChan <- fmt.Errorf("%s: %w", name, err)
				cancel()
			}
		}()
	}

	run("readings consumer", s.readingsConsumer.Start)
	run("daily vector consumer", s.dailyConsumer.Start)
	if s.poller != nil {
		run("thingspeak poller", s.poller.Start)
	}

	wg.Wait()
	close(errChan)
	if err, ok := <-errChan; ok {
		return err
	}
	return nil
}

// Stop 停止服务
func (s *HaloService) Stop() error {
	s.logger.Info("Stopping halo service")

	if s.bridge != nil {
		if err := s.bridge.Stop(); err != nil {
			s.logger.Error("Failed to stop mqtt bridge", zap.Error(err))
		}
	}
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}

	// 关闭数据库连接
	if err := database.Close(s.db); err != nil {
		s.logger.Error("Failed to close database", zap.Error(err))
	}

	// 关闭 Redis 连接
	if err := rediscommon.Close(s.redisClient); err != nil {
		s.logger.Error("Failed to close redis", zap.Error(err))
	}

	return nil
}

// Trackers 节点状态机注册表
func (s *HaloService) Trackers() *hsm.Registry { return s.trackers }

// Detectors 住户漂移检测器注册表
func (s *HaloService) Detectors() *drift.Registry { return s.detectors }

// publishReading 将读数发布到读数 Stream（ThingSpeak 轮询使用）
func (s *HaloService) publishReading(ctx context.Context, reading models.SensorReading) error {
	_, err := rediscommon.PublishJSONToStream(ctx, s.redisClient, s.config.Halo.Streams.Readings, reading)
	return err
}
