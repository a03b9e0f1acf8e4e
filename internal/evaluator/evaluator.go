package evaluator

import (
	"context"
	"time"

	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/config"
	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/models"

	"go.uber.org/zap"
)

// AlertStore 报警事件持久化（repository.AlertEventsRepository 实现）
type AlertStore interface {
	CreateAlertEvent(ctx context.Context, event *models.AlertEvent) error
}

// Deduplicator 报警去重（consumer.StateManager 实现）
type Deduplicator interface {
	GetDedupKey(nodeID, eventType string) string
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	DeleteState(ctx context.Context, key string) error
}

// Escalator 可被升级到 EMERGENCY 的状态机（hsm.Tracker 实现）
type Escalator interface {
	Escalate(reason string) models.StateSnapshot
}

// Evaluator 报警评估器：合并状态机、重构误差、事件分类与行为漂移四路信号
type Evaluator struct {
	config *config.Config
	dedup  Deduplicator
	store  AlertStore
	logger *zap.Logger
}

// NewEvaluator 创建评估器，dedup 为 nil 时不去重
func NewEvaluator(
	cfg *config.Config,
	dedup Deduplicator,
	store AlertStore,
	logger *zap.Logger,
) *Evaluator {
	return &Evaluator{
		config: cfg,
		dedup:  dedup,
		store:  store,
		logger: logger,
	}
}

// CheckDuplicate 同一节点同类报警在去重窗口内已触发时返回 true
func (e *Evaluator) CheckDuplicate(ctx context.Context, nodeID, eventType string) (bool, error) {
	if e.dedup == nil {
		return false, nil
	}
	acquired, err := e.dedup.Acquire(ctx, e.dedup.GetDedupKey(nodeID, eventType), e.config.Halo.Evaluation.DedupWindow)
	if err != nil {
		return false, err
	}
	return !acquired, nil
}

// clearDuplicates 节点恢复后清除安全类报警的去重标记
func (e *Evaluator) clearDuplicates(ctx context.Context, nodeID string) {
	if e.dedup == nil {
		return
	}
	for _, eventType := range []string{
		models.EventTypePhysicalAlert,
		models.EventTypePhysicalEmergency,
		models.EventTypeSuspectedFall,
		models.EventTypeProlongedStillness,
	} {
		if err := e.dedup.DeleteState(ctx, e.dedup.GetDedupKey(nodeID, eventType)); err != nil {
			e.logger.Warn("Failed to clear dedup state",
				zap.String("node_id", nodeID),
				zap.String("event_type", eventType),
				zap.Error(err),
			)
		}
	}
}

// emit 去重、构建并写入报警事件；失败只记录日志
func (e *Evaluator) emit(
	ctx context.Context,
	builder *AlertEventBuilder,
	dedupID string,
	eventType, category, level string,
	trigger *models.TriggerData,
) *models.AlertEvent {
	duplicate, err := e.CheckDuplicate(ctx, dedupID, eventType)
	if err != nil {
		// 去重失败时仍然报警
		e.logger.Warn("Failed to check duplicate alert",
			zap.String("event_type", eventType),
			zap.Error(err),
		)
	} else if duplicate {
		return nil
	}

	event, err := builder.BuildAlertEvent(eventType, category, level, trigger)
	if err != nil {
		e.logger.Error("Failed to build alert event",
			zap.String("node_id", builder.nodeID),
			zap.String("event_type", eventType),
			zap.Error(err),
		)
		return nil
	}

	if e.store != nil {
		if err := e.store.CreateAlertEvent(ctx, event); err != nil {
			e.logger.Error("Failed to create alert event",
				zap.String("event_id", event.EventID),
				zap.String("event_type", event.EventType),
				zap.Error(err),
			)
			// 继续返回事件，由调用方缓存
		}
	}

	e.logger.Info("Alert event triggered",
		zap.String("event_id", event.EventID),
		zap.String("node_id", event.NodeID),
		zap.String("event_type", event.EventType),
		zap.String("alert_level", event.AlertLevel),
	)
	return event
}

func appendEvent(events []models.AlertEvent, event *models.AlertEvent) []models.AlertEvent {
	if event == nil {
		return events
	}
	return append(events, *event)
}
