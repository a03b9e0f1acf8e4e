package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	rediscommon "github.com/NAREN-BHARGAV/CodeBlueHalo/common/redis"
	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/consumer"
	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/evaluator"
	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/models"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// DailyVectorMessage 每日行为向量流中的消息
type DailyVectorMessage struct {
	models.DailyVector
	NodeID string `json:"node_id"`
}

// ProcessReading 处理一条传感读数：状态机迁移、节点缓存、窗口模型评估
// 同一节点的读数须由同一消费者按顺序处理
func (s *HaloService) ProcessReading(ctx context.Context, reading models.SensorReading) ([]models.AlertEvent, error) {
	if reading.NodeID == "" {
		return nil, fmt.Errorf("reading without node id")
	}

	tracker := s.trackers.Get(reading.NodeID)
	prev := tracker.Snapshot()
	curr := tracker.ProcessSensorEvent(reading.Distance, reading.Motion)
	// 收到读数说明节点在线；DEGRADED 由设置方负责恢复
	if curr.System == models.SystemOffline {
		curr = tracker.SetSystemState(models.SystemHealthy)
	}
	s.updateCache(ctx, curr)

	events := s.evaluator.EvaluatePhysical(ctx, prev, curr, reading)

	window, ready := s.windows.Push(reading)
	if !ready || (s.autoenc == nil && s.classifier == nil) {
		return events, nil
	}

	result, err := s.evaluateWindow(window)
	if err != nil {
		// 窗口形状与模型不匹配属于配置错误
		return events, err
	}
	result.NodeID = reading.NodeID

	before := tracker.Snapshot()
	events = append(events, s.evaluator.EvaluateWindow(ctx, result, tracker)...)
	if after := tracker.Snapshot(); after.Physical != before.Physical {
		s.updateCache(ctx, after)
	}
	return events, nil
}

// evaluateWindow 对 (通道, 长度) 窗口运行已启用的模型
func (s *HaloService) evaluateWindow(window *mat.Dense) (evaluator.WindowResult, error) {
	var result evaluator.WindowResult

	if s.autoenc != nil {
		score, err := s.autoenc.Score(window)
		if err != nil {
			return result, fmt.Errorf("failed to score window: %w", err)
		}
		result.Reconstruction = &score
	}

	if s.classifier != nil {
		// 分类器按 (长度, 特征) 输入
		sample := mat.DenseCopyOf(window.T())
		cls, err := s.classifier.Classify(sample)
		if err != nil {
			return result, fmt.Errorf("failed to classify window: %w", err)
		}
		result.Classification = &cls
	}
	return result, nil
}

// ProcessDailyVector 处理住户一天的行为向量：保存、按需拟合基线、计算漂移分数并评估报警
// 同一天重复处理时覆盖该天的分数，不会重复计入连续天数
func (s *HaloService) ProcessDailyVector(ctx context.Context, nodeID string, v models.DailyVector) (float64, []models.AlertEvent, error) {
	if v.OccupantID == "" {
		return 0, nil, fmt.Errorf("daily vector without occupant id")
	}
	if nodeID == "" {
		return 0, nil, fmt.Errorf("daily vector for occupant %s without node id", v.OccupantID)
	}
	if v.Day.IsZero() {
		v.Day = s.now()
	}

	if err := s.history.UpsertDailyVector(ctx, v); err != nil {
		return 0, nil, err
	}

	// 未拟合或距上次拟合满 RefitDays 天时，用之前 HistoryDays 天重新拟合基线
	detector := s.detectors.Get(v.OccupantID)
	day := truncateDay(v.Day)
	if s.needsRefit(v.OccupantID, day) {
		history, err := s.history.ListRecentDailyVectors(ctx, v.OccupantID, day, s.config.Halo.Drift.HistoryDays)
		if err != nil {
			s.logger.Error("Failed to load daily history",
				zap.String("occupant_id", v.OccupantID),
				zap.Error(err),
			)
		} else if detector.FitBaseline(history) {
			s.markFitted(v.OccupantID, day)
			s.logger.Info("Behavioral baseline fitted",
				zap.String("occupant_id", v.OccupantID),
				zap.Int("days", len(history)),
				zap.Time("fitted_at", detector.FittedAt()),
			)
		}
	}

	score := detector.CalculateDriftScore(v)
	if err := s.history.SetDriftScore(ctx, v.OccupantID, v.Day, score); err != nil {
		s.logger.Error("Failed to save drift score",
			zap.String("occupant_id", v.OccupantID),
			zap.Error(err),
		)
	}

	scores, err := s.cacheManager.SetDriftScore(ctx, v.OccupantID, day, score)
	if err != nil {
		return score, nil, fmt.Errorf("failed to cache drift score: %w", err)
	}

	s.logger.Debug("Drift score calculated",
		zap.String("occupant_id", v.OccupantID),
		zap.Float64("score", score),
		zap.Int("sequence_length", len(scores)),
	)
	return score, s.evaluator.EvaluateDrift(ctx, v.OccupantID, nodeID, scores), nil
}

func (s *HaloService) needsRefit(occupantID string, day time.Time) bool {
	s.baselineMu.Lock()
	defer s.baselineMu.Unlock()
	last, ok := s.baselineDay[occupantID]
	if !ok {
		return true
	}
	refit := s.config.Halo.Drift.RefitDays
	if refit <= 0 {
		refit = 1
	}
	return !day.Before(last.AddDate(0, 0, refit))
}

func (s *HaloService) markFitted(occupantID string, day time.Time) {
	s.baselineMu.Lock()
	defer s.baselineMu.Unlock()
	s.baselineDay[occupantID] = day
}

func (s *HaloService) updateCache(ctx context.Context, snapshot models.StateSnapshot) {
	if err := s.cacheManager.UpdateNodeState(ctx, snapshot); err != nil {
		s.logger.Warn("Failed to cache node state",
			zap.String("node_id", snapshot.NodeID),
			zap.Error(err),
		)
	}
}

// handleReadingMessage 读数流消息处理
func (s *HaloService) handleReadingMessage(ctx context.Context, msg rediscommon.StreamMessage) error {
	var reading models.SensorReading
	if err := consumer.DecodeMessage(msg, &reading); err != nil {
		return err
	}
	if reading.Timestamp.IsZero() {
		reading.Timestamp = s.now()
	}
	events, err := s.ProcessReading(ctx, reading)
	s.publishAlerts(events)
	return err
}

// handleDailyVectorMessage 每日向量流消息处理
func (s *HaloService) handleDailyVectorMessage(ctx context.Context, msg rediscommon.StreamMessage) error {
	var dv DailyVectorMessage
	if err := consumer.DecodeMessage(msg, &dv); err != nil {
		return err
	}
	_, events, err := s.ProcessDailyVector(ctx, dv.NodeID, dv.DailyVector)
	s.publishAlerts(events)
	return err
}

// publishAlerts 将报警事件发布到 MQTT 报警主题，失败只记录日志
func (s *HaloService) publishAlerts(events []models.AlertEvent) {
	topic := s.config.Halo.MQTTBridge.AlertTopic
	if s.alertPublisher == nil || topic == "" || len(events) == 0 {
		return
	}
	if !s.alertPublisher.IsConnected() {
		s.logger.Warn("MQTT not connected, alerts not published", zap.Int("count", len(events)))
		return
	}
	for i := range events {
		payload, err := json.Marshal(&events[i])
		if err != nil {
			s.logger.Error("Failed to marshal alert event", zap.String("event_id", events[i].EventID), zap.Error(err))
			continue
		}
		if err := s.alertPublisher.Publish(topic, s.config.MQTT.QoS, false, payload); err != nil {
			s.logger.Error("Failed to publish alert event",
				zap.String("event_id", events[i].EventID),
				zap.String("topic", topic),
				zap.Error(err),
			)
		}
	}
}
