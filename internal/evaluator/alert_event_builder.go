package evaluator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/models"

	"github.com/google/uuid"
)

// 报警类别
const (
	CategorySafety     = "safety"
	CategoryBehavioral = "behavioral"
)

// AlertEventBuilder 报警事件构建器
type AlertEventBuilder struct {
	nodeID     string
	occupantID string
	now        func() time.Time
}

// NewAlertEventBuilder 创建报警事件构建器
func NewAlertEventBuilder(nodeID, occupantID string) *AlertEventBuilder {
	return &AlertEventBuilder{
		nodeID:     nodeID,
		occupantID: occupantID,
		now:        time.Now,
	}
}

// BuildAlertEvent 构建报警事件，附带事件说明与建议措施
func (b *AlertEventBuilder) BuildAlertEvent(
	eventType string,
	category string,
	alertLevel string,
	triggerData *models.TriggerData,
) (*models.AlertEvent, error) {
	now := b.now()

	// 序列化 trigger_data
	triggerDataJSON, err := json.Marshal(triggerData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal trigger data: %w", err)
	}

	narrative, action := describe(b.nodeID, triggerData)

	return &models.AlertEvent{
		EventID:           uuid.New().String(),
		NodeID:            b.nodeID,
		OccupantID:        b.occupantID,
		EventType:         eventType,
		Category:          category,
		AlertLevel:        alertLevel,
		AlertStatus:       models.AlertStatusActive,
		TriggeredAt:       now,
		TriggerData:       string(triggerDataJSON),
		Narrative:         narrative,
		RecommendedAction: action,
		CreatedAt:         now,
	}, nil
}

// BuildPhysicalTrigger 构建状态机触发数据
func BuildPhysicalTrigger(eventType string, state models.PhysicalState, distance float64, motion bool) *models.TriggerData {
	return &models.TriggerData{
		EventType:     eventType,
		Source:        "hsm",
		PhysicalState: &state,
		Distance:      &distance,
		Motion:        &motion,
	}
}

// BuildClassifierTrigger 构建分类器触发数据
func BuildClassifierTrigger(eventType string, class models.EventClass, confidence, threshold float64) *models.TriggerData {
	return &models.TriggerData{
		EventType:  eventType,
		Source:     "classifier",
		Class:      &class,
		Confidence: &confidence,
		Threshold:  &threshold,
	}
}

// BuildReconstructionTrigger 构建重构误差触发数据
func BuildReconstructionTrigger(mse, threshold float64) *models.TriggerData {
	return &models.TriggerData{
		EventType:           models.EventTypeReconstructionDrift,
		Source:              "tcnae",
		ReconstructionError: &mse,
		Threshold:           &threshold,
	}
}

// BuildDriftTrigger 构建行为漂移触发数据
func BuildDriftTrigger(scores []float64, threshold float64) *models.TriggerData {
	return &models.TriggerData{
		EventType:   models.EventTypeBehavioralDrift,
		Source:      "drift",
		DriftScores: append([]float64(nil), scores...),
		Threshold:   &threshold,
	}
}
