package evaluator

import (
	"context"
	"fmt"

	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/models"
	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/tcnae"

	"go.uber.org/zap"
)

// WindowResult 单个传感窗口的模型输出，未启用的模型为 nil
type WindowResult struct {
	NodeID         string
	Reconstruction *tcnae.Score
	Classification *models.Classification
}

// EvaluateWindow 评估窗口级模型输出
// 高置信度跌倒会先将状态机升级到 EMERGENCY
func (e *Evaluator) EvaluateWindow(ctx context.Context, result WindowResult, escalator Escalator) []models.AlertEvent {
	builder := NewAlertEventBuilder(result.NodeID, "")
	eval := e.config.Halo.Evaluation
	var events []models.AlertEvent

	if score := result.Reconstruction; score != nil && score.MSE > eval.ReconstructionThreshold {
		trigger := BuildReconstructionTrigger(score.MSE, eval.ReconstructionThreshold)
		events = appendEvent(events, e.emit(ctx, builder, result.NodeID,
			models.EventTypeReconstructionDrift, CategoryBehavioral, models.AlertLevelWarning, trigger))
	}

	cls := result.Classification
	if cls == nil || cls.Confidence < eval.FallConfidence {
		return events
	}

	switch cls.Class {
	case models.EventFall:
		if escalator != nil {
			snapshot := escalator.Escalate(fmt.Sprintf("classifier fall confidence %.3f", cls.Confidence))
			e.logger.Warn("Node escalated by classifier",
				zap.String("node_id", result.NodeID),
				zap.String("physical", snapshot.Physical.String()),
				zap.Float64("confidence", cls.Confidence),
			)
		}
		trigger := BuildClassifierTrigger(models.EventTypeSuspectedFall, cls.Class, cls.Confidence, eval.FallConfidence)
		events = appendEvent(events, e.emit(ctx, builder, result.NodeID,
			models.EventTypeSuspectedFall, CategorySafety, models.AlertLevelEmergency, trigger))
	case models.EventProlongedStillness:
		trigger := BuildClassifierTrigger(models.EventTypeProlongedStillness, cls.Class, cls.Confidence, eval.FallConfidence)
		events = appendEvent(events, e.emit(ctx, builder, result.NodeID,
			models.EventTypeProlongedStillness, CategorySafety, models.AlertLevelAlert, trigger))
	}
	return events
}
