package evaluator

import (
	"context"

	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/drift"
	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/models"
)

// EvaluateDrift 最近连续 3 天漂移分数超过阈值时产生行为漂移报警
func (e *Evaluator) EvaluateDrift(ctx context.Context, occupantID, nodeID string, scores []float64) []models.AlertEvent {
	threshold := e.config.Halo.Drift.AlertThreshold
	if !drift.CheckAlert(scores, threshold) {
		return nil
	}

	recent := scores[len(scores)-drift.ConsecutiveDays:]
	builder := NewAlertEventBuilder(nodeID, occupantID)
	trigger := BuildDriftTrigger(recent, threshold)
	return appendEvent(nil, e.emit(ctx, builder, occupantID,
		models.EventTypeBehavioralDrift, CategoryBehavioral, models.AlertLevelWarning, trigger))
}
