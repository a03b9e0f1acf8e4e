package evaluator

import (
	"context"

	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/models"
)

// EvaluatePhysical 评估状态机迁移：进入 ALERT 或 EMERGENCY 时报警，回到 NORMAL 时清除去重标记
func (e *Evaluator) EvaluatePhysical(
	ctx context.Context,
	prev, curr models.StateSnapshot,
	reading models.SensorReading,
) []models.AlertEvent {
	if prev.Physical == curr.Physical {
		return nil
	}

	builder := NewAlertEventBuilder(curr.NodeID, "")
	var events []models.AlertEvent
	switch curr.Physical {
	case models.PhysicalNormal:
		e.clearDuplicates(ctx, curr.NodeID)
	case models.PhysicalAlert:
		trigger := BuildPhysicalTrigger(models.EventTypePhysicalAlert, curr.Physical, reading.Distance, reading.Motion)
		events = appendEvent(events, e.emit(ctx, builder, curr.NodeID,
			models.EventTypePhysicalAlert, CategorySafety, models.AlertLevelAlert, trigger))
	case models.PhysicalEmergency:
		trigger := BuildPhysicalTrigger(models.EventTypePhysicalEmergency, curr.Physical, reading.Distance, reading.Motion)
		events = appendEvent(events, e.emit(ctx, builder, curr.NodeID,
			models.EventTypePhysicalEmergency, CategorySafety, models.AlertLevelEmergency, trigger))
	}
	return events
}
