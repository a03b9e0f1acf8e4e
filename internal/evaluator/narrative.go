package evaluator

import (
	"fmt"
	"strings"

	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/models"
)

// describe 生成面向值守人员的事件说明和建议措施
func describe(nodeID string, td *models.TriggerData) (narrative string, action string) {
	if td == nil {
		return fmt.Sprintf("Node %s raised an alert.", nodeID), "Check on the occupant."
	}

	switch td.EventType {
	case models.EventTypePhysicalAlert:
		narrative = fmt.Sprintf("Node %s: occupant within %s of the sensor and motionless after recent movement.",
			nodeID, formatMeters(td.Distance))
		action = "Check on the occupant."
	case models.EventTypePhysicalEmergency:
		narrative = fmt.Sprintf("Node %s escalated to emergency state.", nodeID)
		action = "Immediate warden dispatch is mandatory."
	case models.EventTypeSuspectedFall:
		narrative = fmt.Sprintf("Node %s: event classifier reports a probable fall (%s confidence).",
			nodeID, formatPercent(td.Confidence))
		action = "Immediate warden dispatch is mandatory."
	case models.EventTypeProlongedStillness:
		narrative = fmt.Sprintf("Node %s: event classifier reports prolonged stillness (%s confidence).",
			nodeID, formatPercent(td.Confidence))
		action = "Contact the occupant and verify wellbeing."
	case models.EventTypeReconstructionDrift:
		narrative = fmt.Sprintf("Node %s: sensor pattern deviates from the learned routine (reconstruction error %s, threshold %s).",
			nodeID, formatFloat(td.ReconstructionError), formatFloat(td.Threshold))
		action = "Review recent activity for this node."
	case models.EventTypeBehavioralDrift:
		scores := make([]string, len(td.DriftScores))
		for i, s := range td.DriftScores {
			scores[i] = fmt.Sprintf("%.1f", s)
		}
		narrative = fmt.Sprintf("Daily behavior deviated from the personal baseline on consecutive days (drift scores %s, threshold %s).",
			strings.Join(scores, ", "), formatFloat(td.Threshold))
		action = "Schedule a wellbeing check."
	default:
		narrative = fmt.Sprintf("Node %s raised %s.", nodeID, td.EventType)
		action = "Check on the occupant."
	}
	return narrative, action
}

func formatMeters(v *float64) string {
	if v == nil {
		return "unknown distance"
	}
	return fmt.Sprintf("%.2f m", *v)
}

func formatPercent(v *float64) string {
	if v == nil {
		return "unknown"
	}
	return fmt.Sprintf("%.1f%%", *v*100)
}

func formatFloat(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.3f", *v)
}
