package models

import "time"

// EventClass 多模态事件分类器的类别
type EventClass string

const (
	EventNormal             EventClass = "normal"
	EventFall               EventClass = "fall"
	EventProlongedStillness EventClass = "prolonged_stillness"
)

// DefaultEventClasses 分类器输出下标对应的类别
var DefaultEventClasses = []EventClass{EventNormal, EventFall, EventProlongedStillness}

// Classification 分类结果
type Classification struct {
	Class      EventClass `json:"class"`
	Index      int        `json:"index"`
	Confidence float64    `json:"confidence"` // softmax 概率
	Logits     []float64  `json:"logits,omitempty"`
}

// AlertEvent 报警事件（对应 alert_events 表）
type AlertEvent struct {
	EventID           string     `json:"event_id" db:"event_id"`
	NodeID            string     `json:"node_id" db:"node_id"`
	OccupantID        string     `json:"occupant_id,omitempty" db:"occupant_id"`
	EventType         string     `json:"event_type" db:"event_type"`
	Category          string     `json:"category" db:"category"`       // safety, behavioral, device
	AlertLevel        string     `json:"alert_level" db:"alert_level"` // EMERGENCY, ALERT, WARNING
	AlertStatus       string     `json:"alert_status" db:"alert_status"`
	TriggeredAt       time.Time  `json:"triggered_at" db:"triggered_at"`
	AcknowledgedAt    *time.Time `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	TriggerData       string     `json:"trigger_data" db:"trigger_data"` // JSONB
	Narrative         string     `json:"narrative" db:"narrative"`
	RecommendedAction string     `json:"recommended_action" db:"recommended_action"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
}

// 报警事件类型
const (
	EventTypePhysicalAlert       = "PhysicalAlert"
	EventTypePhysicalEmergency   = "PhysicalEmergency"
	EventTypeSuspectedFall       = "SuspectedFall"
	EventTypeProlongedStillness  = "ProlongedStillness"
	EventTypeReconstructionDrift = "ReconstructionAnomaly"
	EventTypeBehavioralDrift     = "BehavioralDrift"
)

// 报警级别
const (
	AlertLevelEmergency = "EMERGENCY"
	AlertLevelAlert     = "ALERT"
	AlertLevelWarning   = "WARNING"
)

// AlertStatusActive 活跃报警
const AlertStatusActive = "active"

// TriggerData 触发数据快照（JSONB 结构）
type TriggerData struct {
	EventType           string         `json:"event_type"`
	Source              string         `json:"source"` // hsm, tcnae, classifier, drift
	PhysicalState       *PhysicalState `json:"physical_state,omitempty"`
	Distance            *float64       `json:"distance,omitempty"`
	Motion              *bool          `json:"motion,omitempty"`
	Class               *EventClass    `json:"class,omitempty"`
	Confidence          *float64       `json:"confidence,omitempty"`
	ReconstructionError *float64       `json:"reconstruction_error,omitempty"`
	DriftScores         []float64      `json:"drift_scores,omitempty"`
	Threshold           *float64       `json:"threshold,omitempty"`
}
