package hsm

import (
	"math"

	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/models"
)

// ReadingEvent 读数归类后的事件
type ReadingEvent int

const (
	// EventNone 不触发任何迁移
	EventNone ReadingEvent = iota
	// EventNearMotion 近距离且有运动
	EventNearMotion
	// EventNearStill 近距离且无运动
	EventNearStill
	// EventFar 远离（恢复）
	EventFar
)

func (e ReadingEvent) String() string {
	switch e {
	case EventNearMotion:
		return "near_motion"
	case EventNearStill:
		return "near_still"
	case EventFar:
		return "far"
	default:
		return "none"
	}
}

// Thresholds 距离阈值（米）
type Thresholds struct {
	Near float64 // distance < Near 视为近距离
	Far  float64 // distance > Far 视为远离
}

// DefaultThresholds 默认阈值
func DefaultThresholds() Thresholds {
	return Thresholds{Near: 0.5, Far: 1.5}
}

// Classify 将读数归类为事件
// 负数或 NaN 距离不满足任何阈值比较，归为 EventNone
func (t Thresholds) Classify(distance float64, motion bool) ReadingEvent {
	if math.IsNaN(distance) || distance < 0 {
		return EventNone
	}
	switch {
	case distance < t.Near && motion:
		return EventNearMotion
	case distance < t.Near:
		return EventNearStill
	case distance > t.Far:
		return EventFar
	default:
		return EventNone
	}
}

type transitionKey struct {
	from  models.PhysicalState
	event ReadingEvent
}

// transitions 物理状态迁移表，未列出的组合保持原状态
// EMERGENCY 只能通过 EventFar 恢复
var transitions = map[transitionKey]models.PhysicalState{
	{models.PhysicalNormal, EventNearMotion}: models.PhysicalWatch,
	{models.PhysicalWatch, EventNearMotion}:  models.PhysicalWatch,
	{models.PhysicalAlert, EventNearMotion}:  models.PhysicalWatch,

	{models.PhysicalWatch, EventNearStill}: models.PhysicalAlert,

	{models.PhysicalNormal, EventFar}:    models.PhysicalNormal,
	{models.PhysicalWatch, EventFar}:     models.PhysicalNormal,
	{models.PhysicalAlert, EventFar}:     models.PhysicalNormal,
	{models.PhysicalEmergency, EventFar}: models.PhysicalNormal,
}

// Next 纯函数：(当前状态, 事件) -> 下一状态
func Next(current models.PhysicalState, event ReadingEvent) models.PhysicalState {
	if next, ok := transitions[transitionKey{current, event}]; ok {
		return next
	}
	return current
}
