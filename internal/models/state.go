package models

import (
	"fmt"
	"time"
)

// SystemState 节点系统健康状态
type SystemState int

const (
	SystemHealthy SystemState = iota
	SystemDegraded
	SystemOffline
)

var systemStateWire = map[SystemState]string{
	SystemHealthy:  "SYSTEM_HEALTHY",
	SystemDegraded: "SYSTEM_DEGRADED",
	SystemOffline:  "SYSTEM_OFFLINE",
}

// String 返回线上传输值（序列化时必须保持原样）
func (s SystemState) String() string {
	if v, ok := systemStateWire[s]; ok {
		return v
	}
	return fmt.Sprintf("SystemState(%d)", int(s))
}

// MarshalText 序列化为线上传输值
func (s SystemState) MarshalText() ([]byte, error) {
	v, ok := systemStateWire[s]
	if !ok {
		return nil, fmt.Errorf("unknown system state: %d", int(s))
	}
	return []byte(v), nil
}

// UnmarshalText 从线上传输值解析
func (s *SystemState) UnmarshalText(text []byte) error {
	for state, wire := range systemStateWire {
		if wire == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown system state: %q", string(text))
}

// PhysicalState 节点物理安全状态
type PhysicalState int

const (
	PhysicalNormal PhysicalState = iota
	PhysicalWatch
	PhysicalAlert
	PhysicalEmergency
)

var physicalStateWire = map[PhysicalState]string{
	PhysicalNormal:    "PHYSICAL_NORMAL",
	PhysicalWatch:     "PHYSICAL_WATCH",
	PhysicalAlert:     "PHYSICAL_ALERT",
	PhysicalEmergency: "PHYSICAL_EMERGENCY",
}

// String 返回线上传输值
func (s PhysicalState) String() string {
	if v, ok := physicalStateWire[s]; ok {
		return v
	}
	return fmt.Sprintf("PhysicalState(%d)", int(s))
}

// MarshalText 序列化为线上传输值
func (s PhysicalState) MarshalText() ([]byte, error) {
	v, ok := physicalStateWire[s]
	if !ok {
		return nil, fmt.Errorf("unknown physical state: %d", int(s))
	}
	return []byte(v), nil
}

// UnmarshalText 从线上传输值解析
func (s *PhysicalState) UnmarshalText(text []byte) error {
	for state, wire := range physicalStateWire {
		if wire == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown physical state: %q", string(text))
}

// StateSnapshot 节点状态快照（不可变，供 API / 报告层读取）
type StateSnapshot struct {
	NodeID    string        `json:"node_id"`
	System    SystemState   `json:"system"`
	Physical  PhysicalState `json:"physical"`
	Timestamp time.Time     `json:"timestamp"` // ISO-8601
}
