package models

import "time"

// SensorReading 单次传感器读数（瞬时数据，处理后即丢弃）
type SensorReading struct {
	NodeID      string    `json:"node_id"`
	Distance    float64   `json:"distance"` // 米
	Motion      bool      `json:"motion"`
	Temperature *float64  `json:"temperature,omitempty"` // 摄氏度，可选
	Timestamp   time.Time `json:"timestamp"`
}

// MotionValue 运动量化为 0/1（窗口通道使用）
func (r SensorReading) MotionValue() float64 {
	if r.Motion {
		return 1
	}
	return 0
}
