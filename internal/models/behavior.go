package models

import (
	"fmt"
	"time"
)

// DailyFeatureCount 每日行为特征维度
const DailyFeatureCount = 4

// DailyVector 单个住户单日行为特征向量
// 顺序固定：[total_active_minutes, longest_inactive_minutes, exit_count, avg_temperature]
type DailyVector struct {
	OccupantID             string    `json:"occupant_id,omitempty"`
	Day                    time.Time `json:"day,omitempty"`
	TotalActiveMinutes     float64   `json:"total_active_minutes"`
	LongestInactiveMinutes float64   `json:"longest_inactive_minutes"`
	ExitCount              float64   `json:"exit_count"`
	AvgTemperature         float64   `json:"avg_temperature"`
}

// Slice 按固定顺序返回特征
func (v DailyVector) Slice() []float64 {
	return []float64{
		v.TotalActiveMinutes,
		v.LongestInactiveMinutes,
		v.ExitCount,
		v.AvgTemperature,
	}
}

// DailyVectorFromSlice 从固定顺序的特征构建向量
func DailyVectorFromSlice(values []float64) (DailyVector, error) {
	if len(values) != DailyFeatureCount {
		return DailyVector{}, fmt.Errorf("daily vector needs %d features, got %d", DailyFeatureCount, len(values))
	}
	return DailyVector{
		TotalActiveMinutes:     values[0],
		LongestInactiveMinutes: values[1],
		ExitCount:              values[2],
		AvgTemperature:         values[3],
	}, nil
}
