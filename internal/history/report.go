package history

import (
	"time"

	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/drift"
	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/models"
)

// ReportOptions 离线评分参数
type ReportOptions struct {
	HistoryDays int     // 拟合使用的最近天数
	RefitDays   int     // 重新拟合间隔（天）
	Threshold   float64 // 漂移报警阈值
}

// ScoreOccupant 按日期顺序为单个住户逐日评分，与在线处理相同：
// 用当日之前最多 HistoryDays 天拟合基线，每 RefitDays 天重新拟合，基线未拟合时分数为 0
func ScoreOccupant(detector *drift.Detector, days []models.DailyVector, opts ReportOptions) []ScoredDay {
	refit := opts.RefitDays
	if refit <= 0 {
		refit = 1
	}

	out := make([]ScoredDay, 0, len(days))
	scores := make([]float64, 0, len(days))
	var lastFit time.Time
	fitted := false

	for i, v := range days {
		if !fitted || !v.Day.Before(lastFit.AddDate(0, 0, refit)) {
			start := 0
			if opts.HistoryDays > 0 && i > opts.HistoryDays {
				start = i - opts.HistoryDays
			}
			if detector.FitBaseline(days[start:i]) {
				lastFit = v.Day
				fitted = true
			}
		}

		score := detector.CalculateDriftScore(v)
		scores = append(scores, score)
		out = append(out, ScoredDay{
			Vector: v,
			Score:  score,
			Alert:  drift.CheckAlert(scores, opts.Threshold),
		})
	}
	return out
}
