package drift

import (
	"sync"
	"time"

	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/models"

	"go.uber.org/zap"
)

const (
	// MinHistoryDays 拟合基线所需的最少天数（一周）
	MinHistoryDays = 7
	// ConsecutiveDays 报警所需的连续高分天数
	ConsecutiveDays = 3
	// DefaultAlertThreshold 默认漂移分数阈值
	DefaultAlertThreshold = 10.0
)

// Detector 行为漂移检测器（每个住户一个实例）
// baseline 为 nil 表示尚未拟合；拟合是写独占操作，评分读取最近一次完成的基线
type Detector struct {
	mu       sync.RWMutex
	baseline *Mixture
	fittedAt time.Time

	config MixtureConfig
	now    func() time.Time
	logger *zap.Logger
}

// Option 检测器可选项
type Option func(*Detector)

// WithClock 替换时钟（记录拟合时间）
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// NewDetector 创建漂移检测器
func NewDetector(cfg MixtureConfig, logger *zap.Logger, opts ...Option) *Detector {
	d := &Detector{
		config: cfg,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// FitBaseline 用历史每日向量拟合基线
// 不足 MinHistoryDays 天返回 false 且保留已有基线；成功时替换旧基线
func (d *Detector) FitBaseline(history []models.DailyVector) bool {
	if len(history) < MinHistoryDays {
		d.logger.Debug("Insufficient history for baseline",
			zap.Int("days", len(history)),
			zap.Int("required", MinHistoryDays),
		)
		return false
	}

	data := make([][]float64, len(history))
	for i, v := range history {
		data[i] = v.Slice()
	}

	// 在锁外拟合，完成后再替换
	mixture, err := FitMixture(data, d.config)
	if err != nil {
		d.logger.Warn("Failed to fit behavioral baseline",
			zap.Int("days", len(history)),
			zap.Int("components", d.config.Components),
			zap.Error(err),
		)
		return false
	}

	d.mu.Lock()
	d.baseline = mixture
	d.fittedAt = d.now()
	d.mu.Unlock()

	d.logger.Info("Behavioral baseline fitted",
		zap.Int("days", len(history)),
		zap.Int("components", mixture.Components()),
		zap.Bool("converged", mixture.Converged()),
	)
	return true
}

// CalculateDriftScore 计算单日向量的漂移分数（负对数似然，越高越异常）
// 未拟合时返回 0.0
func (d *Detector) CalculateDriftScore(v models.DailyVector) float64 {
	d.mu.RLock()
	baseline := d.baseline
	d.mu.RUnlock()

	if baseline == nil {
		return 0.0
	}
	return -baseline.LogLikelihood(v.Slice())
}

// Fitted 是否已有基线
func (d *Detector) Fitted() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.baseline != nil
}

// FittedAt 最近一次拟合完成时间
func (d *Detector) FittedAt() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.fittedAt
}

// CheckAlert 见包函数 CheckAlert
func (d *Detector) CheckAlert(scores []float64, threshold float64) bool {
	return CheckAlert(scores, threshold)
}

// CheckAlert 最近 ConsecutiveDays 个分数全部严格大于阈值时返回 true
// 分数少于 ConsecutiveDays 个时总是 false
func CheckAlert(scores []float64, threshold float64) bool {
	if len(scores) < ConsecutiveDays {
		return false
	}
	for _, s := range scores[len(scores)-ConsecutiveDays:] {
		if !(s > threshold) {
			return false
		}
	}
	return true
}
