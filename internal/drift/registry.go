package drift

import (
	"sync"

	"go.uber.org/zap"
)

// Registry 住户漂移检测器注册表
type Registry struct {
	mu        sync.Mutex
	detectors map[string]*Detector
	config    MixtureConfig
	opts      []Option
	logger    *zap.Logger
}

// NewRegistry 创建注册表；opts 应用于每个新建的检测器
func NewRegistry(cfg MixtureConfig, logger *zap.Logger, opts ...Option) *Registry {
	return &Registry{
		detectors: make(map[string]*Detector),
		config:    cfg,
		opts:      opts,
		logger:    logger,
	}
}

// Get 获取住户的检测器，不存在时创建（未拟合）
func (r *Registry) Get(occupantID string) *Detector {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.detectors[occupantID]
	if !ok {
		d = NewDetector(r.config, r.logger.With(zap.String("occupant_id", occupantID)), r.opts...)
		r.detectors[occupantID] = d
	}
	return d
}
