package hsm

import (
	"sync"
	"time"

	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/models"

	"go.uber.org/zap"
)

// Tracker 单节点分层状态机（系统层 + 物理层）
// 同一个 Tracker 的调用通过互斥锁串行化
type Tracker struct {
	mu sync.Mutex

	nodeID        string
	systemState   models.SystemState
	physicalState models.PhysicalState
	lastUpdate    time.Time

	thresholds Thresholds
	now        func() time.Time
	logger     *zap.Logger
}

// Option Tracker 可选配置
type Option func(*Tracker)

// WithThresholds 自定义距离阈值
func WithThresholds(t Thresholds) Option {
	return func(tr *Tracker) { tr.thresholds = t }
}

// WithClock 注入时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(tr *Tracker) { tr.now = now }
}

// NewTracker 创建节点状态机，初始状态 (HEALTHY, NORMAL, 当前时间)
func NewTracker(nodeID string, logger *zap.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		nodeID:        nodeID,
		systemState:   models.SystemHealthy,
		physicalState: models.PhysicalNormal,
		thresholds:    DefaultThresholds(),
		now:           func() time.Time { return time.Now().UTC() },
		logger:        logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.lastUpdate = t.now()
	return t
}

// NodeID 节点 ID
func (t *Tracker) NodeID() string {
	return t.nodeID
}

// ProcessSensorEvent 处理一次传感器读数并返回新的状态快照
func (t *Tracker) ProcessSensorEvent(distance float64, motion bool) models.StateSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastUpdate = t.now()

	event := t.thresholds.Classify(distance, motion)
	prev := t.physicalState
	t.physicalState = Next(prev, event)

	if prev != t.physicalState {
		t.logger.Info("Physical state changed",
			zap.String("node_id", t.nodeID),
			zap.String("from", prev.String()),
			zap.String("to", t.physicalState.String()),
			zap.String("event", event.String()),
			zap.Float64("distance", distance),
			zap.Bool("motion", motion),
		)
	}

	return t.snapshotLocked()
}

// Escalate 外部升级入口（人工覆盖或高置信度模型信号），直接进入 EMERGENCY
func (t *Tracker) Escalate(reason string) models.StateSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastUpdate = t.now()
	if t.physicalState != models.PhysicalEmergency {
		t.logger.Warn("Node escalated to emergency",
			zap.String("node_id", t.nodeID),
			zap.String("from", t.physicalState.String()),
			zap.String("reason", reason),
		)
	}
	t.physicalState = models.PhysicalEmergency

	return t.snapshotLocked()
}

// SetSystemState 设置系统层状态（与物理层相互独立）
func (t *Tracker) SetSystemState(state models.SystemState) models.StateSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastUpdate = t.now()
	t.systemState = state

	return t.snapshotLocked()
}

// Snapshot 当前状态快照（不修改状态）
func (t *Tracker) Snapshot() models.StateSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() models.StateSnapshot {
	return models.StateSnapshot{
		NodeID:    t.nodeID,
		System:    t.systemState,
		Physical:  t.physicalState,
		Timestamp: t.lastUpdate,
	}
}
