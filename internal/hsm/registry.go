package hsm

import (
	"sort"
	"sync"

	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/models"

	"go.uber.org/zap"
)

// Registry 节点状态机注册表，每个节点恰好一个 Tracker
type Registry struct {
	mu       sync.RWMutex
	trackers map[string]*Tracker
	opts     []Option
	logger   *zap.Logger
}

// NewRegistry 创建注册表，opts 应用于新建的每个 Tracker
func NewRegistry(logger *zap.Logger, opts ...Option) *Registry {
	return &Registry{
		trackers: make(map[string]*Tracker),
		opts:     opts,
		logger:   logger,
	}
}

// Get 获取节点的 Tracker，不存在时创建
func (r *Registry) Get(nodeID string) *Tracker {
	r.mu.RLock()
	t, ok := r.trackers[nodeID]
	r.mu.RUnlock()
	if ok {
		return t
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.trackers[nodeID]; ok {
		return t
	}
	t = NewTracker(nodeID, r.logger, r.opts...)
	r.trackers[nodeID] = t
	r.logger.Debug("Tracker created", zap.String("node_id", nodeID))
	return t
}

// Lookup 查找已存在的 Tracker
func (r *Registry) Lookup(nodeID string) (*Tracker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.trackers[nodeID]
	return t, ok
}

// Snapshots 所有节点的状态快照（按 node_id 排序）
func (r *Registry) Snapshots() []models.StateSnapshot {
	r.mu.RLock()
	trackers := make([]*Tracker, 0, len(r.trackers))
	for _, t := range r.trackers {
		trackers = append(trackers, t)
	}
	r.mu.RUnlock()

	snapshots := make([]models.StateSnapshot, 0, len(trackers))
	for _, t := range trackers {
		snapshots = append(snapshots, t.Snapshot())
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].NodeID < snapshots[j].NodeID
	})
	return snapshots
}
