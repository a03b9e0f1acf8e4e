package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/models"
)

// HistoryStore 每日行为向量存储（repository.DailyHistoryRepository 实现）
type HistoryStore interface {
	UpsertDailyVector(ctx context.Context, v models.DailyVector) error
	SetDriftScore(ctx context.Context, occupantID string, day time.Time, score float64) error
	ListRecentDailyVectors(ctx context.Context, occupantID string, before time.Time, days int) ([]models.DailyVector, error)
}

// memoryHistory 未配置数据库时使用的进程内存储，每个住户保留最近 keep 天
type memoryHistory struct {
	mu      sync.Mutex
	keep    int
	vectors map[string][]models.DailyVector
	scores  map[string]map[string]float64
}

func newMemoryHistory(keep int) *memoryHistory {
	return &memoryHistory{
		keep:    keep,
		vectors: make(map[string][]models.DailyVector),
		scores:  make(map[string]map[string]float64),
	}
}

func (h *memoryHistory) UpsertDailyVector(_ context.Context, v models.DailyVector) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	v.Day = truncateDay(v.Day)
	list := h.vectors[v.OccupantID]
	replaced := false
	for i := range list {
		if list[i].Day.Equal(v.Day) {
			list[i] = v
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, v)
		sort.Slice(list, func(i, j int) bool { return list[i].Day.Before(list[j].Day) })
	}
	// keep 天之外的历史丢弃（多保留一天给当日）
	if h.keep > 0 && len(list) > h.keep+1 {
		list = list[len(list)-h.keep-1:]
	}
	h.vectors[v.OccupantID] = list
	return nil
}

func (h *memoryHistory) SetDriftScore(_ context.Context, occupantID string, day time.Time, score float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.scores[occupantID] == nil {
		h.scores[occupantID] = make(map[string]float64)
	}
	h.scores[occupantID][day.Format("2006-01-02")] = score
	return nil
}

func (h *memoryHistory) ListRecentDailyVectors(_ context.Context, occupantID string, before time.Time, days int) ([]models.DailyVector, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	before = truncateDay(before)
	var out []models.DailyVector
	for _, v := range h.vectors[occupantID] {
		if v.Day.Before(before) {
			out = append(out, v)
		}
	}
	if days > 0 && len(out) > days {
		out = out[len(out)-days:]
	}
	return out, nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
