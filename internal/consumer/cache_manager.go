package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/config"
	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ErrCacheMiss 缓存中没有对应数据
var ErrCacheMiss = errors.New("cache miss")

// CacheManager Redis 缓存管理器（节点状态快照与漂移分数序列）
type CacheManager struct {
	config      *config.Config
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewCacheManager 创建缓存管理器
func NewCacheManager(
	cfg *config.Config,
	redisClient *redis.Client,
	logger *zap.Logger,
) *CacheManager {
	return &CacheManager{
		config:      cfg,
		redisClient: redisClient,
		logger:      logger,
	}
}

func (c *CacheManager) stateKey(nodeID string) string {
	return fmt.Sprintf("%s%s%s", c.config.Halo.Cache.StateKeyPrefix, nodeID, c.config.Halo.Cache.StateSuffix)
}

func (c *CacheManager) driftKey(occupantID string) string {
	return fmt.Sprintf("%s%s%s", c.config.Halo.Cache.DriftKeyPrefix, occupantID, c.config.Halo.Cache.DriftSuffix)
}

// UpdateNodeState 更新节点状态快照缓存
func (c *CacheManager) UpdateNodeState(ctx context.Context, snapshot models.StateSnapshot) error {
	key := c.stateKey(snapshot.NodeID)

	jsonData, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal state snapshot: %w", err)
	}

	err = c.redisClient.Set(ctx, key, jsonData, time.Duration(c.config.Halo.Cache.StateTTL)*time.Second).Err()
	if err != nil {
		return fmt.Errorf("failed to set state cache: %w", err)
	}

	c.logger.Debug("Updated node state cache",
		zap.String("node_id", snapshot.NodeID),
		zap.String("physical", snapshot.Physical.String()),
		zap.String("key", key),
	)
	return nil
}

// GetNodeState 读取节点状态快照
func (c *CacheManager) GetNodeState(ctx context.Context, nodeID string) (*models.StateSnapshot, error) {
	val, err := c.redisClient.Get(ctx, c.stateKey(nodeID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("state for node %s: %w", nodeID, ErrCacheMiss)
		}
		return nil, fmt.Errorf("failed to get state cache: %w", err)
	}

	var snapshot models.StateSnapshot
	if err := json.Unmarshal([]byte(val), &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state snapshot: %w", err)
	}
	return &snapshot, nil
}

// GetAllNodeIDs 扫描缓存中的节点 ID
func (c *CacheManager) GetAllNodeIDs(ctx context.Context) ([]string, error) {
	prefix := c.config.Halo.Cache.StateKeyPrefix
	suffix := c.config.Halo.Cache.StateSuffix
	pattern := fmt.Sprintf("%s*%s", prefix, suffix)

	var nodeIDs []string
	iter := c.redisClient.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		nodeID := key[len(prefix):]
		nodeIDs = append(nodeIDs, nodeID[:len(nodeID)-len(suffix)])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan keys: %w", err)
	}
	return nodeIDs, nil
}

// driftDayLayout 漂移分数按天存储的字段格式，字典序即时间序
const driftDayLayout = "2006-01-02"

// DriftScore 住户某一天的漂移分数
type DriftScore struct {
	Day   string  `json:"day"`
	Score float64 `json:"score"`
}

// SetDriftScore 写入住户某天的漂移分数，同一天重复写入时覆盖旧值
// 保留最近 DriftKeep 天，返回按日期排序的分数序列（旧到新）
func (c *CacheManager) SetDriftScore(ctx context.Context, occupantID string, day time.Time, score float64) ([]float64, error) {
	key := c.driftKey(occupantID)
	field := day.Format(driftDayLayout)

	if err := c.redisClient.HSet(ctx, key, field, strconv.FormatFloat(score, 'g', -1, 64)).Err(); err != nil {
		return nil, fmt.Errorf("failed to set drift score: %w", err)
	}

	history, err := c.GetDriftHistory(ctx, occupantID)
	if err != nil {
		return nil, err
	}

	keep := c.config.Halo.Cache.DriftKeep
	if keep > 0 && len(history) > keep {
		stale := make([]string, 0, len(history)-keep)
		for _, d := range history[:len(history)-keep] {
			stale = append(stale, d.Day)
		}
		if err := c.redisClient.HDel(ctx, key, stale...).Err(); err != nil {
			c.logger.Warn("Failed to trim drift scores",
				zap.String("occupant_id", occupantID),
				zap.Error(err),
			)
		}
		history = history[len(history)-keep:]
	}
	return scoreValues(history), nil
}

// GetDriftHistory 读取按日期排序的漂移分数（旧到新），不存在时返回空序列
func (c *CacheManager) GetDriftHistory(ctx context.Context, occupantID string) ([]DriftScore, error) {
	vals, err := c.redisClient.HGetAll(ctx, c.driftKey(occupantID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get drift scores: %w", err)
	}

	history := make([]DriftScore, 0, len(vals))
	for day, v := range vals {
		score, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid drift score %q for %s: %w", v, day, err)
		}
		history = append(history, DriftScore{Day: day, Score: score})
	}
	sort.Slice(history, func(i, j int) bool { return history[i].Day < history[j].Day })
	return history, nil
}

func scoreValues(history []DriftScore) []float64 {
	scores := make([]float64, len(history))
	for i, d := range history {
		scores[i] = d.Score
	}
	return scores
}
