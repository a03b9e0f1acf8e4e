package consumer

import (
	"context"
	"fmt"
	"time"

	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/config"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// StateManager 报警去重状态管理器
type StateManager struct {
	config      *config.Config
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewStateManager 创建状态管理器
func NewStateManager(
	cfg *config.Config,
	redisClient *redis.Client,
	logger *zap.Logger,
) *StateManager {
	return &StateManager{
		config:      cfg,
		redisClient: redisClient,
		logger:      logger,
	}
}

// GetDedupKey 构建去重键
func (s *StateManager) GetDedupKey(nodeID, eventType string) string {
	return fmt.Sprintf("%s%s:%s", s.config.Halo.Cache.DedupKeyPrefix, nodeID, eventType)
}

// Acquire 在 ttl 内首次调用返回 true，之后返回 false，直到键过期
func (s *StateManager) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.redisClient.SetNX(ctx, key, time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to set dedup key: %w", err)
	}
	if !ok {
		s.logger.Debug("Duplicate alert suppressed", zap.String("key", key))
	}
	return ok, nil
}

// DeleteState 删除状态
func (s *StateManager) DeleteState(ctx context.Context, key string) error {
	if err := s.redisClient.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete state: %w", err)
	}
	return nil
}
