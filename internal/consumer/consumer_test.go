package consumer

import (
	"context"
	"testing"

	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.Halo.Cache.StateKeyPrefix = "halo:node:"
	cfg.Halo.Cache.StateSuffix = ":state"
	cfg.Halo.Cache.StateTTL = 300
	cfg.Halo.Cache.DriftKeyPrefix = "halo:occupant:"
	cfg.Halo.Cache.DriftSuffix = ":drift_scores"
	cfg.Halo.Cache.DriftKeep = 5
	cfg.Halo.Cache.DedupKeyPrefix = "halo:alert:"
	cfg.Halo.Streams.Readings = "halo:readings"
	cfg.Halo.Streams.ConsumerGroup = "test-group"
	cfg.Halo.Streams.ConsumerName = "test-consumer"
	cfg.Halo.Streams.BatchSize = 10
	cfg.Halo.Streams.Block = 0
	cfg.Halo.MQTTBridge.Topic = "halo/+/readings"
	return cfg
}

var bg = context.Background()
