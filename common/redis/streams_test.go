package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *redis.Client {
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestCreateConsumerGroup_Idempotent(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, CreateConsumerGroup(ctx, client, "sensor:readings:stream", "halo-group"))
	require.NoError(t, CreateConsumerGroup(ctx, client, "sensor:readings:stream", "halo-group"))
}

func TestPublishAndReadFromStream(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()
	stream := "sensor:readings:stream"

	require.NoError(t, CreateConsumerGroup(ctx, client, stream, "halo-group"))

	id, err := PublishJSONToStream(ctx, client, stream, map[string]interface{}{
		"node_id":  "A-101",
		"distance": 0.3,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = PublishToStream(ctx, client, stream, map[string]interface{}{
		"motion": true,
		"count":  3,
	})
	require.NoError(t, err)

	messages, err := ReadFromStream(ctx, client, stream, "halo-group", "halo-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, id, messages[0].ID)
	assert.Contains(t, messages[0].Values["data"], `"node_id":"A-101"`)
	assert.Equal(t, "true", messages[1].Values["motion"])
	assert.Equal(t, "3", messages[1].Values["count"])

	require.NoError(t, AckMessages(ctx, client, stream, "halo-group", messages[0].ID, messages[1].ID))

	// 已读取的消息不会再次投递
	messages, err = ReadFromStream(ctx, client, stream, "halo-group", "halo-1", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, messages)
}
