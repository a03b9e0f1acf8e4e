package thingspeak

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/NAREN-BHARGAV/CodeBlueHalo/common/config"
	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Channel ThingSpeak 频道信息
type Channel struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Field1      string `json:"field1"`
	Field2      string `json:"field2"`
	Field3      string `json:"field3"`
	LastEntryID int64  `json:"last_entry_id"`
}

// Feed 单条上报记录，字段值为字符串，未上报时为 null
type Feed struct {
	CreatedAt time.Time `json:"created_at"`
	EntryID   int64     `json:"entry_id"`
	Field1    *string   `json:"field1"` // 距离（米）
	Field2    *string   `json:"field2"` // 运动（0/1）
	Field3    *string   `json:"field3"` // 温度（摄氏度）
}

// FeedsResponse feeds.json 响应
type FeedsResponse struct {
	Channel Channel `json:"channel"`
	Feeds   []Feed  `json:"feeds"`
}

// Client ThingSpeak 读取客户端
type Client struct {
	httpClient *resty.Client
	cfg        *config.ThingSpeakConfig
	logger     *zap.Logger
}

// NewClient 创建 ThingSpeak 客户端
func NewClient(cfg *config.ThingSpeakConfig, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Accept", "application/json")

	return &Client{
		httpClient: client,
		cfg:        cfg,
		logger:     logger,
	}
}

// FetchFeeds 拉取频道最近的上报记录
func (c *Client) FetchFeeds(ctx context.Context) (*FeedsResponse, error) {
	if c.cfg.ChannelID == "" {
		return nil, fmt.Errorf("thingspeak channel id is required")
	}

	req := c.httpClient.R().
		SetContext(ctx).
		SetPathParam("channel", c.cfg.ChannelID).
		SetResult(&FeedsResponse{})
	if c.cfg.ReadAPIKey != "" {
		req.SetQueryParam("api_key", c.cfg.ReadAPIKey)
	}
	if c.cfg.Results > 0 {
		req.SetQueryParam("results", strconv.Itoa(c.cfg.Results))
	}

	resp, err := req.Get("/channels/{channel}/feeds.json")
	if err != nil {
		return nil, fmt.Errorf("failed to call ThingSpeak API: %w", err)
	}
	if resp.IsError() {
		c.logger.Error("ThingSpeak API returned error",
			zap.String("channel_id", c.cfg.ChannelID),
			zap.Int("status_code", resp.StatusCode()),
		)
		return nil, fmt.Errorf("ThingSpeak API error: status %d", resp.StatusCode())
	}

	result, ok := resp.Result().(*FeedsResponse)
	if !ok || result == nil {
		return nil, fmt.Errorf("unexpected ThingSpeak response body")
	}

	c.logger.Debug("Fetched ThingSpeak feeds",
		zap.String("channel_id", c.cfg.ChannelID),
		zap.Int("feed_count", len(result.Feeds)),
	)
	return result, nil
}

// ToReading 将上报记录转换为传感读数
// field1 距离为必填；field2 缺失视为无运动；field3 缺失或无法解析时不带温度
func (f Feed) ToReading(nodeID string) (models.SensorReading, error) {
	if f.Field1 == nil {
		return models.SensorReading{}, fmt.Errorf("feed %d has no distance", f.EntryID)
	}
	distance, err := strconv.ParseFloat(strings.TrimSpace(*f.Field1), 64)
	if err != nil {
		return models.SensorReading{}, fmt.Errorf("feed %d has invalid distance %q: %w", f.EntryID, *f.Field1, err)
	}

	reading := models.SensorReading{
		NodeID:    nodeID,
		Distance:  distance,
		Timestamp: f.CreatedAt,
	}
	if f.Field2 != nil {
		if motion, err := strconv.ParseFloat(strings.TrimSpace(*f.Field2), 64); err == nil {
			reading.Motion = motion != 0
		}
	}
	if f.Field3 != nil {
		if temp, err := strconv.ParseFloat(strings.TrimSpace(*f.Field3), 64); err == nil {
			reading.Temperature = &temp
		}
	}
	if reading.Timestamp.IsZero() {
		reading.Timestamp = time.Now()
	}
	return reading, nil
}
