package thingspeak

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/models"

	"go.uber.org/zap"
)

// ReadingSink 读数去向（服务中为发布到读数 Stream）
type ReadingSink func(ctx context.Context, reading models.SensorReading) error

// Poller 定期拉取 ThingSpeak 频道，只转发新记录
type Poller struct {
	client   *Client
	nodeID   string
	interval time.Duration
	sink     ReadingSink
	logger   *zap.Logger

	mu          sync.Mutex
	lastEntryID int64
}

// NewPoller 创建轮询器
func NewPoller(client *Client, nodeID string, interval time.Duration, sink ReadingSink, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Poller{
		client:   client,
		nodeID:   nodeID,
		interval: interval,
		sink:     sink,
		logger:   logger,
	}
}

// Start 启动轮询，ctx 取消时返回
func (p *Poller) Start(ctx context.Context) error {
	p.logger.Info("ThingSpeak poller started",
		zap.String("node_id", p.nodeID),
		zap.Duration("interval", p.interval),
	)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// 立即执行一次
	if _, err := p.PollOnce(ctx); err != nil {
		p.logger.Error("Failed to poll ThingSpeak on startup", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("ThingSpeak poller stopped")
			return nil
		case <-ticker.C:
			if _, err := p.PollOnce(ctx); err != nil {
				p.logger.Error("Failed to poll ThingSpeak", zap.Error(err))
				// 继续执行，不中断
			}
		}
	}
}

// PollOnce 拉取一次并转发 entry_id 大于上次记录的读数，返回转发条数
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	resp, err := p.client.FetchFeeds(ctx)
	if err != nil {
		return 0, err
	}

	feeds := resp.Feeds
	sort.Slice(feeds, func(i, j int) bool { return feeds[i].EntryID < feeds[j].EntryID })

	p.mu.Lock()
	defer p.mu.Unlock()

	forwarded := 0
	for _, feed := range feeds {
		if feed.EntryID <= p.lastEntryID {
			continue
		}
		reading, err := feed.ToReading(p.nodeID)
		if err != nil {
			p.logger.Warn("Skipping invalid ThingSpeak feed",
				zap.Int64("entry_id", feed.EntryID),
				zap.Error(err),
			)
			p.lastEntryID = feed.EntryID
			continue
		}
		if err := p.sink(ctx, reading); err != nil {
			// 保留位置，下次重试
			return forwarded, err
		}
		p.lastEntryID = feed.EntryID
		forwarded++
	}
	return forwarded, nil
}

// LastEntryID 最近转发的记录号
func (p *Poller) LastEntryID() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastEntryID
}
