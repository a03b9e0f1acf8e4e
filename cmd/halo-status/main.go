package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/NAREN-BHARGAV/CodeBlueHalo/common/database"
	"github.com/NAREN-BHARGAV/CodeBlueHalo/common/logger"
	rediscommon "github.com/NAREN-BHARGAV/CodeBlueHalo/common/redis"
	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/config"
	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/consumer"
	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/repository"

	"go.uber.org/zap"
)

func main() {
	// 解析命令行参数
	var showNodes = flag.Bool("nodes", false, "Show cached state of every node")
	var alertLimit = flag.Int("alerts", 0, "List the N most recent alert events")
	var nodeID = flag.String("node", "", "Filter alerts by node ID")
	var levels = flag.String("levels", "", "Filter alerts by comma-separated levels (e.g. 'EMERGENCY,ALERT')")
	var since = flag.Duration("since", 24*time.Hour, "Only list alerts triggered within this duration")
	var ackID = flag.String("ack", "", "Acknowledge the active alert event with this ID")
	var occupantID = flag.String("drift", "", "Show the drift score sequence of an occupant")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.NewLogger(cfg.Log.Level, "console", "halo-status")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	defer rediscommon.Close(redisClient)
	cache := consumer.NewCacheManager(cfg, redisClient, log)

	if *showNodes {
		if err := printNodes(ctx, cache); err != nil {
			log.Fatal("Failed to read node states", zap.Error(err))
		}
	}

	if *occupantID != "" {
		history, err := cache.GetDriftHistory(ctx, *occupantID)
		if err != nil {
			log.Fatal("Failed to read drift scores", zap.Error(err))
		}
		fmt.Printf("Drift scores for %s (oldest first, threshold %.2f):\n", *occupantID, cfg.Halo.Drift.AlertThreshold)
		for _, d := range history {
			fmt.Printf("  %s  %10.3f\n", d.Day, d.Score)
		}
		fmt.Println()
	}

	if *alertLimit <= 0 && *ackID == "" {
		return
	}

	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		log.Fatal("Cannot connect to database", zap.Error(err))
	}
	defer database.Close(db)
	repo := repository.NewAlertEventsRepository(db, log)

	if *ackID != "" {
		if err := repo.AcknowledgeAlertEvent(ctx, *ackID, time.Now()); err != nil {
			log.Fatal("Failed to acknowledge alert", zap.Error(err))
		}
		event, err := repo.GetAlertEvent(ctx, *ackID)
		if err != nil {
			log.Fatal("Failed to reload alert", zap.Error(err))
		}
		fmt.Printf("Acknowledged %s (%s on %s)\n\n", event.EventID, event.EventType, event.NodeID)
	}

	if *alertLimit > 0 {
		start := time.Now().Add(-*since)
		filters := repository.AlertEventFilters{StartTime: &start}
		if *nodeID != "" {
			filters.NodeID = nodeID
		}
		if *levels != "" {
			for _, level := range strings.Split(*levels, ",") {
				if level = strings.TrimSpace(level); level != "" {
					filters.AlertLevels = append(filters.AlertLevels, strings.ToUpper(level))
				}
			}
		}

		events, err := repo.ListAlertEvents(ctx, filters, *alertLimit)
		if err != nil {
			log.Fatal("Failed to list alerts", zap.Error(err))
		}
		fmt.Printf("Alert events (%d):\n", len(events))
		for _, e := range events {
			fmt.Printf("  %s  %-10s %-22s %-12s %-12s %s\n",
				e.TriggeredAt.Format("2006-01-02 15:04:05"), e.AlertLevel, e.EventType, e.NodeID, e.AlertStatus, e.EventID)
			if e.Narrative != "" {
				fmt.Printf("      %s %s\n", e.Narrative, e.RecommendedAction)
			}
		}
	}
}

func printNodes(ctx context.Context, cache *consumer.CacheManager) error {
	nodeIDs, err := cache.GetAllNodeIDs(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Nodes (%d):\n", len(nodeIDs))
	for _, id := range nodeIDs {
		snapshot, err := cache.GetNodeState(ctx, id)
		if err != nil {
			fmt.Printf("  %-12s (unavailable: %v)\n", id, err)
			continue
		}
		fmt.Printf("  %-12s %-18s %-20s %s\n",
			id, snapshot.System, snapshot.Physical, snapshot.Timestamp.Format(time.RFC3339))
	}
	fmt.Println()
	return nil
}
