package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/models"

	"go.uber.org/zap"
)

// DailyHistoryRepository 每日行为向量与漂移分数仓库
type DailyHistoryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDailyHistoryRepository 创建每日行为仓库
func NewDailyHistoryRepository(db *sql.DB, logger *zap.Logger) *DailyHistoryRepository {
	return &DailyHistoryRepository{
		db:     db,
		logger: logger,
	}
}

// UpsertDailyVector 写入或覆盖住户某日的行为向量
func (r *DailyHistoryRepository) UpsertDailyVector(ctx context.Context, v models.DailyVector) error {
	if v.OccupantID == "" {
		return fmt.Errorf("occupant_id is required")
	}

	query := `
		INSERT INTO daily_behavior (
			occupant_id, day,
			total_active_minutes, longest_inactive_minutes, exit_count, avg_temperature
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (occupant_id, day) DO UPDATE SET
			total_active_minutes = EXCLUDED.total_active_minutes,
			longest_inactive_minutes = EXCLUDED.longest_inactive_minutes,
			exit_count = EXCLUDED.exit_count,
			avg_temperature = EXCLUDED.avg_temperature
	`
	_, err := r.db.ExecContext(ctx, query,
		v.OccupantID,
		truncateDay(v.Day),
		v.TotalActiveMinutes,
		v.LongestInactiveMinutes,
		v.ExitCount,
		v.AvgTemperature,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert daily vector: %w", err)
	}
	return nil
}

// SetDriftScore 记录某日的漂移分数
func (r *DailyHistoryRepository) SetDriftScore(ctx context.Context, occupantID string, day time.Time, score float64) error {
	query := `
		UPDATE daily_behavior
		SET drift_score = $3
		WHERE occupant_id = $1
		  AND day = $2
	`
	if _, err := r.db.ExecContext(ctx, query, occupantID, truncateDay(day), score); err != nil {
		return fmt.Errorf("failed to set drift score: %w", err)
	}
	return nil
}

// ListRecentDailyVectors 查询 before 之前最近 days 天的行为向量（按日期升序）
func (r *DailyHistoryRepository) ListRecentDailyVectors(ctx context.Context, occupantID string, before time.Time, days int) ([]models.DailyVector, error) {
	query := `
		SELECT occupant_id, day,
			total_active_minutes, longest_inactive_minutes, exit_count, avg_temperature
		FROM (
			SELECT *
			FROM daily_behavior
			WHERE occupant_id = $1
			  AND day < $2
			ORDER BY day DESC
			LIMIT $3
		) recent
		ORDER BY day ASC
	`
	rows, err := r.db.QueryContext(ctx, query, occupantID, truncateDay(before), days)
	if err != nil {
		return nil, fmt.Errorf("failed to list daily vectors: %w", err)
	}
	defer rows.Close()

	var vectors []models.DailyVector
	for rows.Next() {
		var v models.DailyVector
		if err := rows.Scan(
			&v.OccupantID,
			&v.Day,
			&v.TotalActiveMinutes,
			&v.LongestInactiveMinutes,
			&v.ExitCount,
			&v.AvgTemperature,
		); err != nil {
			return nil, fmt.Errorf("failed to scan daily vector: %w", err)
		}
		vectors = append(vectors, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate daily vectors: %w", err)
	}

	r.logger.Debug("Loaded daily history",
		zap.String("occupant_id", occupantID),
		zap.Int("days", len(vectors)),
	)
	return vectors, nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
