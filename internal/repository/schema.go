package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaStatements 监护核心使用的表
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS alert_events (
		event_id           UUID PRIMARY KEY,
		node_id            TEXT NOT NULL,
		occupant_id        TEXT,
		event_type         TEXT NOT NULL,
		category           TEXT NOT NULL,
		alert_level        TEXT NOT NULL,
		alert_status       TEXT NOT NULL DEFAULT 'active',
		triggered_at       TIMESTAMPTZ NOT NULL,
		acknowledged_at    TIMESTAMPTZ,
		trigger_data       JSONB,
		narrative          TEXT,
		recommended_action TEXT,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alert_events_node_type
		ON alert_events (node_id, event_type, triggered_at DESC)`,
	`CREATE TABLE IF NOT EXISTS daily_behavior (
		occupant_id              TEXT NOT NULL,
		day                      DATE NOT NULL,
		total_active_minutes     DOUBLE PRECISION NOT NULL,
		longest_inactive_minutes DOUBLE PRECISION NOT NULL,
		exit_count               DOUBLE PRECISION NOT NULL,
		avg_temperature          DOUBLE PRECISION NOT NULL,
		drift_score              DOUBLE PRECISION,
		PRIMARY KEY (occupant_id, day)
	)`,
}

// EnsureSchema 创建缺失的表和索引
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
