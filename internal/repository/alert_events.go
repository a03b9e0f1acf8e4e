package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// AlertEventsRepository 报警事件仓库
type AlertEventsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertEventsRepository 创建报警事件仓库
func NewAlertEventsRepository(db *sql.DB, logger *zap.Logger) *AlertEventsRepository {
	return &AlertEventsRepository{
		db:     db,
		logger: logger,
	}
}

// AlertEventFilters 报警事件过滤条件
type AlertEventFilters struct {
	StartTime   *time.Time // triggered_at >= StartTime
	EndTime     *time.Time // triggered_at <= EndTime
	NodeID      *string
	OccupantID  *string
	EventType   *string
	AlertLevels []string // ANY 查询
	AlertStatus *string
}

const alertEventColumns = `
			event_id,
			node_id,
			occupant_id,
			event_type,
			category,
			alert_level,
			alert_status,
			triggered_at,
			acknowledged_at,
			trigger_data,
			narrative,
			recommended_action,
			created_at`

// CreateAlertEvent 写入报警事件
func (r *AlertEventsRepository) CreateAlertEvent(ctx context.Context, event *models.AlertEvent) error {
	if event.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if event.NodeID == "" {
		return fmt.Errorf("node_id is required")
	}

	query := `
		INSERT INTO alert_events (` + alertEventColumns + `
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.db.ExecContext(ctx, query,
		event.EventID,
		event.NodeID,
		nullString(event.OccupantID),
		event.EventType,
		event.Category,
		event.AlertLevel,
		event.AlertStatus,
		event.TriggeredAt,
		event.AcknowledgedAt,
		event.TriggerData,
		event.Narrative,
		event.RecommendedAction,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create alert event: %w", err)
	}

	r.logger.Debug("Alert event created",
		zap.String("event_id", event.EventID),
		zap.String("node_id", event.NodeID),
		zap.String("event_type", event.EventType),
	)
	return nil
}

// GetAlertEvent 根据 event_id 获取报警事件
func (r *AlertEventsRepository) GetAlertEvent(ctx context.Context, eventID string) (*models.AlertEvent, error) {
	if eventID == "" {
		return nil, fmt.Errorf("event_id is required")
	}

	query := `SELECT` + alertEventColumns + `
		FROM alert_events
		WHERE event_id = $1
	`
	event, err := scanAlertEvent(r.db.QueryRowContext(ctx, query, eventID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("alert event not found: event_id=%s", eventID)
		}
		return nil, fmt.Errorf("failed to get alert event: %w", err)
	}
	return event, nil
}

// ListAlertEvents 按条件查询报警事件（按触发时间倒序）
func (r *AlertEventsRepository) ListAlertEvents(ctx context.Context, filters AlertEventFilters, limit int) ([]models.AlertEvent, error) {
	var conditions []string
	var args []interface{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}

	if filters.StartTime != nil {
		add("triggered_at >= $%d", *filters.StartTime)
	}
	if filters.EndTime != nil {
		add("triggered_at <= $%d", *filters.EndTime)
	}
	if filters.NodeID != nil {
		add("node_id = $%d", *filters.NodeID)
	}
	if filters.OccupantID != nil {
		add("occupant_id = $%d", *filters.OccupantID)
	}
	if filters.EventType != nil {
		add("event_type = $%d", *filters.EventType)
	}
	if filters.AlertStatus != nil {
		add("alert_status = $%d", *filters.AlertStatus)
	}
	if len(filters.AlertLevels) > 0 {
		add("alert_level = ANY($%d)", pq.Array(filters.AlertLevels))
	}

	query := `SELECT` + alertEventColumns + `
		FROM alert_events`
	if len(conditions) > 0 {
		query += "\n\t\tWHERE " + strings.Join(conditions, " AND ")
	}
	query += "\n\t\tORDER BY triggered_at DESC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert events: %w", err)
	}
	defer rows.Close()

	var events []models.AlertEvent
	for rows.Next() {
		event, err := scanAlertEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert event: %w", err)
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alert events: %w", err)
	}
	return events, nil
}

// AcknowledgeAlertEvent 确认报警
func (r *AlertEventsRepository) AcknowledgeAlertEvent(ctx context.Context, eventID string, at time.Time) error {
	query := `
		UPDATE alert_events
		SET alert_status = 'acknowledged',
		    acknowledged_at = $2
		WHERE event_id = $1
		  AND alert_status = 'active'
	`
	result, err := r.db.ExecContext(ctx, query, eventID, at)
	if err != nil {
		return fmt.Errorf("failed to acknowledge alert event: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("active alert event not found: event_id=%s", eventID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlertEvent(row rowScanner) (*models.AlertEvent, error) {
	var event models.AlertEvent
	var occupantID, narrative, action sql.NullString
	var acknowledgedAt sql.NullTime
	var triggerData []byte

	err := row.Scan(
		&event.EventID,
		&event.NodeID,
		&occupantID,
		&event.EventType,
		&event.Category,
		&event.AlertLevel,
		&event.AlertStatus,
		&event.TriggeredAt,
		&acknowledgedAt,
		&triggerData,
		&narrative,
		&action,
		&event.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	// 处理可空字段
	event.OccupantID = occupantID.String
	event.Narrative = narrative.String
	event.RecommendedAction = action.String
	event.TriggerData = string(triggerData)
	if acknowledgedAt.Valid {
		t := acknowledgedAt.Time
		event.AcknowledgedAt = &t
	}
	return &event, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
