package queries

import (
	"context"
	"database/sql"
	"time"

	"github.com/OldStager01/egress-gateway/pkg/models"
)

type ScalingEventRepository struct {
	db *sql.DB
}

func NewScalingEventRepository(db *sql.DB) *ScalingEventRepository {
	return &ScalingEventRepository{db: db}
}

func (r *ScalingEventRepository) GetRecent(ctx context.Context, limit int) ([]models.ScalingEvent, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, occurred_at, action, members_before, members_after,
			   trigger_reason, replacement, status
		FROM scaling_events
		ORDER BY occurred_at DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.ScalingEvent
	for rows.Next() {
		var e models.ScalingEvent
		err := rows.Scan(
			&e.ID, &e.Timestamp, &e.Action,
			&e.MembersBefore, &e.MembersAfter, &e.TriggerReason,
			&e.Replacement, &e.Status,
		)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

func (r *ScalingEventRepository) GetStats(ctx context.Context, from, to time.Time) (*ScalingStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE action = 'SCALE_UP') AS scale_up_count,
			COUNT(*) FILTER (WHERE action = 'SCALE_DOWN') AS scale_down_count,
			COUNT(*) FILTER (WHERE status = 'success') AS success_count,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed_count,
			COUNT(*) FILTER (WHERE replacement = true) AS replacement_count
		FROM scaling_events
		WHERE occurred_at >= $1 AND occurred_at <= $2`

	var stats ScalingStats
	err := r.db.QueryRowContext(ctx, query, from, to).Scan(
		&stats.ScaleUpCount, &stats.ScaleDownCount,
		&stats.SuccessCount, &stats.FailedCount, &stats.ReplacementCount,
	)
	if err != nil {
		return nil, err
	}

	stats.From = from
	stats.To = to

	return &stats, nil
}

func (r *ScalingEventRepository) Insert(ctx context.Context, event *models.ScalingEvent) error {
	query := `
		INSERT INTO scaling_events
			(occurred_at, action, members_before, members_after,
			 trigger_reason, replacement, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	return r.db.QueryRowContext(ctx, query,
		event.Timestamp,
		event.Action,
		event.MembersBefore,
		event.MembersAfter,
		event.TriggerReason,
		event.Replacement,
		event.Status,
	).Scan(&event.ID)
}

type ScalingStats struct {
	From             time.Time `json:"from"`
	To               time.Time `json:"to"`
	ScaleUpCount     int       `json:"scale_up_count"`
	ScaleDownCount   int       `json:"scale_down_count"`
	SuccessCount     int       `json:"success_count"`
	FailedCount      int       `json:"failed_count"`
	ReplacementCount int       `json:"replacement_count"`
}
