package queries

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/OldStager01/egress-gateway/pkg/models"
)

type PoolSampleRepository struct {
	db *sql.DB
}

func NewPoolSampleRepository(db *sql.DB) *PoolSampleRepository {
	return &PoolSampleRepository{db: db}
}

func (r *PoolSampleRepository) GetRaw(ctx context.Context, from, to time.Time, limit int) ([]models.PoolSample, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT time, tier, provisioning, healthy, degraded, unhealthy, retiring,
			   ceiling, active_leases, queue_depth, admitted, rejected, timed_out
		FROM pool_samples
		WHERE time >= $1 AND time <= $2
		ORDER BY time DESC
		LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []models.PoolSample
	for rows.Next() {
		var s models.PoolSample
		err := rows.Scan(
			&s.Time, &s.Tier, &s.Provisioning, &s.Healthy, &s.Degraded, &s.Unhealthy, &s.Retiring,
			&s.Ceiling, &s.ActiveLeases, &s.QueueDepth, &s.Admitted, &s.Rejected, &s.TimedOut,
		)
		if err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}

	return samples, rows.Err()
}

// GetAggregated buckets samples by bucketMinutes. Admitted and rejected are
// cumulative counters, so each bucket reports their growth.
func (r *PoolSampleRepository) GetAggregated(ctx context.Context, from, to time.Time, bucketMinutes int) ([]models.AggregatedSample, error) {
	if bucketMinutes <= 0 {
		bucketMinutes = 5
	}

	query := `
		SELECT
			date_bin($3::interval, time, TIMESTAMPTZ '2000-01-01') AS bucket,
			AVG(healthy) AS avg_healthy,
			MIN(healthy) AS min_healthy,
			AVG(ceiling) AS avg_ceiling,
			AVG(active_leases) AS avg_active,
			MAX(active_leases) AS max_active,
			MAX(queue_depth) AS max_queue_depth,
			MAX(admitted) - MIN(admitted) AS admitted_delta,
			MAX(rejected) - MIN(rejected) AS rejected_delta,
			COUNT(*) AS sample_count
		FROM pool_samples
		WHERE time >= $1 AND time <= $2
		GROUP BY bucket
		ORDER BY bucket DESC`

	interval := fmt.Sprintf("%d minutes", bucketMinutes)
	rows, err := r.db.QueryContext(ctx, query, from, to, interval)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var buckets []models.AggregatedSample
	for rows.Next() {
		var a models.AggregatedSample
		err := rows.Scan(
			&a.Time, &a.AvgHealthy, &a.MinHealthy, &a.AvgCeiling, &a.AvgActive, &a.MaxActive,
			&a.MaxQueueDepth, &a.AdmittedDelta, &a.RejectedDelta, &a.SampleCount,
		)
		if err != nil {
			return nil, err
		}
		buckets = append(buckets, a)
	}

	return buckets, rows.Err()
}

func (r *PoolSampleRepository) Insert(ctx context.Context, s *models.PoolSample) error {
	query := `
		INSERT INTO pool_samples
			(time, tier, provisioning, healthy, degraded, unhealthy, retiring,
			 ceiling, active_leases, queue_depth, admitted, rejected, timed_out)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.db.ExecContext(ctx, query,
		s.Time, s.Tier, s.Provisioning, s.Healthy, s.Degraded, s.Unhealthy, s.Retiring,
		s.Ceiling, s.ActiveLeases, s.QueueDepth, s.Admitted, s.Rejected, s.TimedOut,
	)
	return err
}

// DeleteBefore prunes samples older than cutoff.
func (r *PoolSampleRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM pool_samples WHERE time < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
