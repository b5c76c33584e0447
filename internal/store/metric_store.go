package store

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/fieldops/controlplane/internal/domain/metricpoint"
)

// MetricStore implements the metric store contract (§6 external
// interfaces): idempotent upsert keyed by (sensor_id, ts), range scan, and
// per-sensor COUNT/MIN/MAX(ts) aggregates.
type MetricStore struct {
	db *DB
}

// NewMetricStore builds a MetricStore over db.
func NewMetricStore(db *DB) *MetricStore { return &MetricStore{db: db} }

const createMetricPointsTableSQL = `
CREATE TABLE IF NOT EXISTS metric_points (
	sensor_id TEXT NOT NULL,
	ts        TIMESTAMPTZ NOT NULL,
	value     DOUBLE PRECISION NOT NULL,
	quality   SMALLINT NOT NULL,
	PRIMARY KEY (sensor_id, ts)
);
`

// EnsureSchema creates the metric_points table if it does not exist.
func (s *MetricStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, createMetricPointsTableSQL)
	return err
}

// UpsertBatch writes points with conflict policy "overwrite if new value is
// not NaN," satisfying idempotent re-delivery: redelivering the same
// (sensor_id, ts) with the same value is a no-op; the last delivery's
// value always wins.
func (s *MetricStore) UpsertBatch(ctx context.Context, points []metricpoint.MetricPoint) error {
	if len(points) == 0 {
		return nil
	}
	start := time.Now()
	err := s.db.WithTx(ctx, func(ctx context.Context) error {
		q := s.db.queryerFrom(ctx)
		for _, p := range points {
			if math.IsNaN(p.Value) {
				continue
			}
			_, err := q.ExecContext(ctx, `
				INSERT INTO metric_points (sensor_id, ts, value, quality)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (sensor_id, ts) DO UPDATE
					SET value = EXCLUDED.value, quality = EXCLUDED.quality
					WHERE NOT isnan(EXCLUDED.value)`,
				p.SensorID, p.TS, p.Value, p.Quality,
			)
			if err != nil {
				return fmt.Errorf("store: upsert metric point: %w", err)
			}
		}
		return nil
	})
	s.db.recordQuery(ctx, "metric_points.upsert_batch", start, err)
	return err
}

// RangeScan returns points for sensorID with ts in [from, to], ordered by
// ts ascending.
func (s *MetricStore) RangeScan(ctx context.Context, sensorID string, from, to time.Time) ([]metricpoint.MetricPoint, error) {
	start := time.Now()
	rows, err := s.db.QueryxContext(ctx, `
		SELECT sensor_id, ts, value, quality FROM metric_points
		WHERE sensor_id = $1 AND ts >= $2 AND ts <= $3
		ORDER BY ts ASC`,
		sensorID, from, to,
	)
	s.db.recordQuery(ctx, "metric_points.range_scan", start, err)
	if err != nil {
		return nil, fmt.Errorf("store: range scan: %w", err)
	}
	defer rows.Close()

	var out []metricpoint.MetricPoint
	for rows.Next() {
		var p metricpoint.MetricPoint
		if err := rows.Scan(&p.SensorID, &p.TS, &p.Value, &p.Quality); err != nil {
			return nil, fmt.Errorf("store: scan metric point: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// LatestPoint returns the most recent accepted point for sensorID, or
// ErrNoRows if none exist.
func (s *MetricStore) LatestPoint(ctx context.Context, sensorID string) (metricpoint.MetricPoint, error) {
	var p metricpoint.MetricPoint
	err := s.db.GetContext(ctx, &p, `
		SELECT sensor_id, ts, value, quality FROM metric_points
		WHERE sensor_id = $1 ORDER BY ts DESC LIMIT 1`, sensorID)
	return p, err
}

// SensorAggregate is the COUNT/MIN/MAX(ts) aggregate per sensor the
// external interfaces contract names.
type SensorAggregate struct {
	SensorID string
	Count    int64
	MinTS    *time.Time
	MaxTS    *time.Time
}

// Aggregate computes SensorAggregate for sensorID.
func (s *MetricStore) Aggregate(ctx context.Context, sensorID string) (SensorAggregate, error) {
	var agg SensorAggregate
	agg.SensorID = sensorID
	err := s.db.QueryRowxContext(ctx, `
		SELECT COUNT(*), MIN(ts), MAX(ts) FROM metric_points WHERE sensor_id = $1`,
		sensorID,
	).Scan(&agg.Count, &agg.MinTS, &agg.MaxTS)
	return agg, err
}

// Purge deletes points for sensorID with ts in [start, end], the Ops CLI's
// purge window contract.
func (s *MetricStore) Purge(ctx context.Context, sensorID string, start, end time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM metric_points WHERE sensor_id = $1 AND ts >= $2 AND ts <= $3`,
		sensorID, start, end,
	)
	if err != nil {
		return 0, fmt.Errorf("store: purge: %w", err)
	}
	return res.RowsAffected()
}

// SealedWindowRows returns rows with ts in (previousTS, throughTS], ordered
// by (sensor_id, ts), the export the Replication Ticker writes into the
// lake on each successful tick.
func (s *MetricStore) SealedWindowRows(ctx context.Context, previousTS, throughTS time.Time) ([]metricpoint.MetricPoint, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT sensor_id, ts, value, quality FROM metric_points
		WHERE ts > $1 AND ts <= $2
		ORDER BY sensor_id ASC, ts ASC`,
		previousTS, throughTS,
	)
	if err != nil {
		return nil, fmt.Errorf("store: sealed window rows: %w", err)
	}
	defer rows.Close()

	var out []metricpoint.MetricPoint
	for rows.Next() {
		var p metricpoint.MetricPoint
		if err := rows.Scan(&p.SensorID, &p.TS, &p.Value, &p.Quality); err != nil {
			return nil, fmt.Errorf("store: scan sealed window row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
