package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fieldops/controlplane/internal/domain/sensor"
)

// SensorStore implements the read/write accessors for sensors and nodes —
// the registry the Ingest Sidecar, Liveness Monitor, and Alarm Engine all
// read against.
type SensorStore struct {
	db *DB
}

// NewSensorStore builds a SensorStore over db.
func NewSensorStore(db *DB) *SensorStore { return &SensorStore{db: db} }

const createSensorTablesSQL = `
CREATE TABLE IF NOT EXISTS nodes (
	id                      TEXT PRIMARY KEY,
	last_seen               TIMESTAMPTZ,
	liveness                TEXT NOT NULL DEFAULT 'offline',
	heartbeat_hint_seconds  BIGINT,
	config                  JSONB NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS sensors (
	id                  TEXT PRIMARY KEY,
	node_id             TEXT NOT NULL REFERENCES nodes(id),
	type                TEXT NOT NULL,
	unit                TEXT NOT NULL DEFAULT '',
	interval_seconds    BIGINT NOT NULL DEFAULT 0,
	rolling_avg_seconds BIGINT NOT NULL DEFAULT 0,
	config              JSONB NOT NULL DEFAULT '{}',
	deleted_at          TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS sensors_node_id_idx ON sensors (node_id);
`

// EnsureSchema creates the nodes/sensors tables if they do not exist.
func (s *SensorStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, createSensorTablesSQL)
	return err
}

type nodeRow struct {
	ID            string          `db:"id"`
	LastSeen      sql.NullTime    `db:"last_seen"`
	Liveness      string          `db:"liveness"`
	HeartbeatHint sql.NullInt64   `db:"heartbeat_hint_seconds"`
	Config        json.RawMessage `db:"config"`
}

func (r nodeRow) toDomain() sensor.Node {
	n := sensor.Node{
		ID:       r.ID,
		Liveness: sensor.LivenessStatus(r.Liveness),
	}
	if r.LastSeen.Valid {
		n.LastSeen = r.LastSeen.Time
	}
	if r.HeartbeatHint.Valid {
		n.HeartbeatHint = time.Duration(r.HeartbeatHint.Int64) * time.Second
	}
	_ = json.Unmarshal(r.Config, &n.Config)
	return n
}

// GetNode returns one node by id.
func (s *SensorStore) GetNode(ctx context.Context, id string) (sensor.Node, error) {
	var row nodeRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM nodes WHERE id = $1`, id)
	if err != nil {
		return sensor.Node{}, err
	}
	return row.toDomain(), nil
}

// ListNodes returns every node.
func (s *SensorStore) ListNodes(ctx context.Context) ([]sensor.Node, error) {
	var rows []nodeRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM nodes`); err != nil {
		return nil, fmt.Errorf("store: list nodes: %w", err)
	}
	out := make([]sensor.Node, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

// UpsertNode inserts or updates a node's config, leaving last_seen/liveness
// untouched (those are owned by the Liveness Monitor's transitions).
func (s *SensorStore) UpsertNode(ctx context.Context, n sensor.Node) error {
	cfg, err := json.Marshal(n.Config)
	if err != nil {
		return fmt.Errorf("store: marshal node config: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO nodes (id, config) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET config = EXCLUDED.config`,
		n.ID, cfg,
	)
	if err != nil {
		return fmt.Errorf("store: upsert node: %w", err)
	}
	return nil
}

// MarkSeen updates a node's last_seen and liveness, the Ingest Sidecar's
// per-batch side effect and the Liveness Monitor's transition write.
func (s *SensorStore) MarkSeen(ctx context.Context, nodeID string, at time.Time, liveness sensor.LivenessStatus) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE nodes SET last_seen = $2, liveness = $3 WHERE id = $1`,
		nodeID, at, string(liveness),
	)
	if err != nil {
		return fmt.Errorf("store: mark node seen: %w", err)
	}
	return nil
}

type sensorRow struct {
	ID                string          `db:"id"`
	NodeID            string          `db:"node_id"`
	Type              string          `db:"type"`
	Unit              string          `db:"unit"`
	IntervalSeconds   int64           `db:"interval_seconds"`
	RollingAvgSeconds int64           `db:"rolling_avg_seconds"`
	Config            json.RawMessage `db:"config"`
	DeletedAt         sql.NullTime    `db:"deleted_at"`
}

func (r sensorRow) toDomain() sensor.Sensor {
	sn := sensor.Sensor{
		ID:                r.ID,
		NodeID:            r.NodeID,
		Type:              r.Type,
		Unit:              r.Unit,
		IntervalSeconds:   r.IntervalSeconds,
		RollingAvgSeconds: r.RollingAvgSeconds,
	}
	_ = json.Unmarshal(r.Config, &sn.Config)
	if r.DeletedAt.Valid {
		sn.DeletedAt = &r.DeletedAt.Time
	}
	return sn
}

// GetSensor returns one sensor by id, including soft-deleted ones.
func (s *SensorStore) GetSensor(ctx context.Context, id string) (sensor.Sensor, error) {
	var row sensorRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM sensors WHERE id = $1`, id)
	if err != nil {
		return sensor.Sensor{}, err
	}
	return row.toDomain(), nil
}

// ListSensorsByNode returns every non-deleted sensor on nodeID.
func (s *SensorStore) ListSensorsByNode(ctx context.Context, nodeID string) ([]sensor.Sensor, error) {
	var rows []sensorRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM sensors WHERE node_id = $1 AND deleted_at IS NULL`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("store: list sensors by node: %w", err)
	}
	out := make([]sensor.Sensor, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

// ListActive returns every non-deleted sensor across all nodes, the set the
// Liveness Monitor and Alarm Engine sweep each tick.
func (s *SensorStore) ListActive(ctx context.Context) ([]sensor.Sensor, error) {
	var rows []sensorRow
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM sensors WHERE deleted_at IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("store: list active sensors: %w", err)
	}
	out := make([]sensor.Sensor, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

// UpsertSensor inserts or updates a sensor's registration.
func (s *SensorStore) UpsertSensor(ctx context.Context, sn sensor.Sensor) error {
	cfg, err := json.Marshal(sn.Config)
	if err != nil {
		return fmt.Errorf("store: marshal sensor config: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sensors (id, node_id, type, unit, interval_seconds, rolling_avg_seconds, config)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type, unit = EXCLUDED.unit,
			interval_seconds = EXCLUDED.interval_seconds,
			rolling_avg_seconds = EXCLUDED.rolling_avg_seconds,
			config = EXCLUDED.config`,
		sn.ID, sn.NodeID, sn.Type, sn.Unit, sn.IntervalSeconds, sn.RollingAvgSeconds, cfg,
	)
	if err != nil {
		return fmt.Errorf("store: upsert sensor: %w", err)
	}
	return nil
}

// SoftDelete marks a sensor deleted at the given time.
func (s *SensorStore) SoftDelete(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sensors SET deleted_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("store: soft delete sensor: %w", err)
	}
	return nil
}
