// Package lakedomain defines the LakeManifest, the authoritative JSON
// describing which partitions live on hot vs. cold storage and how far
// replication has advanced. Mutated exclusively by the Replication Ticker
// and the lake_move_partition administrative job.
package lakedomain

import "time"

// Location is where a partition's data currently lives.
type Location string

const (
	LocationHot  Location = "hot"
	LocationCold Location = "cold"
)

// Partition describes one date partition of a dataset.
type Partition struct {
	Location        Location   `json:"location"`
	UpdatedAt       time.Time  `json:"updated_at"`
	LastCompactedAt *time.Time `json:"last_compacted_at,omitempty"`
	FileCount       *int       `json:"file_count,omitempty"`
}

// Dataset groups partitions and tracks replication progress.
type Dataset struct {
	Partitions        map[string]Partition `json:"partitions"` // date "YYYY-MM-DD" -> Partition
	ComputedThroughTS *time.Time           `json:"computed_through_ts,omitempty"`
}

// Manifest is the root document at <hot_root>/_state/manifest.json.
type Manifest struct {
	SchemaVersion int                `json:"schema_version"`
	Datasets      map[string]Dataset `json:"datasets"`
}

// CurrentSchemaVersion is the manifest schema this repo writes and reads.
const CurrentSchemaVersion = 1

// NewManifest returns an empty, valid manifest.
func NewManifest() Manifest {
	return Manifest{SchemaVersion: CurrentSchemaVersion, Datasets: map[string]Dataset{}}
}

// MetricsDatasetV1 is the canonical per-sample dataset name.
const MetricsDatasetV1 = "metrics/v1"
