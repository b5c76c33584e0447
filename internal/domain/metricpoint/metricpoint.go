// Package metricpoint defines the MetricPoint tuple the Ingest Sidecar
// exclusively writes and every other component reads.
package metricpoint

import "time"

// MetricPoint is one accepted sample. Primary key is (SensorID, TS); values
// are invariant under idempotent re-delivery of the same key.
type MetricPoint struct {
	SensorID string
	TS       time.Time
	Value    float64
	Quality  int16
}

// Key returns the MetricPoint's primary key as a comparable value, used by
// the sidecar's idempotent-upsert path and by tests asserting Testable
// Property 1.
type Key struct {
	SensorID string
	TS       time.Time
}

func (p MetricPoint) Key() Key { return Key{SensorID: p.SensorID, TS: p.TS} }
