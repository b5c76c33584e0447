package ingest

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const livenessShardCount = 32

type sensorLivenessEntry struct {
	lastSampleTS time.Time
	lastSeen     time.Time
}

type nodeLivenessEntry struct {
	lastMetricSeen time.Time
}

type livenessShard struct {
	mu      sync.Mutex
	sensors map[string]sensorLivenessEntry
	nodes   map[string]nodeLivenessEntry
}

// LivenessState is the sidecar's shared liveness snapshot: per-sensor and
// per-node last-seen timestamps, sharded by hashed key rather than guarded
// by one coarse mutex, so updates from many concurrent topic consumers
// don't serialize on a single lock (the scanner that reads this state is a
// single periodic goroutine, so "eventually observed" is all it needs).
type LivenessState struct {
	shards [livenessShardCount]*livenessShard
}

// NewLivenessState builds an empty LivenessState.
func NewLivenessState() *LivenessState {
	ls := &LivenessState{}
	for i := range ls.shards {
		ls.shards[i] = &livenessShard{
			sensors: make(map[string]sensorLivenessEntry),
			nodes:   make(map[string]nodeLivenessEntry),
		}
	}
	return ls
}

func (ls *LivenessState) shardFor(key string) *livenessShard {
	h := xxhash.Sum64String(key)
	return ls.shards[h%livenessShardCount]
}

// RecordSample updates the sensor's last-sample/last-seen timestamps and
// the owning node's last-metric-seen timestamp, the pre-filter liveness
// side effect every received sample produces regardless of COV outcome.
func (ls *LivenessState) RecordSample(sensorID, nodeID string, sampleTS, now time.Time) {
	s := ls.shardFor(sensorID)
	s.mu.Lock()
	entry := s.sensors[sensorID]
	if sampleTS.After(entry.lastSampleTS) {
		entry.lastSampleTS = sampleTS
	}
	entry.lastSeen = now
	s.sensors[sensorID] = entry
	s.mu.Unlock()

	n := ls.shardFor(nodeID)
	n.mu.Lock()
	nEntry := n.nodes[nodeID]
	nEntry.lastMetricSeen = now
	n.nodes[nodeID] = nEntry
	n.mu.Unlock()
}

// SensorSnapshot is a point-in-time read of one sensor's liveness state.
type SensorSnapshot struct {
	SensorID     string
	LastSampleTS time.Time
	LastSeen     time.Time
}

// SensorLastSeen returns the sensor's last-seen timestamp and whether any
// sample has ever been recorded for it.
func (ls *LivenessState) SensorLastSeen(sensorID string) (time.Time, bool) {
	s := ls.shardFor(sensorID)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sensors[sensorID]
	return e.lastSeen, ok
}

// NodeLastMetricSeen returns the node's last-metric-seen timestamp and
// whether any sample routed through it has ever been recorded.
func (ls *LivenessState) NodeLastMetricSeen(nodeID string) (time.Time, bool) {
	n := ls.shardFor(nodeID)
	n.mu.Lock()
	defer n.mu.Unlock()
	e, ok := n.nodes[nodeID]
	return e.lastMetricSeen, ok
}
