package ingest

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLivenessStateRecordSampleAndLookup(t *testing.T) {
	ls := NewLivenessState()
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	sampleTS := now.Add(-1 * time.Second)

	_, ok := ls.SensorLastSeen("sensor-1")
	require.False(t, ok)

	ls.RecordSample("sensor-1", "node-1", sampleTS, now)

	lastSeen, ok := ls.SensorLastSeen("sensor-1")
	require.True(t, ok)
	require.Equal(t, now, lastSeen)

	nodeSeen, ok := ls.NodeLastMetricSeen("node-1")
	require.True(t, ok)
	require.Equal(t, now, nodeSeen)
}

func TestLivenessStateSampleTSOnlyAdvances(t *testing.T) {
	ls := NewLivenessState()
	t0 := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)

	ls.RecordSample("sensor-1", "node-1", t0, t0)
	ls.RecordSample("sensor-1", "node-1", t0.Add(-5*time.Second), t0.Add(1*time.Second))

	lastSeen, ok := ls.SensorLastSeen("sensor-1")
	require.True(t, ok)
	require.Equal(t, t0.Add(1*time.Second), lastSeen)
}

func TestLivenessStateShardsIndependentKeys(t *testing.T) {
	ls := NewLivenessState()
	now := time.Now().UTC()
	for i := 0; i < 100; i++ {
		ls.RecordSample(fmt.Sprintf("sensor-%d", i), fmt.Sprintf("node-%d", i), now, now)
	}
	_, ok := ls.SensorLastSeen("sensor-42")
	require.True(t, ok)
}
